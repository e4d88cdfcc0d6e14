package ratelimit

// Tier buckets a workflow by how many agent nodes it runs. Agent nodes
// dominate cost through provider calls, so heavier graphs get a smaller
// per-window start budget.
type Tier string

const (
	TierSimple   Tier = "simple"   // no agent nodes
	TierStandard Tier = "standard" // 1-2 agent nodes
	TierHeavy    Tier = "heavy"    // 3+ agent nodes
)

// WindowSeconds is the fixed window shared by all counters.
const WindowSeconds = 60

var tierLimits = map[Tier]int64{
	TierSimple:   100,
	TierStandard: 20,
	TierHeavy:    5,
}

// TierFor buckets a workflow by its agent node count
func TierFor(agentNodes int) Tier {
	switch {
	case agentNodes == 0:
		return TierSimple
	case agentNodes <= 2:
		return TierStandard
	default:
		return TierHeavy
	}
}

// Limit returns the per-window start budget for the tier
func (t Tier) Limit() int64 {
	if limit, ok := tierLimits[t]; ok {
		return limit
	}
	// Unknown tiers get the most restrictive budget
	return tierLimits[TierHeavy]
}
