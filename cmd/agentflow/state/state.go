package state

// State is the shared document a workflow execution reads and writes.
// Nodes never mutate it directly; they return partial updates that are
// folded in through per-key reducers.
type State map[string]interface{}

// Reserved state keys. Everything else is governed by the workflow's
// declared state_schema.
const (
	KeyInput         = "input"
	KeyOutput        = "output"
	KeyMessages      = "messages"
	KeyIntermediate  = "intermediate"
	KeyCurrentNode   = "current_node"
	KeyError         = "error"
	KeyMetadata      = "metadata"
	KeyParallelItem  = "parallel_item"
	KeyParallelIndex = "parallel_index"
)

// New returns a fresh execution state seeded with the caller's input.
func New(input map[string]interface{}) State {
	s := State{
		KeyInput:        deepCopyMap(input),
		KeyOutput:       nil,
		KeyMessages:     []interface{}{},
		KeyIntermediate: map[string]interface{}{},
		KeyCurrentNode:  "",
		KeyError:        nil,
		KeyMetadata:     map[string]interface{}{},
	}
	if input == nil {
		s[KeyInput] = map[string]interface{}{}
	}
	return s
}

// FromSnapshot rebuilds a state from a persisted checkpoint snapshot.
func FromSnapshot(snapshot map[string]interface{}) State {
	if snapshot == nil {
		return New(nil)
	}
	s := State(deepCopyMap(snapshot))
	if _, ok := s[KeyInput]; !ok {
		s[KeyInput] = map[string]interface{}{}
	}
	if _, ok := s[KeyIntermediate]; !ok {
		s[KeyIntermediate] = map[string]interface{}{}
	}
	if _, ok := s[KeyMessages]; !ok {
		s[KeyMessages] = []interface{}{}
	}
	if _, ok := s[KeyMetadata]; !ok {
		s[KeyMetadata] = map[string]interface{}{}
	}
	return s
}

// Clone returns a deep copy safe to hand to a concurrently running branch.
func (s State) Clone() State {
	return State(deepCopyMap(s))
}

// Snapshot returns a deep copy as a plain map for checkpoint persistence.
func (s State) Snapshot() map[string]interface{} {
	return deepCopyMap(s)
}

// Input returns the immutable caller input, or an empty map.
func (s State) Input() map[string]interface{} {
	if m, ok := s[KeyInput].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// Intermediate returns the per-node output map, or an empty map.
func (s State) Intermediate() map[string]interface{} {
	if m, ok := s[KeyIntermediate].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

// CurrentNode returns the id of the last node that claimed the cursor.
func (s State) CurrentNode() string {
	if v, ok := s[KeyCurrentNode].(string); ok {
		return v
	}
	return ""
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		// Scalars (and anything else JSON-shaped) are immutable enough
		// to share.
		return v
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}
