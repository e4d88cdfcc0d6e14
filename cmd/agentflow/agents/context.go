package agents

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lyzr/agentflow/cmd/agentflow/state"
)

const (
	// MaxToolIterations bounds the provider/tool loop per agent node.
	MaxToolIterations = 10

	// MaxToolOutputChars bounds a single tool result and each
	// intermediate value rendered into the context turn.
	MaxToolOutputChars = 180000

	truncationMarker = "[TRUNCATED ...]"
)

// BuildContext renders the user turn for an agent node: input as `k: v`
// lines, intermediate results as `[key]` blocks, and the parallel item
// when the node runs inside a fan-out.
func BuildContext(st state.State) string {
	var sections []string

	if input := st.Input(); len(input) > 0 {
		lines := make([]string, 0, len(input))
		for _, k := range sortedKeys(input) {
			lines = append(lines, fmt.Sprintf("%s: %s", k, renderValue(input[k])))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if intermediate := st.Intermediate(); len(intermediate) > 0 {
		blocks := make([]string, 0, len(intermediate))
		for _, k := range sortedKeys(intermediate) {
			blocks = append(blocks, fmt.Sprintf("[%s]\n%s", k, truncateOutput(renderValue(intermediate[k]))))
		}
		sections = append(sections, "Context:\n"+strings.Join(blocks, "\n\n"))
	}

	if item, ok := st[state.KeyParallelItem]; ok {
		lines := []string{fmt.Sprintf("parallel_item: %s", renderValue(item))}
		if idx, ok := st[state.KeyParallelIndex]; ok {
			lines = append(lines, fmt.Sprintf("parallel_index: %s", renderValue(idx)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// truncateOutput replaces the tail of an oversized value with a marker,
// keeping the result within MaxToolOutputChars.
func truncateOutput(s string) string {
	if len(s) <= MaxToolOutputChars {
		return s
	}
	cut := MaxToolOutputChars - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker
}
