package state

// ReducerKind classifies how concurrent writes to a key combine.
type ReducerKind int

const (
	// KindLastWrite replaces the existing value.
	KindLastWrite ReducerKind = iota
	// KindAppend extends a list with the update.
	KindAppend
	// KindMerge shallow-merges map updates into the existing map.
	KindMerge
	// KindImmutable rejects every update after initialisation.
	KindImmutable
)

// Schema maps state keys to reducers. Reserved keys have fixed reducers;
// keys declared in the workflow's state_schema get one derived from their
// declared type (array appends, object merges, anything else last-write).
type Schema struct {
	declared map[string]ReducerKind
}

// NewSchema builds a reducer table from a workflow state_schema. The
// schema is a flat map of key to a {"type": ...} descriptor; a JSON-Schema
// style {"properties": {...}} wrapper is unwrapped first.
func NewSchema(stateSchema map[string]interface{}) *Schema {
	if props, ok := stateSchema["properties"].(map[string]interface{}); ok {
		stateSchema = props
	}
	declared := make(map[string]ReducerKind, len(stateSchema))
	for key, raw := range stateSchema {
		spec, _ := raw.(map[string]interface{})
		typ, _ := spec["type"].(string)
		switch typ {
		case "array":
			declared[key] = KindAppend
		case "object":
			declared[key] = KindMerge
		default:
			declared[key] = KindLastWrite
		}
	}
	return &Schema{declared: declared}
}

// Kind returns the reducer kind governing a key.
func (s *Schema) Kind(key string) ReducerKind {
	switch key {
	case KeyInput:
		return KindImmutable
	case KeyMessages:
		return KindAppend
	case KeyIntermediate, KeyMetadata:
		return KindMerge
	case KeyOutput, KeyCurrentNode, KeyError, KeyParallelItem, KeyParallelIndex:
		return KindLastWrite
	}
	if s != nil && s.declared != nil {
		if kind, ok := s.declared[key]; ok {
			return kind
		}
	}
	return KindLastWrite
}

// Declared reports whether the key was declared in the workflow schema.
func (s *Schema) Declared(key string) bool {
	if s == nil || s.declared == nil {
		return false
	}
	_, ok := s.declared[key]
	return ok
}

// Fold applies a node's partial update to the state under the schema's
// reducers. Input is immutable after initialisation; updates to it are
// dropped. Fold mutates and returns dst.
func (s *Schema) Fold(dst State, update map[string]interface{}) State {
	for key, value := range update {
		switch s.Kind(key) {
		case KindImmutable:
			// input is seeded once at execution start
		case KindAppend:
			dst[key] = appendValue(dst[key], value)
		case KindMerge:
			dst[key] = mergeValue(dst[key], value)
		default:
			dst[key] = deepCopyValue(value)
		}
	}
	return dst
}

func appendValue(existing, update interface{}) interface{} {
	base, _ := existing.([]interface{})
	out := make([]interface{}, 0, len(base)+1)
	out = append(out, base...)
	switch u := update.(type) {
	case nil:
		return out
	case []interface{}:
		for _, e := range u {
			out = append(out, deepCopyValue(e))
		}
	default:
		out = append(out, deepCopyValue(u))
	}
	return out
}

func mergeValue(existing, update interface{}) interface{} {
	upd, ok := update.(map[string]interface{})
	if !ok {
		return deepCopyValue(update)
	}
	base, _ := existing.(map[string]interface{})
	out := make(map[string]interface{}, len(base)+len(upd))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range upd {
		out[k] = deepCopyValue(v)
	}
	return out
}
