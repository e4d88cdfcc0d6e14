// Package condition evaluates workflow routing expressions against
// execution state.
//
// The language is a restricted expression grammar: literals, lookups on
// the state document (state['key'], state.get('key', default), nested
// indexing), comparisons, membership tests, boolean operators with
// short-circuit evaluation, and basic arithmetic. Numbers follow a
// float64 model and truthiness follows scripting conventions (empty
// strings, lists, maps and zero are false).
package condition

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
)

// Evaluator parses and evaluates condition expressions. Parsed programs
// are cached, so evaluating the same expression across executions only
// pays the parse cost once. Safe for concurrent use.
type Evaluator struct {
	cacheMu sync.RWMutex
	cache   map[string]expr
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]expr)}
}

// Evaluate runs a condition against the state and coerces the result to
// a boolean. A parse or runtime failure returns false with the error;
// callers decide whether that fails the route or falls through.
func (e *Evaluator) Evaluate(conditionStr string, st map[string]interface{}) (bool, error) {
	program, err := e.program(conditionStr)
	if err != nil {
		return false, err
	}
	result, err := program.eval(st)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", conditionStr, err)
	}
	return truthy(result), nil
}

// Validate checks that an expression parses. Used at workflow
// create/update time so malformed conditions are rejected before any
// execution runs them.
func (e *Evaluator) Validate(conditionStr string) error {
	if strings.TrimSpace(conditionStr) == "" {
		return fmt.Errorf("condition is empty")
	}
	if _, err := e.program(conditionStr); err != nil {
		return fmt.Errorf("invalid condition %q: %w", conditionStr, err)
	}
	return nil
}

// ClearCache drops all cached programs.
func (e *Evaluator) ClearCache() {
	e.cacheMu.Lock()
	e.cache = make(map[string]expr)
	e.cacheMu.Unlock()
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	return len(e.cache)
}

func (e *Evaluator) program(conditionStr string) (expr, error) {
	e.cacheMu.RLock()
	program, ok := e.cache[conditionStr]
	e.cacheMu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := parse(conditionStr)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache[conditionStr] = program
	e.cacheMu.Unlock()
	return program, nil
}

func (l *literal) eval(map[string]interface{}) (interface{}, error) {
	return l.value, nil
}

func (*stateRef) eval(st map[string]interface{}) (interface{}, error) {
	return st, nil
}

func (ix *indexExpr) eval(st map[string]interface{}) (interface{}, error) {
	target, err := ix.target.eval(st)
	if err != nil {
		return nil, err
	}
	key, err := ix.key.eval(st)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case map[string]interface{}:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("map index must be a string, got %v", key)
		}
		v, ok := t[k]
		if !ok {
			return nil, fmt.Errorf("key %q not found", k)
		}
		return v, nil
	case []interface{}:
		idx, err := listIndex(key, len(t))
		if err != nil {
			return nil, err
		}
		return t[idx], nil
	case string:
		runes := []rune(t)
		idx, err := listIndex(key, len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[idx]), nil
	case nil:
		return nil, fmt.Errorf("cannot index null value")
	default:
		return nil, fmt.Errorf("cannot index value of type %T", target)
	}
}

func (g *getExpr) eval(st map[string]interface{}) (interface{}, error) {
	target, err := g.target.eval(st)
	if err != nil {
		return nil, err
	}
	m, ok := target.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("get() requires a map, got %T", target)
	}
	key, err := g.key.eval(st)
	if err != nil {
		return nil, err
	}
	k, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("get() key must be a string, got %v", key)
	}
	if v, ok := m[k]; ok {
		return v, nil
	}
	if g.def != nil {
		return g.def.eval(st)
	}
	return nil, nil
}

func (u *unaryExpr) eval(st map[string]interface{}) (interface{}, error) {
	operand, err := u.operand.eval(st)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case "not":
		return !truthy(operand), nil
	case "-":
		f, ok := toFloat(operand)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", operand)
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("unknown unary operator %q", u.op)
	}
}

func (b *boolExpr) eval(st map[string]interface{}) (interface{}, error) {
	left, err := b.left.eval(st)
	if err != nil {
		return nil, err
	}
	// Short-circuit and yield the deciding operand, so expressions like
	// state.get('x') or 'fallback' keep their value.
	switch b.op {
	case "and":
		if !truthy(left) {
			return left, nil
		}
	case "or":
		if truthy(left) {
			return left, nil
		}
	default:
		return nil, fmt.Errorf("unknown boolean operator %q", b.op)
	}
	return b.right.eval(st)
}

func (b *binaryExpr) eval(st map[string]interface{}) (interface{}, error) {
	left, err := b.left.eval(st)
	if err != nil {
		return nil, err
	}
	right, err := b.right.eval(st)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "==":
		return equalValues(left, right), nil
	case "!=":
		return !equalValues(left, right), nil
	case "<", "<=", ">", ">=":
		return orderValues(b.op, left, right)
	case "in":
		return contains(right, left)
	case "not in":
		ok, err := contains(right, left)
		if err != nil {
			return nil, err
		}
		return !ok, nil
	case "+", "-", "*", "/", "%":
		return arithmetic(b.op, left, right)
	default:
		return nil, fmt.Errorf("unknown operator %q", b.op)
	}
}

func listIndex(key interface{}, length int) (int, error) {
	f, ok := toFloat(key)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("list index must be an integer, got %v", key)
	}
	idx := int(f)
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, fmt.Errorf("index %v out of range (length %d)", key, length)
	}
	return idx, nil
}

func arithmetic(op string, left, right interface{}) (interface{}, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := left.([]interface{}); ok {
			if rl, ok := right.([]interface{}); ok {
				out := make([]interface{}, 0, len(ll)+len(rl))
				out = append(out, ll...)
				out = append(out, rl...)
				return out, nil
			}
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q requires numbers, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func orderValues(op string, left, right interface{}) (interface{}, error) {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			switch op {
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot compare %T and %T with %q", left, right, op)
}

func contains(container, item interface{}) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in' on a string requires a string, got %T", item)
		}
		return strings.Contains(c, s), nil
	case []interface{}:
		for _, e := range c {
			if equalValues(e, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		k, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("'in' on a map requires a string key, got %T", item)
		}
		_, present := c[k]
		return present, nil
	case nil:
		return false, fmt.Errorf("'in' on null value")
	default:
		return false, fmt.Errorf("'in' requires a string, list or map, got %T", container)
	}
}

func equalValues(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		// Booleans participate in numeric comparisons like in Python
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}
