package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CalculatorTool evaluates arithmetic expressions without touching the
// host beyond basic math: +, -, *, /, //, %, ** and parentheses.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator builtin.
func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Evaluate a mathematical expression. Supports basic arithmetic " +
		"(+, -, *, /, **, %, //) and parentheses. Example: '(2 + 3) * 4'"
}

func (t *CalculatorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "Mathematical expression to evaluate",
			},
		},
		"required": []interface{}{"expression"},
	}
}

func (t *CalculatorTool) Invoke(_ context.Context, args map[string]interface{}) *Result {
	expression, ok := args["expression"].(string)
	if !ok || strings.TrimSpace(expression) == "" {
		return Errorf("expression is required")
	}
	result, err := evalArithmetic(expression)
	if err != nil {
		return Errorf("%v", err)
	}
	return Ok(result)
}

// evalArithmetic evaluates an arithmetic expression with a small
// recursive-descent parser.
//
//	expr   := term (("+"|"-") term)*
//	term   := power (("*"|"/"|"//"|"%") power)*
//	power  := unary ("**" power)?          right associative
//	unary  := ("-"|"+") unary | atom
//	atom   := NUMBER | "(" expr ")"
func evalArithmetic(input string) (float64, error) {
	p := &calcParser{input: []rune(input)}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", string(p.input[p.pos]), p.pos)
	}
	return result, nil
}

type calcParser struct {
	input []rune
	pos   int
}

func (p *calcParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *calcParser) peekOp() string {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return ""
	}
	if p.pos+1 < len(p.input) {
		two := string(p.input[p.pos : p.pos+2])
		if two == "**" || two == "//" {
			return two
		}
	}
	return string(p.input[p.pos])
}

func (p *calcParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peekOp()
		if op != "+" && op != "-" {
			return left, nil
		}
		p.pos += len(op)
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *calcParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peekOp()
		switch op {
		case "*", "/", "//", "%":
		default:
			return left, nil
		}
		p.pos += len(op)
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case "//":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left = math.Floor(left / right)
		case "%":
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *calcParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peekOp() == "**" {
		p.pos += 2
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *calcParser) parseUnary() (float64, error) {
	op := p.peekOp()
	if op == "-" || op == "+" {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.parseAtom()
}

func (p *calcParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (unicode.IsDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("unexpected character %q at position %d", string(p.input[p.pos]), p.pos)
	}
	v, err := strconv.ParseFloat(string(p.input[start:p.pos]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", string(p.input[start:p.pos]))
	}
	return v, nil
}
