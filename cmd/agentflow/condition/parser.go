package condition

import (
	"fmt"
	"strconv"
)

// expr is a parsed condition expression node.
type expr interface {
	eval(st map[string]interface{}) (interface{}, error)
}

type literal struct{ value interface{} }

type stateRef struct{}

type indexExpr struct {
	target expr
	key    expr
}

// getExpr is map lookup with an optional default: expr.get(key[, default])
type getExpr struct {
	target expr
	key    expr
	def    expr
}

type unaryExpr struct {
	op      string
	operand expr
}

type binaryExpr struct {
	op    string
	left  expr
	right expr
}

// boolExpr short-circuits, so it is kept apart from binaryExpr.
type boolExpr struct {
	op    string
	left  expr
	right expr
}

type parser struct {
	tokens []token
	pos    int
}

// parse compiles a condition expression into an AST.
//
// Grammar, loosest binding first:
//
//	expr       := and_expr ("or" and_expr)*
//	and_expr   := not_expr ("and" not_expr)*
//	not_expr   := "not" not_expr | comparison
//	comparison := arith (("=="|"!="|"<"|"<="|">"|">="|"in"|"not in") arith)?
//	arith      := term (("+"|"-") term)*
//	term       := unary (("*"|"/"|"%") unary)*
//	unary      := "-" unary | postfix
//	postfix    := primary ("[" expr "]" | ".get(" expr ("," expr)? ")")*
//	primary    := NUMBER | STRING | "true" | "false" | "null" | "state" | "(" expr ")"
func parse(input string) (expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		t := p.peek()
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	return node, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokenIdent && t.text == word
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s at position %d, got %q", what, t.pos, t.text)
	}
	return p.next(), nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.isKeyword("not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.peek().kind == tokenEq:
		op = "=="
	case p.peek().kind == tokenNeq:
		op = "!="
	case p.peek().kind == tokenLt:
		op = "<"
	case p.peek().kind == tokenLte:
		op = "<="
	case p.peek().kind == tokenGt:
		op = ">"
	case p.peek().kind == tokenGte:
		op = ">="
	case p.isKeyword("in"):
		op = "in"
	case p.isKeyword("not"):
		// "not" after an operand can only begin "not in"
		notTok := p.next()
		if !p.isKeyword("in") {
			return nil, fmt.Errorf("expected 'in' after 'not' at position %d", notTok.pos)
		}
		p.next()
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: "not in", left: left, right: right}, nil
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{op: op, left: left, right: right}, nil
}

func (p *parser) parseArith() (expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().kind {
		case tokenPlus:
			op = "+"
		case tokenMinus:
			op = "-"
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().kind {
		case tokenStar:
			op = "*"
		case tokenSlash:
			op = "/"
		case tokenPercent:
			op = "%"
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek().kind == tokenMinus {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokenLBracket:
			p.next()
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRBracket, "']'"); err != nil {
				return nil, err
			}
			node = &indexExpr{target: node, key: key}
		case tokenDot:
			dot := p.next()
			name, err := p.expect(tokenIdent, "method name")
			if err != nil {
				return nil, err
			}
			if name.text != "get" {
				return nil, fmt.Errorf("unsupported method %q at position %d, only get() is available", name.text, dot.pos)
			}
			if _, err := p.expect(tokenLParen, "'('"); err != nil {
				return nil, err
			}
			key, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			g := &getExpr{target: node, key: key}
			if p.peek().kind == tokenComma {
				p.next()
				def, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				g.def = def
			}
			if _, err := p.expect(tokenRParen, "')'"); err != nil {
				return nil, err
			}
			node = g
		default:
			return node, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return &literal{value: f}, nil
	case tokenString:
		p.next()
		return &literal{value: t.text}, nil
	case tokenIdent:
		switch t.text {
		case "true", "True":
			p.next()
			return &literal{value: true}, nil
		case "false", "False":
			p.next()
			return &literal{value: false}, nil
		case "null", "None":
			p.next()
			return &literal{value: nil}, nil
		case "state":
			p.next()
			return &stateRef{}, nil
		case "and", "or", "not", "in":
			return nil, fmt.Errorf("unexpected keyword %q at position %d", t.text, t.pos)
		default:
			return nil, fmt.Errorf("unknown identifier %q at position %d, conditions read from 'state'", t.text, t.pos)
		}
	case tokenLParen:
		p.next()
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return node, nil
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
}
