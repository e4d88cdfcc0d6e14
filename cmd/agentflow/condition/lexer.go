package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits a condition expression into tokens. Keywords (and, or, not,
// in, true, false, null) come back as identifiers; the parser gives them
// meaning.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				i++
				if i < len(runes) && (runes[i] == '+' || runes[i] == '-') {
					i++
				}
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			text := string(runes[start:i])
			if strings.Count(text, ".") > 1 {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			tokens = append(tokens, token{tokenNumber, text, start})
		case r == '\'' || r == '"':
			quote := r
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					next := runes[i+1]
					switch next {
					case 'n':
						sb.WriteRune('\n')
					case 't':
						sb.WriteRune('\t')
					case '\\', '\'', '"':
						sb.WriteRune(next)
					default:
						sb.WriteRune('\\')
						sb.WriteRune(next)
					}
					i += 2
					continue
				}
				if c == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			tokens = append(tokens, token{tokenString, sb.String(), start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[start:i]), start})
		default:
			start := i
			two := ""
			if i+1 < len(runes) {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==":
				tokens = append(tokens, token{tokenEq, two, start})
				i += 2
				continue
			case "!=":
				tokens = append(tokens, token{tokenNeq, two, start})
				i += 2
				continue
			case "<=":
				tokens = append(tokens, token{tokenLte, two, start})
				i += 2
				continue
			case ">=":
				tokens = append(tokens, token{tokenGte, two, start})
				i += 2
				continue
			}
			var kind tokenKind
			switch r {
			case '(':
				kind = tokenLParen
			case ')':
				kind = tokenRParen
			case '[':
				kind = tokenLBracket
			case ']':
				kind = tokenRBracket
			case ',':
				kind = tokenComma
			case '.':
				kind = tokenDot
			case '+':
				kind = tokenPlus
			case '-':
				kind = tokenMinus
			case '*':
				kind = tokenStar
			case '/':
				kind = tokenSlash
			case '%':
				kind = tokenPercent
			case '<':
				kind = tokenLt
			case '>':
				kind = tokenGt
			default:
				return nil, fmt.Errorf("unexpected character %q at position %d", string(r), start)
			}
			tokens = append(tokens, token{kind, string(r), start})
			i++
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(runes)})
	return tokens, nil
}
