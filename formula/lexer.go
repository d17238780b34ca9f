package formula

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokOp:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. Only digits, identifiers, the
// arithmetic operators, parentheses and commas are recognised; quotes,
// brackets, dots outside numbers and every other character are syntax errors.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			seenDot := false
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					if seenDot {
						return nil, syntaxErrorf(i, "malformed number")
					}
					seenDot = true
				}
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})

		case c == '*' && i+1 < len(src) && src[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "^", pos: i})
			i += 2

		case strings.IndexByte("+-*/%^", c) >= 0:
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++

		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++

		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++

		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++

		case c == '.':
			return nil, syntaxErrorf(i, "attribute access is not permitted")

		default:
			return nil, syntaxErrorf(i, "unexpected character %q", c)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func syntaxErrorf(pos int, format string, args ...any) error {
	return fmt.Errorf("%w at position %d: %s", ErrSyntax, pos, fmt.Sprintf(format, args...))
}
