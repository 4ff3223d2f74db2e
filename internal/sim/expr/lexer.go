// Package expr implements the restricted arithmetic grammar used by effect
// formulas, configured constants and trigger conditions.
//
// Sources are parsed once into a small AST. Identifiers are checked against a
// caller-supplied symbol table at compile time, so evaluation never meets an
// unknown name.
package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	pos  int
}

// SyntaxError reports a malformed source with the byte offset of the problem.
type SyntaxError struct {
	Src string
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr %q: %s at offset %d", e.Src, e.Msg, e.Pos)
}

// Unicode comparison operators are folded to their ASCII spelling.
var opAliases = map[string]string{
	"≥": ">=",
	"≤": "<=",
	"≠": "!=",
	"=": "==",
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r >= '0' && r <= '9' || r == '.':
			start := i
			i = scanNumber(src, i)
			out = append(out, token{kind: tokNum, text: src[start:i], pos: start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[i:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				i += s2
			}
			word := src[start:i]
			switch strings.ToLower(word) {
			case "and":
				out = append(out, token{kind: tokOp, text: "&&", pos: start})
			case "or":
				out = append(out, token{kind: tokOp, text: "||", pos: start})
			default:
				out = append(out, token{kind: tokIdent, text: word, pos: start})
			}
		case r == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i += size
		case r == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i += size
		case r == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i += size
		default:
			op, n := scanOp(src[i:])
			if n == 0 {
				return nil, &SyntaxError{Src: src, Pos: i, Msg: fmt.Sprintf("unexpected %q", r)}
			}
			if alias, ok := opAliases[op]; ok {
				op = alias
			}
			out = append(out, token{kind: tokOp, text: op, pos: i})
			i += n
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func scanNumber(src string, i int) int {
	for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
		i++
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			i = j
			for i < len(src) && isDigit(src[i]) {
				i++
			}
		}
	}
	return i
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func scanOp(s string) (string, int) {
	for _, op := range []string{">=", "<=", "==", "!=", "&&", "||", "≥", "≤", "≠"} {
		if strings.HasPrefix(s, op) {
			return op, len(op)
		}
	}
	switch s[0] {
	case '+', '-', '*', '/', '%', '^', '<', '>', '=':
		return s[:1], 1
	}
	return "", 0
}
