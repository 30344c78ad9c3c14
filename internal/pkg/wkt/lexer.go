package wkt

import "strings"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokAtom
	tokLParen
	tokRParen
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokAtom:
		return "value"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	}
	return "end of input"
}

// token is a lexeme with its byte offset in the source text. Atoms are any
// run of characters other than whitespace, parentheses and commas: keywords
// and coordinate fields alike.
type token struct {
	kind   tokenKind
	text   string
	offset int
}

// tokenize never fails; classification of atoms is left to the parser.
func tokenize(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", offset: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", offset: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", offset: i})
			i++
		default:
			start := i
			for i < len(src) && !isSpace(src[i]) && !strings.ContainsRune("(),", rune(src[i])) {
				i++
			}
			toks = append(toks, token{kind: tokAtom, text: src[start:i], offset: start})
		}
	}
	return append(toks, token{kind: tokEOF, offset: len(src)})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
