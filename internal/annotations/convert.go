package annotations

import "strings"

// Converter renders the tokens of one annotation.
type Converter interface {
	Convert(tokens []Token) string
}

// ToString renders annotations without any whitespace, e.g.
//
//	@ORM\JoinColumn(name="joined",referencedColumnName="foreign")
type ToString struct{}

// Convert implements Converter.
func (ToString) Convert(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Type {
		case String:
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(tok.Value, `"`, `""`))
			b.WriteByte('"')
		default:
			b.WriteString(tok.Value)
		}
	}

	return b.String()
}

// Split groups a token stream into one slice per top-level annotation. An
// "@" inside an argument list belongs to the enclosing annotation.
func Split(tokens []Token) [][]Token {
	var out [][]Token
	depth := 0
	for _, tok := range tokens {
		if len(out) == 0 || (tok.Type == At && depth == 0) {
			out = append(out, nil)
		}
		switch tok.Type {
		case OpenParen:
			depth++
		case CloseParen:
			depth--
		}
		out[len(out)-1] = append(out[len(out)-1], tok)
	}

	return out
}
