// Package annotations extracts Doctrine-style annotations from PHP
// documentation comments and renders them back in compact form.
//
// Only the annotations themselves survive tokenization: prose, tags glued to
// a preceding word (such as e-mail addresses) and ignored names are dropped.
package annotations

import (
	"fmt"
	"slices"
	"strings"

	"github.com/conneroisu/crate/internal/errors"
)

// TokenType identifies a token produced by the Tokenizer.
type TokenType int

const (
	At TokenType = iota + 1
	Identifier
	OpenParen
	CloseParen
	OpenBrace
	CloseBrace
	Comma
	Equals
	Colon
	String
	Integer
	Float
	True
	False
	Null
)

var tokenNames = map[TokenType]string{
	At:         "@",
	Identifier: "identifier",
	OpenParen:  "(",
	CloseParen: ")",
	OpenBrace:  "{",
	CloseBrace: "}",
	Comma:      ",",
	Equals:     "=",
	Colon:      ":",
	String:     "string",
	Integer:    "integer",
	Float:      "float",
	True:       "true",
	False:      "false",
	Null:       "null",
}

// String returns the name of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}

	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is one lexical element of an annotation. String tokens hold the
// unquoted value.
type Token struct {
	Type  TokenType
	Value string
}

// Tokenizer finds annotations in a documentation comment.
type Tokenizer struct {
	ignored []string
}

// NewTokenizer returns a tokenizer that keeps every annotation.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Ignore drops top-level annotations with the given names, together with
// their arguments. Names are matched case-insensitively and without the "@".
func (t *Tokenizer) Ignore(names ...string) *Tokenizer {
	for _, n := range names {
		n = strings.ToLower(strings.TrimPrefix(n, "@"))
		if n != "" && !slices.Contains(t.ignored, n) {
			t.ignored = append(t.ignored, n)
		}
	}

	return t
}

// Ignored returns the ignored annotation names.
func (t *Tokenizer) Ignored() []string {
	return slices.Clone(t.ignored)
}

func (t *Tokenizer) isIgnored(name string) bool {
	return slices.Contains(t.ignored, strings.ToLower(name))
}

// Parse returns the tokens of every annotation in docblock, in order.
func (t *Tokenizer) Parse(docblock string) ([]Token, error) {
	s := &scanner{src: docblock}
	var tokens []Token

	for s.pos < len(s.src) {
		i := strings.IndexByte(s.src[s.pos:], '@')
		if i < 0 {
			break
		}
		s.pos += i
		if !s.annotationStart() {
			s.pos++
			continue
		}

		annotation, err := s.annotation()
		if err != nil {
			return nil, err
		}
		if t.isIgnored(annotation[1].Value) {
			continue
		}
		tokens = append(tokens, annotation...)
	}

	return tokens, nil
}

type scanner struct {
	src string
	pos int
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '\\' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9') || c == ':'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// annotationStart reports whether the "@" at pos opens an annotation: it
// must not be glued to a preceding word and must be followed by a name.
func (s *scanner) annotationStart() bool {
	if s.pos > 0 {
		prev := s.src[s.pos-1]
		if !isSpace(prev) && prev != '*' {
			return false
		}
	}

	return s.pos+1 < len(s.src) && isIdentStart(s.src[s.pos+1])
}

func (s *scanner) errorf(format string, args ...any) error {
	return errors.NewFormatError(errors.CodeInvalidSyntax,
		fmt.Sprintf("Annotation syntax error at offset %d: %s", s.pos, fmt.Sprintf(format, args...)), nil)
}

// annotation scans "@Name" and an optional argument list that starts right
// after the name.
func (s *scanner) annotation() ([]Token, error) {
	s.pos++ // @
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	name := strings.TrimRight(s.src[start:s.pos], ":")
	s.pos = start + len(name)
	tokens := []Token{{Type: At, Value: "@"}, {Type: Identifier, Value: name}}

	if s.pos >= len(s.src) || s.src[s.pos] != '(' {
		return tokens, nil
	}

	args, err := s.arguments()
	if err != nil {
		return nil, err
	}

	return append(tokens, args...), nil
}

// arguments scans a balanced "( ... )" list.
func (s *scanner) arguments() ([]Token, error) {
	var tokens []Token
	var stack []byte

	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case isSpace(c) || c == '*':
			s.pos++
		case c == '(' || c == '{':
			typ := OpenParen
			if c == '{' {
				typ = OpenBrace
			}
			stack = append(stack, c)
			tokens = append(tokens, Token{Type: typ, Value: string(c)})
			s.pos++
		case c == ')' || c == '}':
			want := byte('(')
			typ := CloseParen
			if c == '}' {
				want, typ = '{', CloseBrace
			}
			if len(stack) == 0 || stack[len(stack)-1] != want {
				return nil, s.errorf("unexpected %q", c)
			}
			stack = stack[:len(stack)-1]
			tokens = append(tokens, Token{Type: typ, Value: string(c)})
			s.pos++
			if len(stack) == 0 {
				return tokens, nil
			}
		case c == ',':
			tokens = append(tokens, Token{Type: Comma, Value: ","})
			s.pos++
		case c == '=':
			tokens = append(tokens, Token{Type: Equals, Value: "="})
			s.pos++
		case c == ':':
			tokens = append(tokens, Token{Type: Colon, Value: ":"})
			s.pos++
		case c == '"':
			str, err := s.quoted()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: String, Value: str})
		case c == '@':
			if s.pos+1 >= len(s.src) || !isIdentStart(s.src[s.pos+1]) {
				return nil, s.errorf("expected annotation name")
			}
			nested, err := s.annotation()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, nested...)
		case c == '-' || ('0' <= c && c <= '9'):
			tokens = append(tokens, s.number())
		case isIdentStart(c):
			tokens = append(tokens, s.identifier())
		default:
			return nil, s.errorf("unexpected %q", c)
		}
	}

	return nil, s.errorf("unterminated argument list")
}

// quoted scans a double quoted string; a doubled quote escapes itself.
func (s *scanner) quoted() (string, error) {
	var b strings.Builder
	s.pos++
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '"' {
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == '"' {
				b.WriteByte('"')
				s.pos += 2
				continue
			}
			s.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		s.pos++
	}

	return "", s.errorf("unterminated string")
}

func (s *scanner) number() Token {
	start := s.pos
	if s.src[s.pos] == '-' {
		s.pos++
	}
	typ := Integer
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case '0' <= c && c <= '9':
		case c == '.' || c == 'e' || c == 'E':
			typ = Float
		case (c == '+' || c == '-') && (s.src[s.pos-1] == 'e' || s.src[s.pos-1] == 'E'):
		default:
			return Token{Type: typ, Value: s.src[start:s.pos]}
		}
		s.pos++
	}

	return Token{Type: typ, Value: s.src[start:s.pos]}
}

func (s *scanner) identifier() Token {
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	// A trailing colon belongs to a "key: value" pair.
	value := strings.TrimRight(s.src[start:s.pos], ":")
	s.pos = start + len(value)

	switch strings.ToLower(value) {
	case "true":
		return Token{Type: True, Value: "true"}
	case "false":
		return Token{Type: False, Value: "false"}
	case "null":
		return Token{Type: Null, Value: "null"}
	}

	return Token{Type: Identifier, Value: value}
}
