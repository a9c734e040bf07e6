package compactor

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/conneroisu/crate/internal/annotations"
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	lineBreak       = regexp.MustCompile(`\r\n|\r|\n`)
	indent          = regexp.MustCompile(`\n +`)
)

// PHP strips comments and collapses whitespace in PHP source. Strings,
// heredocs and inline HTML are never altered. Comments are replaced by the
// newlines they contained, so line numbers only shift where whitespace
// is collapsed.
//
// With a tokenizer installed, documentation comments that carry annotations
// keep them, one compacted annotation per line.
type PHP struct {
	Extensions
	tokenizer *annotations.Tokenizer
	converter annotations.Converter
}

// NewPHP returns a PHP compactor for ".php" files that drops every comment.
func NewPHP(extensions ...string) *PHP {
	if len(extensions) == 0 {
		extensions = []string{"php"}
	}

	return &PHP{Extensions: extensions}
}

// SetTokenizer enables annotation preservation. The converter is reset to
// annotations.ToString.
func (p *PHP) SetTokenizer(t *annotations.Tokenizer) *PHP {
	p.tokenizer = t
	p.converter = annotations.ToString{}

	return p
}

// SetConverter replaces the converter used for annotations.
func (p *PHP) SetConverter(c annotations.Converter) *PHP {
	p.converter = c

	return p
}

// Tokenizer returns the installed tokenizer, if any.
func (p *PHP) Tokenizer() *annotations.Tokenizer {
	return p.tokenizer
}

// Fingerprint implements Fingerprinter.
func (p *PHP) Fingerprint() string {
	if p.tokenizer == nil {
		return "php/1"
	}

	return "php/1+annotations:" + strings.Join(p.tokenizer.Ignored(), ",")
}

// Compact implements Compactor.
func (p *PHP) Compact(contents []byte) ([]byte, error) {
	out := make([]byte, 0, len(contents))

	for _, tok := range lexPHP(contents) {
		switch tok.kind {
		case tokWhitespace:
			out = append(out, compactWhitespace(tok.text)...)
		case tokComment:
			out = append(out, newlines(bytes.Count(tok.text, []byte("\n")))...)
		case tokDocComment:
			if p.tokenizer == nil || bytes.IndexByte(tok.text, '@') < 0 {
				out = append(out, newlines(bytes.Count(tok.text, []byte("\n")))...)
				continue
			}
			doc, err := p.compactAnnotations(string(tok.text))
			if err != nil {
				return nil, err
			}
			out = append(out, doc...)
		default:
			out = append(out, tok.text...)
		}
	}

	return out, nil
}

// compactAnnotations rewrites a documentation comment so it only holds its
// annotations. Trailing newlines keep the comment as tall as it was when
// there is room for them.
func (p *PHP) compactAnnotations(docblock string) (string, error) {
	tokens, err := p.tokenizer.Parse(docblock)
	if err != nil {
		return "", err
	}
	breaks := strings.Count(docblock, "\n")
	if len(tokens) == 0 {
		return string(newlines(breaks)), nil
	}

	converter := p.converter
	if converter == nil {
		converter = annotations.ToString{}
	}

	groups := annotations.Split(tokens)
	var b strings.Builder
	b.WriteString("/**")
	for _, annotation := range groups {
		b.WriteByte('\n')
		b.WriteString(converter.Convert(annotation))
	}

	breaks -= len(groups)
	if breaks > 0 {
		b.Write(newlines(breaks - 1))
		b.WriteString("\n*/")
	} else {
		b.WriteString(" */")
	}

	return b.String(), nil
}

func compactWhitespace(ws []byte) []byte {
	ws = horizontalSpace.ReplaceAll(ws, []byte(" "))
	ws = lineBreak.ReplaceAll(ws, []byte("\n"))

	return indent.ReplaceAll(ws, []byte("\n"))
}

func newlines(n int) []byte {
	if n <= 0 {
		return nil
	}

	return bytes.Repeat([]byte("\n"), n)
}
