package compactor

import (
	"bytes"
)

// tokenKind classifies PHP source for the PHP compactor. Everything that is
// not whitespace or a comment is code and passes through unchanged.
type tokenKind int

const (
	tokCode tokenKind = iota
	tokWhitespace
	tokComment
	tokDocComment
)

type token struct {
	kind tokenKind
	text []byte
}

// lexPHP splits src into tokens. Inline HTML, strings, heredocs and every
// other construct end up in code tokens byte for byte, so concatenating the
// tokens reproduces src.
func lexPHP(src []byte) []token {
	l := &lexer{src: src}
	l.run()

	return l.tokens
}

type lexer struct {
	src    []byte
	pos    int
	start  int
	tokens []token
}

// emit closes the current token. Adjacent code tokens are merged.
func (l *lexer) emit(kind tokenKind) {
	if l.pos == l.start {
		return
	}
	text := l.src[l.start:l.pos]
	l.start = l.pos
	if n := len(l.tokens); kind == tokCode && n > 0 && l.tokens[n-1].kind == tokCode {
		prev := l.tokens[n-1].text
		l.tokens[n-1].text = prev[: len(prev)+len(text) : len(prev)+len(text)]
		return
	}
	l.tokens = append(l.tokens, token{kind: kind, text: text})
}

func (l *lexer) hasPrefix(s string) bool {
	return bytes.HasPrefix(l.src[l.pos:], []byte(s))
}

func (l *lexer) hasPrefixFold(s string) bool {
	return len(l.src)-l.pos >= len(s) && bytes.EqualFold(l.src[l.pos:l.pos+len(s)], []byte(s))
}

func (l *lexer) run() {
	for l.pos < len(l.src) {
		l.html()
		l.php()
	}
	l.emit(tokCode)
}

// html consumes inline HTML up to and including the next open tag.
func (l *lexer) html() {
	for l.pos < len(l.src) {
		if l.src[l.pos] != '<' {
			l.pos++
			continue
		}
		if l.hasPrefixFold("<?php") && (l.pos+5 == len(l.src) || isPHPSpace(l.src[l.pos+5])) {
			l.pos += 5
			// The open tag owns one following newline or space.
			switch {
			case l.hasPrefix("\r\n"):
				l.pos += 2
			case l.pos < len(l.src):
				l.pos++
			}
			l.emit(tokCode)
			return
		}
		if l.hasPrefix("<?=") {
			l.pos += 3
			l.emit(tokCode)
			return
		}
		l.pos++
	}
}

// php consumes code up to and including the next close tag.
func (l *lexer) php() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isPHPSpace(c):
			l.emit(tokCode)
			for l.pos < len(l.src) && isPHPSpace(l.src[l.pos]) {
				l.pos++
			}
			l.emit(tokWhitespace)
		case c == '#' && !l.hasPrefix("#["), c == '/' && l.hasPrefix("//"):
			l.emit(tokCode)
			l.lineComment()
			l.emit(tokComment)
		case c == '/' && l.hasPrefix("/*"):
			l.emit(tokCode)
			kind := tokComment
			if l.pos+3 < len(l.src) && l.src[l.pos+2] == '*' && isPHPSpace(l.src[l.pos+3]) {
				kind = tokDocComment
			}
			if end := bytes.Index(l.src[l.pos+2:], []byte("*/")); end >= 0 {
				l.pos += 2 + end + 2
			} else {
				l.pos = len(l.src)
			}
			l.emit(kind)
		case c == '?' && l.hasPrefix("?>"):
			l.pos += 2
			switch {
			case l.hasPrefix("\r\n"):
				l.pos += 2
			case l.hasPrefix("\n"):
				l.pos++
			}
			return
		case c == '\'':
			l.pos = skipSingleQuoted(l.src, l.pos)
		case c == '"' || c == '`':
			l.pos = skipInterpolated(l.src, l.pos, c)
		case c == '<' && l.hasPrefix("<<<"):
			l.pos = skipHeredoc(l.src, l.pos)
		default:
			l.pos++
		}
	}
}

// lineComment consumes a "//" or "#" comment including its newline. A close
// tag ends the comment without being part of it.
func (l *lexer) lineComment() {
	for l.pos < len(l.src) {
		switch {
		case l.src[l.pos] == '\n':
			l.pos++
			return
		case l.src[l.pos] == '\r':
			l.pos++
			if l.hasPrefix("\n") {
				l.pos++
			}
			return
		case l.hasPrefix("?>"):
			return
		}
		l.pos++
	}
}

func isPHPSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isLabelStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c >= 0x80
}

func isLabelPart(c byte) bool {
	return isLabelStart(c) || ('0' <= c && c <= '9')
}

// skipSingleQuoted returns the offset after the string starting at i.
func skipSingleQuoted(src []byte, i int) int {
	for i++; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\'':
			return i + 1
		}
	}

	return len(src)
}

// skipInterpolated returns the offset after the double quoted or backtick
// string starting at i. Complex "{$...}" and "${...}" expressions may hold
// quotes of their own.
func skipInterpolated(src []byte, i int, quote byte) int {
	for i++; i < len(src); i++ {
		switch c := src[i]; {
		case c == '\\':
			i++
		case c == quote:
			return i + 1
		case c == '{' && i+1 < len(src) && src[i+1] == '$',
			c == '$' && i+1 < len(src) && src[i+1] == '{':
			if c == '$' {
				i++
			}
			i = skipBraces(src, i) - 1
		}
	}

	return len(src)
}

// skipBraces returns the offset after the brace block starting at i.
func skipBraces(src []byte, i int) int {
	depth := 0
	for i < len(src) {
		switch c := src[i]; c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		case '\'':
			i = skipSingleQuoted(src, i)
			continue
		case '"', '`':
			i = skipInterpolated(src, i, c)
			continue
		}
		i++
	}

	return len(src)
}

// skipHeredoc returns the offset after the heredoc or nowdoc starting at i,
// or i+3 when the "<<<" does not open one.
func skipHeredoc(src []byte, i int) int {
	j := i + 3
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	var quote byte
	if j < len(src) && (src[j] == '"' || src[j] == '\'') {
		quote = src[j]
		j++
	}
	if j >= len(src) || !isLabelStart(src[j]) {
		return i + 3
	}
	labelStart := j
	for j < len(src) && isLabelPart(src[j]) {
		j++
	}
	label := src[labelStart:j]
	if quote != 0 {
		if j >= len(src) || src[j] != quote {
			return i + 3
		}
		j++
	}
	switch {
	case bytes.HasPrefix(src[j:], []byte("\r\n")):
		j += 2
	case bytes.HasPrefix(src[j:], []byte("\n")):
		j++
	default:
		return i + 3
	}

	// The closing label starts a line, optionally indented, and is not
	// followed by another label character.
	for line := j; line < len(src); {
		k := line
		for k < len(src) && (src[k] == ' ' || src[k] == '\t') {
			k++
		}
		if bytes.HasPrefix(src[k:], label) {
			end := k + len(label)
			if end == len(src) || !isLabelPart(src[end]) {
				return end
			}
		}
		next := bytes.IndexByte(src[line:], '\n')
		if next < 0 {
			break
		}
		line += next + 1
	}

	return len(src)
}
