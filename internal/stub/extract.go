package stub

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"

	"github.com/conneroisu/crate/internal/errors"
)

//go:embed extract.php
var extractSource []byte

// ExtractLoader supplies the source of the self-extracting loader that is
// embedded in stubs when extraction is enabled.
type ExtractLoader interface {
	Load() ([]byte, error)
}

// ExtractLoaderFunc adapts a function to an ExtractLoader.
type ExtractLoaderFunc func() ([]byte, error)

// Load implements ExtractLoader.
func (f ExtractLoaderFunc) Load() ([]byte, error) {
	return f()
}

// EmbeddedExtract loads the extractor bundled with this package.
type EmbeddedExtract struct{}

// Load implements ExtractLoader.
func (EmbeddedExtract) Load() ([]byte, error) {
	return bytes.Clone(extractSource), nil
}

// ExtractCode is the extractor split into the parts injected into a stub.
type ExtractCode struct {
	Constants []string
	Class     []string
}

// ParseExtract splits extractor source into constant definitions and the
// class body.
//
// The first two lines (the open tag and the namespace declaration) are
// dropped, as are blank lines and imports of global classes ("use X;"),
// which the stub's global scope does not need.
func ParseExtract(src []byte) (ExtractCode, error) {
	var lines []string

	scanner := bufio.NewScanner(bytes.NewReader(src))
	for n := 0; scanner.Scan(); n++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case n < 2:
		case strings.TrimSpace(line) == "":
		case strings.HasPrefix(line, "use ") && !strings.Contains(line, `\`):
		default:
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return ExtractCode{}, errors.NewFormatError(errors.CodeInvalidSyntax, "unable to read the extractor source", err)
	}

	var code ExtractCode
	for _, line := range lines {
		if strings.HasPrefix(line, "define") {
			code.Constants = append(code.Constants, line)
		} else {
			code.Class = append(code.Class, line)
		}
	}
	if len(code.Class) == 0 {
		return ExtractCode{}, errors.NewFormatError(errors.CodeInvalidSyntax, "the extractor source has no class body", nil)
	}

	return code, nil
}
