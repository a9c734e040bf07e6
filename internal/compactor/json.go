package compactor

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/jsonc"

	"github.com/conneroisu/crate/internal/errors"
)

// JSON removes insignificant whitespace from JSON documents. Comments and
// trailing commas are accepted on input and dropped.
type JSON struct {
	Extensions
}

// NewJSON returns a JSON compactor for ".json" files.
func NewJSON(extensions ...string) *JSON {
	if len(extensions) == 0 {
		extensions = []string{"json"}
	}

	return &JSON{Extensions: extensions}
}

// Compact implements Compactor. Invalid documents fail with a format error.
func (j *JSON) Compact(contents []byte) ([]byte, error) {
	stripped := jsonc.ToJSON(contents)

	var buf bytes.Buffer
	if err := json.Compact(&buf, stripped); err != nil {
		return nil, errors.NewFormatError(errors.CodeInvalidSyntax, "Unable to decode the JSON contents", err)
	}

	return buf.Bytes(), nil
}

// Fingerprint implements Fingerprinter.
func (j *JSON) Fingerprint() string {
	return "json/1"
}
