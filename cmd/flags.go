package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var outputFormats = []string{formatText, formatJSON, formatYAML}

// enumValue is a string flag restricted to a fixed set of values.
type enumValue struct {
	target  *string
	allowed []string
}

var _ pflag.Value = (*enumValue)(nil)

func (e *enumValue) String() string { return *e.target }

func (e *enumValue) Type() string { return "string" }

func (e *enumValue) Set(val string) error {
	val = strings.ToLower(strings.TrimSpace(val))
	if !slices.Contains(e.allowed, val) {
		return fmt.Errorf("must be one of: %s", strings.Join(e.allowed, ", "))
	}
	*e.target = val
	return nil
}

// addFormatFlag adds --format (-f) to cmd, storing the chosen format in
// target.
func addFormatFlag(cmd *cobra.Command, target *string) {
	*target = formatText
	cmd.Flags().VarP(&enumValue{target: target, allowed: outputFormats}, "format", "f",
		"Output format ("+strings.Join(outputFormats, ", ")+")")
}

// writeReport writes v as JSON or YAML, or calls text for the text format.
func writeReport(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case formatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return text(w)
	}
}
