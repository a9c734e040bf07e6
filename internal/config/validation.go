package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/crate/internal/compactor"
	"github.com/conneroisu/crate/internal/crate"
	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/phar"
)

// ValidationError is a problem with one configuration key.
type ValidationError struct {
	Field       string
	Value       any
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds every problem found in a configuration.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors.
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// Err returns the first error as a config error naming its key, or nil.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}

	first := vr.Errors[0]
	err := errors.NewConfigError(errors.CodeInvalidSetting, first.Error()).
		WithContext("key", first.Field)
	if len(vr.Errors) > 1 {
		err.WithContext("errors", len(vr.Errors))
	}

	return err
}

// String returns a formatted list of all validation issues.
func (vr *ValidationResult) String() string {
	var b strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "  - %s: %s\n", issue.Field, issue.Message)
			for _, s := range issue.Suggestions {
				fmt.Fprintf(&b, "    %s\n", s)
			}
		}
	}
	write("Errors", vr.Errors)
	write("Warnings", vr.Warnings)

	return b.String()
}

func (vr *ValidationResult) fail(field string, value any, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field: field, Value: value, Message: message, Suggestions: suggestions,
	})
}

func (vr *ValidationResult) warn(field string, value any, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{
		Field: field, Value: value, Message: message, Suggestions: suggestions,
	})
}

// Validate checks every key of cfg.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateOutput(cfg, result)
	validateSources(cfg, result)
	validateCompaction(cfg, result)
	validateArchive(cfg, result)
	validateSigning(cfg, result)
	validateStub(cfg, result)

	return result
}

func validateOutput(cfg *Config, result *ValidationResult) {
	if cfg.Output == "" {
		result.fail("output", cfg.Output, "the archive path is required",
			"Set output to the file to build, e.g. app.phar")
		return
	}
	if strings.HasSuffix(cfg.Output, "/") {
		result.fail("output", cfg.Output, "the archive path names a directory")
	}
	if strings.ContainsAny(cfg.Alias, `/\:;`) {
		result.fail("alias", cfg.Alias, `the alias must not contain "/", "\", ":" or ";"`)
	}
}

func validateSources(cfg *Config, result *ValidationResult) {
	if len(cfg.Directories) == 0 && len(cfg.Files) == 0 && cfg.Main == "" {
		result.warn("directories", cfg.Directories, "no files are added to the archive",
			"List source directories under directories or single files under files")
	}
	if _, err := crate.CompilePattern(cfg.Pattern); err != nil {
		result.fail("pattern", cfg.Pattern, err.Error())
	}
	for _, f := range cfg.Files {
		if f == "" {
			result.fail("files", cfg.Files, "file paths must not be empty")
			break
		}
	}
}

func validateCompaction(cfg *Config, result *ValidationResult) {
	for _, name := range cfg.Compactors {
		if _, ok := compactor.New(name); !ok {
			result.fail("compactors", name, fmt.Sprintf("unknown compactor %q", name),
				"Available compactors: "+strings.Join(compactor.Names(), ", "))
		}
	}
	if cfg.Annotations.Enabled && !slices.Contains(cfg.Compactors, "php") {
		result.warn("annotations", cfg.Annotations, "annotations only apply to the php compactor")
	}
	for token := range cfg.Replacements {
		if token == "" {
			result.fail("replacements", cfg.Replacements, "placeholder tokens must not be empty")
			break
		}
	}
}

func validateArchive(cfg *Config, result *ValidationResult) {
	c, err := phar.ParseCompression(cfg.Compression)
	switch {
	case err != nil:
		result.fail("compression", cfg.Compression, err.Error(), "Use none or gz")
	case c != phar.None && c != phar.GZ:
		result.fail("compression", cfg.Compression, fmt.Sprintf("%s compression is not supported", c), "Use none or gz")
	}

	if cfg.Chmod != "" {
		if _, err := ParseMode(cfg.Chmod); err != nil {
			result.fail("chmod", cfg.Chmod, err.Error(), `Use an octal mode such as "0755"`)
		}
	}
	if cfg.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, cfg.Timestamp); err != nil {
			result.fail("timestamp", cfg.Timestamp, "the timestamp is not an RFC 3339 date",
				"Use a date such as 2024-01-02T15:04:05Z")
		}
	}
	if cfg.Metadata != nil {
		if _, err := phar.SerializeMetadata(cfg.Metadata); err != nil {
			result.fail("metadata", cfg.Metadata, err.Error())
		}
	}
}

func validateSigning(cfg *Config, result *ValidationResult) {
	algo, err := phar.ParseSignatureAlgorithm(cfg.Algorithm)
	if err != nil {
		result.fail("algorithm", cfg.Algorithm, err.Error(),
			"Use one of MD5, SHA1, SHA256, SHA512 or OPENSSL")
		return
	}

	if algo.Asymmetric() {
		if algo != phar.OpenSSL {
			result.fail("algorithm", cfg.Algorithm, "only the OPENSSL key algorithm can be used to sign")
		}
		if cfg.Key == "" {
			result.fail("key", cfg.Key, "a private key is required to sign using OPENSSL")
		}
		return
	}

	if cfg.Key != "" {
		result.warn("key", cfg.Key, fmt.Sprintf("the key is ignored when signing using %s", algo),
			"Set algorithm to OPENSSL to sign with the key")
	}
}

func validateStub(cfg *Config, result *ValidationResult) {
	if cfg.Stub.File != "" {
		return
	}
	if cfg.Stub.Replace {
		result.warn("stub.replace", cfg.Stub.Replace, "replace only applies to a custom stub file")
	}
	if _, err := cfg.Generator().Build(); err != nil {
		result.fail("stub", cfg.Stub, err.Error())
	}
}

// ParseMode parses an octal file mode such as "0755".
func ParseMode(s string) (uint32, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil || mode > 0o7777 {
		return 0, fmt.Errorf("%q is not an octal file mode", s)
	}

	return uint32(mode), nil
}
