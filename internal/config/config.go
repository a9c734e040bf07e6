// Package config loads the build configuration of a crate project using
// Viper, from a .crate.yml file, CRATE_ environment variables and
// command-line flags.
//
// Relative paths are resolved against the base path, which is itself
// relative to the directory of the configuration file when one is used.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/stub"
)

// EnvPrefix prefixes every environment override, e.g. CRATE_OUTPUT.
const EnvPrefix = "CRATE"

// DefaultName is the configuration file looked up in the working directory.
const DefaultName = ".crate"

// Config describes one archive build.
type Config struct {
	BasePath     string            `mapstructure:"base-path" yaml:"base-path" json:"base-path"`
	Output       string            `mapstructure:"output" yaml:"output" json:"output"`
	Alias        string            `mapstructure:"alias" yaml:"alias" json:"alias"`
	Main         string            `mapstructure:"main" yaml:"main" json:"main"`
	Directories  []string          `mapstructure:"directories" yaml:"directories" json:"directories"`
	Pattern      string            `mapstructure:"pattern" yaml:"pattern" json:"pattern"`
	Files        []string          `mapstructure:"files" yaml:"files" json:"files"`
	Compactors   []string          `mapstructure:"compactors" yaml:"compactors" json:"compactors"`
	Annotations  AnnotationsConfig `mapstructure:"annotations" yaml:"annotations" json:"annotations"`
	Replacements map[string]any    `mapstructure:"replacements" yaml:"replacements" json:"replacements"`
	Compression  string            `mapstructure:"compression" yaml:"compression" json:"compression"`
	Algorithm    string            `mapstructure:"algorithm" yaml:"algorithm" json:"algorithm"`
	Key          string            `mapstructure:"key" yaml:"key" json:"key"`
	KeyPass      string            `mapstructure:"key-pass" yaml:"key-pass" json:"key-pass"`
	Metadata     any               `mapstructure:"metadata" yaml:"metadata" json:"metadata"`
	CacheDir     string            `mapstructure:"cache-dir" yaml:"cache-dir" json:"cache-dir"`
	Chmod        string            `mapstructure:"chmod" yaml:"chmod" json:"chmod"`
	Timestamp    string            `mapstructure:"timestamp" yaml:"timestamp" json:"timestamp"`
	Stub         StubConfig        `mapstructure:"stub" yaml:"stub" json:"stub"`

	// File is the configuration file used, if any.
	File string `mapstructure:"-" yaml:"-" json:"-"`
}

// AnnotationsConfig enables docblock annotation compaction. Annotations are
// stripped entirely unless this section is present.
type AnnotationsConfig struct {
	Enabled bool     `mapstructure:"-" yaml:"-" json:"enabled"`
	Ignore  []string `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
}

// StubConfig controls the generated stub, or names a custom one.
type StubConfig struct {
	File         string            `mapstructure:"file" yaml:"file" json:"file"`
	Replace      bool              `mapstructure:"replace" yaml:"replace" json:"replace"`
	Shebang      string            `mapstructure:"shebang" yaml:"shebang" json:"shebang"`
	Banner       string            `mapstructure:"banner" yaml:"banner" json:"banner"`
	Intercept    bool              `mapstructure:"intercept" yaml:"intercept" json:"intercept"`
	Web          bool              `mapstructure:"web" yaml:"web" json:"web"`
	NotFound     string            `mapstructure:"not-found" yaml:"not-found" json:"not-found"`
	Mimetypes    map[string]any    `mapstructure:"mimetypes" yaml:"mimetypes" json:"mimetypes"`
	Rewrite      string            `mapstructure:"rewrite" yaml:"rewrite" json:"rewrite"`
	Mung         []string          `mapstructure:"mung" yaml:"mung" json:"mung"`
	Extract      bool              `mapstructure:"extract" yaml:"extract" json:"extract"`
	ExtractForce bool              `mapstructure:"extract-force" yaml:"extract-force" json:"extract-force"`
	LSB          map[string]string `mapstructure:"lsb" yaml:"lsb" json:"lsb"`
}

// Setup points v at the configuration file and enables CRATE_ environment
// overrides. An explicit file wins over CRATE_CONFIG_FILE, which wins over
// .crate.yml in the working directory.
func Setup(v *viper.Viper, file string) {
	switch {
	case file != "":
		v.SetConfigFile(file)
	case os.Getenv(EnvPrefix+"_CONFIG_FILE") != "":
		v.SetConfigFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

var envKeys = []string{
	"base-path", "output", "alias", "main", "directories", "pattern", "files",
	"compactors", "compression", "algorithm", "key", "key-pass", "cache-dir",
	"chmod", "timestamp",
	"stub.file", "stub.replace", "stub.shebang", "stub.banner", "stub.intercept",
	"stub.web", "stub.not-found", "stub.rewrite", "stub.mung", "stub.extract",
	"stub.extract-force",
}

// Read reads the configuration file set up by Setup. A missing default
// file is not an error; a missing explicit file is.
func Read(v *viper.Viper) error {
	if file := v.ConfigFileUsed(); file != "" {
		if _, err := os.Stat(file); err != nil {
			return errors.NewConfigError(errors.CodeNotFound,
				fmt.Sprintf("The configuration file \"%s\" does not exist.", file)).WithCause(err).WithPath(file)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}

	return errors.NewConfigError(errors.CodeOpenFailed, "Unable to read the configuration file").
		WithCause(err).WithPath(v.ConfigFileUsed())
}

// Load decodes, completes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidSetting, "Unable to decode the configuration").WithCause(err)
	}
	cfg.File = v.ConfigFileUsed()

	// Viper lowercases map keys and splits them on dots; placeholder tokens
	// and metadata keys are read back verbatim from the file.
	if err := cfg.readVerbatim(); err != nil {
		return nil, err
	}

	cfg.Annotations.Enabled = v.IsSet("annotations")
	cfg.applyDefaults(v)

	if result := Validate(&cfg); result.HasErrors() {
		return nil, result.Err()
	}

	return &cfg, nil
}

func (c *Config) readVerbatim() error {
	if c.File == "" {
		return nil
	}
	switch strings.ToLower(filepath.Ext(c.File)) {
	case ".yml", ".yaml", ".json":
	default:
		return nil
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return errors.NewConfigError(errors.CodeOpenFailed, "Unable to read the configuration file").
			WithCause(err).WithPath(c.File)
	}

	var raw struct {
		Replacements map[string]any `yaml:"replacements"`
		Metadata     any            `yaml:"metadata"`
		Stub         struct {
			Mimetypes map[string]any `yaml:"mimetypes"`
		} `yaml:"stub"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.NewConfigError(errors.CodeInvalidSyntax, "Unable to parse the configuration file").
			WithCause(err).WithPath(c.File)
	}

	if raw.Replacements != nil {
		c.Replacements = raw.Replacements
	}
	if raw.Metadata != nil {
		c.Metadata = raw.Metadata
	}
	if raw.Stub.Mimetypes != nil {
		c.Stub.Mimetypes = raw.Stub.Mimetypes
	}

	return nil
}

func (c *Config) applyDefaults(v *viper.Viper) {
	if c.BasePath == "" {
		c.BasePath = "."
	}
	if !filepath.IsAbs(c.BasePath) && c.File != "" {
		c.BasePath = filepath.Join(filepath.Dir(c.File), c.BasePath)
	}
	if c.Alias == "" && c.Output != "" {
		c.Alias = filepath.Base(c.Output)
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
	if c.Algorithm == "" {
		c.Algorithm = "SHA256"
	}
	if !v.IsSet("stub.shebang") {
		c.Stub.Shebang = stub.DefaultShebang
	}
	if !v.IsSet("stub.banner") {
		c.Stub.Banner = stub.DefaultBanner
	}
}

// Path resolves p against the base path.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.BasePath, p)
}

// OutputPath returns the resolved archive path.
func (c *Config) OutputPath() string {
	return c.Path(c.Output)
}

// Generator returns a stub generator configured from the stub section.
func (c *Config) Generator() *stub.Generator {
	g := stub.New().
		Alias(c.Alias).
		Index(c.Main).
		Intercept(c.Stub.Intercept).
		Web(c.Stub.Web).
		NotFound(c.Stub.NotFound).
		Rewrite(c.Stub.Rewrite).
		Extract(c.Stub.Extract, c.Stub.ExtractForce).
		Shebang(c.Stub.Shebang).
		Mung(c.Stub.Mung...)

	if c.Stub.Banner == "" {
		g.NoBanner()
	} else {
		g.Banner(c.Stub.Banner)
	}
	if len(c.Stub.Mimetypes) > 0 {
		g.Mimetypes(c.Stub.Mimetypes)
	}
	for param, value := range c.Stub.LSB {
		g.LSBInitParam(param, value)
	}

	return g
}
