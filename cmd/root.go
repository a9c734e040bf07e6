// Package cmd provides the command-line interface for Crate.
//
// Configuration is read from the first of:
//
//  1. the file given with --config
//  2. the file named by CRATE_CONFIG_FILE
//  3. .crate.yml in the working directory
//
// Every top-level setting can be overridden from the environment with the
// CRATE_ prefix, e.g. CRATE_OUTPUT=dist/app.phar or CRATE_STUB_SHEBANG="".
package cmd

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/crate/internal/config"
	"github.com/conneroisu/crate/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crate",
	Short: "Build, sign and inspect PHP archives",
	Long: `Crate packages a PHP application into a single executable phar archive.

It collects the configured files and directories, compacts PHP and JSON
sources, substitutes placeholders, generates the loader stub and signs the
result with a hash or an OpenSSL private key.

Quick Start:
  crate build                     Build the archive described by .crate.yml
  crate watch                     Rebuild whenever a source changes
  crate info app.phar             Show the entries and signature of an archive
  crate verify app.phar           Check the signature of an archive

Documentation: https://github.com/conneroisu/crate`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .crate.yml, can also use CRATE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// loadConfig reads and validates the build configuration.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.Setup(v, cfgFile)

	if err := config.Read(v); err != nil {
		return nil, err
	}

	return config.Load(v)
}

// newLogger returns the logger selected by the persistent flags, writing
// to w.
func newLogger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: logFormat,
		Output: w,
	}), nil
}
