package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/build"
	"github.com/conneroisu/crate/internal/config"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b", "compile"},
	Short:   "Build the archive described by the configuration",
	Long: `Build the phar archive described by the configuration file.

The previous archive and its public key are removed first. Sources are
collected from "files", "main" and "directories", compacted, placeholders
are replaced, the stub is generated (or read from stub.file) and the
archive is signed.

Examples:
  crate build                        # Build using .crate.yml
  crate build --config box.yml       # Build using another configuration
  crate build --output dist/app.phar # Override the output path
  crate build --format json          # Print the result as JSON`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var (
	buildOutput string
	buildFormat string
	buildQuiet  bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Override the output archive path")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "Only print errors")
	addFormatFlag(buildCmd, &buildFormat)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if buildOutput != "" {
		cfg.Output = buildOutput
	}

	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return buildOnce(ctx, cmd.OutOrStdout(), cfg, build.NewPipeline(cfg, logger))
}

// buildOnce runs pipeline and reports its result on w.
func buildOnce(ctx context.Context, w io.Writer, cfg *config.Config, pipeline *build.Pipeline) error {
	if !buildQuiet && buildFormat == formatText {
		printWarnings(w, config.Validate(cfg).Warnings)
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if buildQuiet {
		return nil
	}

	return writeReport(w, buildFormat, result, func(w io.Writer) error {
		printResult(w, result)
		return nil
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
