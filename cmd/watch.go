package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/build"
	"github.com/conneroisu/crate/internal/config"
	"github.com/conneroisu/crate/internal/logging"
	"github.com/conneroisu/crate/internal/phar"
	"github.com/conneroisu/crate/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild the archive whenever a source changes",
	Long: `Build the archive, then watch the configured sources and rebuild it
after every change. The archive, its public key and the compaction cache
are never watched.

Examples:
  crate watch                    # Watch the configured directories and files
  crate watch --delay 1s         # Wait longer before rebuilding
  crate watch --verbose          # List the changed files
  crate watch --ext php,json     # Only rebuild when PHP or JSON files change`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchDelay      time.Duration
	watchVerbose    bool
	watchExtensions []string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDelay, "delay", 300*time.Millisecond, "Debounce delay before rebuilding")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "List the changed files")
	watchCmd.Flags().StringSliceVar(&watchExtensions, "ext", nil, "Only rebuild for changes to files with these extensions")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := cmd.OutOrStdout()
	pipeline := build.NewPipeline(cfg, logger)

	fileWatcher, err := newBuildWatcher(ctx, w, cfg, pipeline, logger)
	if err != nil {
		return err
	}
	defer fileWatcher.Stop()

	if err := buildOnce(ctx, w, cfg, pipeline); err != nil {
		errorColor.Fprintln(w, err)
	}

	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintln(w, "Watching for changes... (Press Ctrl+C to stop)")

	<-ctx.Done()
	fmt.Fprintln(w, "Stopping file watcher...")

	return nil
}

// newBuildWatcher returns a watcher over the sources of cfg that reruns
// pipeline after each batch of changes.
func newBuildWatcher(
	ctx context.Context,
	w io.Writer,
	cfg *config.Config,
	pipeline *build.Pipeline,
	logger logging.Logger,
) (*watcher.FileWatcher, error) {
	fileWatcher, err := watcher.NewFileWatcher(watchDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	output := cfg.OutputPath()
	fileWatcher.AddFilter(watcher.IgnoreFilter(output, phar.PublicKeyPath(output), cfg.Path(cfg.CacheDir)))
	fileWatcher.AddFilter(watcher.NoTempFilter)
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddFilter(watcher.NoVendorFilter)
	fileWatcher.AddFilter(extensionFilter(watchExtensions))

	fileWatcher.AddHandler(func(events []watcher.ChangeEvent) error {
		if watchVerbose {
			for _, event := range events {
				fmt.Fprintf(w, "  %s: %s\n", event.Type, event.Path)
			}
		} else {
			fmt.Fprintf(w, "%d file(s) changed\n", len(events))
		}

		if err := buildOnce(ctx, w, cfg, pipeline); err != nil {
			errorColor.Fprintln(w, err)
		}
		return nil
	})

	for _, path := range watchPaths(cfg) {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn(ctx, err, "Unable to watch path", "path", path)
			continue
		}
		if info.IsDir() {
			err = fileWatcher.AddRecursive(path)
		} else {
			err = fileWatcher.AddPath(path)
		}
		if err != nil {
			logger.Warn(ctx, err, "Unable to watch path", "path", path)
			continue
		}
		if watchVerbose {
			fmt.Fprintf(w, "Watching %s\n", path)
		}
	}

	return fileWatcher, nil
}

// extensionFilter accepts paths with one of extensions, which may be
// written with or without the leading dot.
func extensionFilter(extensions []string) watcher.FileFilter {
	trimmed := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if ext = strings.TrimPrefix(strings.TrimSpace(ext), "."); ext != "" {
			trimmed = append(trimmed, ext)
		}
	}

	return watcher.ExtensionFilter(trimmed...)
}

// watchPaths lists the sources of cfg, resolved against its base path.
func watchPaths(cfg *config.Config) []string {
	paths := make([]string, 0, len(cfg.Directories)+len(cfg.Files)+2)
	for _, dir := range cfg.Directories {
		paths = append(paths, cfg.Path(dir))
	}
	for _, file := range cfg.Files {
		paths = append(paths, cfg.Path(file))
	}
	for _, file := range []string{cfg.Main, cfg.Stub.File} {
		if file != "" {
			paths = append(paths, cfg.Path(file))
		}
	}

	return paths
}
