package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/conneroisu/crate/internal/build"
	"github.com/conneroisu/crate/internal/config"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

func printWarnings(w io.Writer, warnings []config.ValidationError) {
	for _, warning := range warnings {
		warnColor.Fprintf(w, "Warning: %s\n", warning.Error())
		for _, s := range warning.Suggestions {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
}

func printResult(w io.Writer, result *build.Result) {
	successColor.Fprintf(w, "Built %s\n", result.Output)
	printField(w, "Entries", result.Entries)
	printField(w, "Size", formatSize(result.Size))
	printField(w, "Signature", fmt.Sprintf("%s %s", result.Signature.HashType, result.Signature.Hash))
	if result.PublicKey != "" {
		printField(w, "Public key", result.PublicKey)
	}
	if result.Cache != nil {
		printField(w, "Cache", fmt.Sprintf("%d hits, %d misses (%.0f%%)",
			result.Cache.Hits, result.Cache.Misses, result.Cache.HitRate()*100))
	}
	printField(w, "Duration", result.Duration.Round(time.Millisecond))
}

func printField(w io.Writer, label string, value any) {
	labelColor.Fprintf(w, "  %-11s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}

// formatSize renders n bytes with a binary unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
