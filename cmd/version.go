package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for crate including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)

Examples:
  crate version                 # Show version info
  crate version --short         # Show short version
  crate version --format json   # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	addFormatFlag(versionCmd, &versionFormat)
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	if versionShort && versionFormat == formatText {
		_, err := fmt.Fprintln(w, version.GetShortVersion())
		return err
	}

	info := version.GetBuildInfo()

	return writeReport(w, versionFormat, info, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, info.String())
		return err
	})
}
