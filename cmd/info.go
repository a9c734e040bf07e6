package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/phar"
)

var infoCmd = &cobra.Command{
	Use:     "info <archive>",
	Aliases: []string{"i"},
	Short:   "Show the contents and signature of an archive",
	Long: `Show the alias, signature, metadata and entries of an archive.

Examples:
  crate info app.phar                  # Summary
  crate info app.phar --entries        # Summary and entry list
  crate info app.phar --format yaml    # Machine readable output`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoFormat  string
	infoEntries bool
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVarP(&infoEntries, "entries", "e", false, "List the entries")
	addFormatFlag(infoCmd, &infoFormat)
}

// archiveInfo describes an archive for the info command.
type archiveInfo struct {
	Path      string         `json:"path" yaml:"path"`
	Size      int64          `json:"size" yaml:"size"`
	Alias     string         `json:"alias,omitempty" yaml:"alias,omitempty"`
	Count     int            `json:"count" yaml:"count"`
	Signature phar.Signature `json:"signature" yaml:"signature"`
	Metadata  string         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Entries   []entryInfo    `json:"entries,omitempty" yaml:"entries,omitempty"`
}

type entryInfo struct {
	Name        string `json:"name" yaml:"name"`
	Dir         bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Size        int    `json:"size" yaml:"size"`
	Compression string `json:"compression" yaml:"compression"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	info, err := inspect(args[0], infoEntries)
	if err != nil {
		return err
	}

	return writeReport(cmd.OutOrStdout(), infoFormat, info, info.writeText)
}

func inspect(path string, entries bool) (*archiveInfo, error) {
	stat, err := os.Stat(path)
	if err != nil || !stat.Mode().IsRegular() {
		return nil, errors.NewFileError(errors.CodeNotFound,
			fmt.Sprintf("The file \"%s\" does not exist or is not a file.", path), err).WithPath(path)
	}

	a, err := phar.Open(path)
	if err != nil {
		return nil, err
	}
	sig, err := phar.ReadSignature(path)
	if err != nil {
		return nil, err
	}

	info := &archiveInfo{
		Path:      path,
		Size:      stat.Size(),
		Alias:     a.Alias(),
		Count:     a.Len(),
		Signature: sig,
		Metadata:  string(a.Metadata()),
	}
	if entries {
		for _, e := range a.Entries() {
			info.Entries = append(info.Entries, entryInfo{
				Name:        e.Name,
				Dir:         e.Dir,
				Size:        e.Size(),
				Compression: e.Compression.String(),
			})
		}
	}

	return info, nil
}

func (info *archiveInfo) writeText(w io.Writer) error {
	labelColor.Fprintln(w, info.Path)
	printField(w, "Alias", info.Alias)
	printField(w, "Size", formatSize(info.Size))
	printField(w, "Entries", info.Count)
	printField(w, "Signature", info.Signature.HashType+" "+info.Signature.Hash)
	if info.Metadata != "" {
		printField(w, "Metadata", info.Metadata)
	}

	if len(info.Entries) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range info.Entries {
		name := e.Name
		if e.Dir {
			name += "/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, formatSize(int64(e.Size)), e.Compression)
	}

	return tw.Flush()
}
