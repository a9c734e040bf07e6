package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/phar"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive>...",
	Short: "Check the signature of archives",
	Long: `Recompute the signature of each archive and compare it with its trailer.

Archives signed with a private key are checked against the public key
stored next to them (<archive>.pubkey).

Examples:
  crate verify app.phar
  crate verify dist/*.phar`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	var failed error
	for _, path := range args {
		sig, err := phar.Verify(path)
		if err != nil {
			errorColor.Fprintf(w, "FAIL %s\n", path)
			printField(w, "Error", err)
			if failed == nil {
				failed = err
			}
			continue
		}

		successColor.Fprintf(w, "OK   %s\n", path)
		printField(w, "Signature", sig.HashType+" "+sig.Hash)
	}

	return failed
}
