package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/crate"
	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/phar"
)

var signCmd = &cobra.Command{
	Use:   "sign <archive>",
	Short: "Sign an existing archive",
	Long: `Sign an existing archive with a hash or an OpenSSL private key.

When --key is given the archive is signed with the key and its public key
is written next to it as <archive>.pubkey. Otherwise the archive gets a
digest trailer using --algorithm.

Examples:
  crate sign app.phar                            # SHA-256 digest
  crate sign app.phar --algorithm sha512         # SHA-512 digest
  crate sign app.phar --key private.pem -p secret`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

var (
	signKey        string
	signPassphrase string
	signAlgorithm  string
	signFormat     string
)

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().StringVarP(&signKey, "key", "k", "", "PEM encoded private key")
	signCmd.Flags().StringVarP(&signPassphrase, "passphrase", "p", "", "Passphrase of the private key")
	signCmd.Flags().StringVarP(&signAlgorithm, "algorithm", "a", "SHA256", "Hash algorithm (MD5, SHA1, SHA256, SHA512)")
	addFormatFlag(signCmd, &signFormat)
}

func runSign(cmd *cobra.Command, args []string) error {
	archive := args[0]
	if info, err := os.Stat(archive); err != nil || !info.Mode().IsRegular() {
		return errors.NewFileError(errors.CodeNotFound,
			fmt.Sprintf("The file \"%s\" does not exist or is not a file.", archive), err).WithPath(archive)
	}

	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	c, err := crate.Create(archive, crate.WithLogger(logger))
	if err != nil {
		return err
	}

	if signKey != "" {
		err = c.SignUsingFile(signKey, signPassphrase)
	} else {
		var algorithm phar.SignatureAlgorithm
		if algorithm, err = phar.ParseSignatureAlgorithm(signAlgorithm); err == nil {
			err = c.SignWithHash(algorithm)
		}
	}
	if err != nil {
		return err
	}

	sig, err := crate.GetSignature(archive)
	if err != nil {
		return err
	}

	return writeReport(cmd.OutOrStdout(), signFormat, sig, func(w io.Writer) error {
		successColor.Fprintf(w, "Signed %s\n", archive)
		printField(w, "Signature", sig.HashType+" "+sig.Hash)
		if sig.Algorithm.Asymmetric() {
			printField(w, "Public key", phar.PublicKeyPath(archive))
		}
		return nil
	})
}
