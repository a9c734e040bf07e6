package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/stub"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Print a generated stub",
	Long: `Generate the PHP loader stub placed in front of an archive and print it.

With --from-config the stub is generated from the stub section of the
configuration file, exactly as "crate build" would. Otherwise it is built
from the flags below.

Examples:
  crate stub --index bin/app.php --alias app.phar
  crate stub --web --index index.php --not-found 404.php --mimetype phps=0
  crate stub --extract --index bin/app.php -o stub.php
  crate stub --from-config`,
	Args: cobra.NoArgs,
	RunE: runStub,
}

type stubOptions struct {
	alias        string
	index        string
	banner       string
	noBanner     bool
	shebang      string
	intercept    bool
	web          bool
	notFound     string
	rewrite      string
	mung         []string
	extract      bool
	extractForce bool
	lsb          map[string]string
	mimetypes    map[string]string
	output       string
	fromConfig   bool
}

var stubOpts stubOptions

func init() {
	rootCmd.AddCommand(stubCmd)

	flags := stubCmd.Flags()
	flags.StringVar(&stubOpts.alias, "alias", "", "Alias registered by Phar::mapPhar()")
	flags.StringVar(&stubOpts.index, "index", "", "Script run when the archive is executed")
	flags.StringVar(&stubOpts.banner, "banner", stub.DefaultBanner, "Banner comment placed under the open tag")
	flags.BoolVar(&stubOpts.noBanner, "no-banner", false, "Omit the banner comment")
	flags.StringVar(&stubOpts.shebang, "shebang", stub.DefaultShebang, "Shebang line (empty to omit)")
	flags.BoolVar(&stubOpts.intercept, "intercept", false, "Intercept file functions")
	flags.BoolVar(&stubOpts.web, "web", false, "Use Phar::webPhar()")
	flags.StringVar(&stubOpts.notFound, "not-found", "", "Script served for missing files (web)")
	flags.StringVar(&stubOpts.rewrite, "rewrite", "", "URL rewrite function (web)")
	flags.StringSliceVar(&stubOpts.mung, "mung", nil, "$_SERVER variables to mung")
	flags.BoolVar(&stubOpts.extract, "extract", false, "Embed the self-extracting loader")
	flags.BoolVar(&stubOpts.extractForce, "extract-force", false, "Always extract, even when the phar extension is loaded")
	flags.StringToStringVar(&stubOpts.lsb, "lsb", nil, "LSB init block parameters (provides=app,...)")
	flags.StringToStringVar(&stubOpts.mimetypes, "mimetype", nil, "Mime type overrides for web archives (ext=type)")
	flags.StringVarP(&stubOpts.output, "output", "o", "", "Write the stub to a file instead of stdout")
	flags.BoolVar(&stubOpts.fromConfig, "from-config", false, "Generate the stub from the configuration file")
}

func runStub(cmd *cobra.Command, args []string) error {
	g := stubOpts.generator()
	if stubOpts.fromConfig {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		g = cfg.Generator()
	}

	contents, err := g.Generate()
	if err != nil {
		return err
	}

	if stubOpts.output == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), contents)
		return err
	}

	if err := os.WriteFile(stubOpts.output, []byte(contents), 0o644); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to write the stub to \"%s\".", stubOpts.output), err).WithPath(stubOpts.output)
	}
	successColor.Fprintf(cmd.OutOrStdout(), "Stub written to %s\n", stubOpts.output)

	return nil
}

func (o *stubOptions) generator() *stub.Generator {
	g := stub.New().
		Alias(o.alias).
		Index(o.index).
		Shebang(o.shebang).
		Intercept(o.intercept).
		Web(o.web).
		NotFound(o.notFound).
		Rewrite(o.rewrite).
		Extract(o.extract, o.extractForce).
		Mung(o.mung...)

	if o.noBanner {
		g.NoBanner()
	} else {
		g.Banner(o.banner)
	}
	if len(o.mimetypes) > 0 {
		mimetypes := make(map[string]any, len(o.mimetypes))
		for ext, typ := range o.mimetypes {
			// Phar::PHP and Phar::PHPS are passed as integers.
			if n, err := strconv.Atoi(typ); err == nil {
				mimetypes[ext] = n
			} else {
				mimetypes[ext] = typ
			}
		}
		g.Mimetypes(mimetypes)
	}
	for param, value := range o.lsb {
		g.LSBInitParam(param, value)
	}

	return g
}
