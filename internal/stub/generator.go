// Package stub generates the PHP bootstrap loader that precedes the payload
// of a phar archive.
//
// Usage:
//
//	s, err := stub.New().
//	    Alias("app.phar").
//	    Index("bin/app.php").
//	    Generate()
package stub

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/crate/internal/errors"
)

const (
	// DefaultShebang is the shebang line of generated stubs.
	DefaultShebang = "#!/usr/bin/env php"
	// DefaultBanner is the comment placed under the open tag.
	DefaultBanner = "Generated by Crate.\n\n@link https://github.com/conneroisu/crate"
	// HaltCompiler ends every generated stub.
	HaltCompiler = "__HALT_COMPILER();"
)

// LSBInitParams lists the LSB init header keys, in output order.
var LSBInitParams = []string{
	"Provides",
	"Required-Start",
	"Required-Stop",
	"Default-Start",
	"Default-Stop",
	"Short-Description",
	"Description",
}

// MungVariables lists the $_SERVER variables Phar::mungServer accepts.
var MungVariables = []string{
	"PHP_SELF",
	"REQUEST_URI",
	"SCRIPT_FILENAME",
	"SCRIPT_NAME",
}

// Config is a validated, immutable set of stub options. The zero value
// generates a bare mapPhar stub without shebang or banner.
type Config struct {
	alias        string
	banner       *string
	extract      bool
	extractForce bool
	extractCode  ExtractCode
	index        string
	intercept    bool
	lsb          map[string]string
	mimetypes    map[string]any
	mung         []string
	notFound     string
	rewrite      string
	shebang      string
	web          bool
}

// Generator collects stub options. Every setter returns the generator so
// calls can be chained; invalid values are reported by Build.
type Generator struct {
	cfg    Config
	loader ExtractLoader
	err    error
}

// New returns a generator with the default shebang and banner.
func New() *Generator {
	banner := DefaultBanner

	return &Generator{
		cfg: Config{
			banner:  &banner,
			shebang: DefaultShebang,
			lsb:     map[string]string{},
		},
		loader: EmbeddedExtract{},
	}
}

func (g *Generator) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

// Alias sets the alias used in "phar://" URLs.
func (g *Generator) Alias(alias string) *Generator {
	g.cfg.alias = alias
	return g
}

// Banner sets the text of the comment placed under the open tag.
func (g *Generator) Banner(banner string) *Generator {
	g.cfg.banner = &banner
	return g
}

// NoBanner removes the banner comment.
func (g *Generator) NoBanner() *Generator {
	g.cfg.banner = nil
	return g
}

// Extract embeds the self-extracting loader. When force is set the archive
// is always extracted, even where the phar extension is available.
func (g *Generator) Extract(extract, force bool) *Generator {
	g.cfg.extract = extract
	g.cfg.extractForce = force
	return g
}

// ExtractLoader replaces the source of the embedded extractor.
func (g *Generator) ExtractLoader(loader ExtractLoader) *Generator {
	g.loader = loader
	return g
}

// Index sets the script run when the archive is executed.
func (g *Generator) Index(index string) *Generator {
	g.cfg.index = index
	return g
}

// Intercept enables Phar::interceptFileFuncs().
func (g *Generator) Intercept(intercept bool) *Generator {
	g.cfg.intercept = intercept
	return g
}

// LSBInitParam sets an LSB init header value. Names are case-insensitive
// and must be one of LSBInitParams.
func (g *Generator) LSBInitParam(param, value string) *Generator {
	name := normalizeLSBParam(param)
	if !slices.Contains(LSBInitParams, name) {
		g.fail(errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The LSB init parameter \"%s\" is not allowed.", name)))
		return g
	}

	g.cfg.lsb[name] = value
	return g
}

// Mimetypes sets the extension to mimetype map passed to Phar::webPhar().
// Values are strings or integers such as Phar::PHP (0) and Phar::PHPS (1).
func (g *Generator) Mimetypes(mimetypes map[string]any) *Generator {
	g.cfg.mimetypes = maps.Clone(mimetypes)
	return g
}

// Mung sets the $_SERVER variables passed to Phar::mungServer(). The list
// is left untouched when it holds a variable outside MungVariables.
func (g *Generator) Mung(variables ...string) *Generator {
	for _, v := range variables {
		if !slices.Contains(MungVariables, v) {
			g.fail(errors.NewArgumentError(errors.CodeInvalidValue,
				fmt.Sprintf("The $_SERVER variable \"%s\" is not allowed.", v)))
			return g
		}
	}

	g.cfg.mung = slices.Clone(variables)
	return g
}

// NotFound sets the script run by webPhar() for missing files.
func (g *Generator) NotFound(script string) *Generator {
	g.cfg.notFound = script
	return g
}

// Rewrite sets the name of the webPhar() rewrite function.
func (g *Generator) Rewrite(function string) *Generator {
	g.cfg.rewrite = function
	return g
}

// Shebang sets the first line of the stub. An empty shebang omits it.
func (g *Generator) Shebang(shebang string) *Generator {
	g.cfg.shebang = shebang
	return g
}

// Web uses Phar::webPhar() instead of Phar::mapPhar().
func (g *Generator) Web(web bool) *Generator {
	g.cfg.web = web
	return g
}

// Build validates the options and returns them as a Config. The generator
// may keep being used; later changes do not affect the returned Config.
func (g *Generator) Build() (Config, error) {
	if g.err != nil {
		return Config{}, g.err
	}

	cfg := g.cfg
	cfg.lsb = maps.Clone(g.cfg.lsb)
	cfg.mimetypes = maps.Clone(g.cfg.mimetypes)
	cfg.mung = slices.Clone(g.cfg.mung)
	if cfg.banner != nil {
		banner := *cfg.banner
		cfg.banner = &banner
	}

	if _, err := exportMap(cfg.mimetypes); err != nil {
		return Config{}, errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The mimetype %s", err))
	}

	if cfg.extract {
		if g.loader == nil {
			return Config{}, errors.NewArgumentError(errors.CodeMissingArg, "an extract loader is required")
		}
		src, err := g.loader.Load()
		if err != nil {
			return Config{}, errors.NewFileError(errors.CodeOpenFailed, "unable to load the extractor", err)
		}
		if cfg.extractCode, err = ParseExtract(src); err != nil {
			return Config{}, err
		}
		code := slices.Concat(cfg.extractCode.Constants, cfg.extractCode.Class)
		if strings.Contains(strings.Join(code, "\n"), HaltCompiler) {
			return Config{}, errors.NewFormatError(errors.CodeInvalidSyntax,
				"the extractor source must not contain "+HaltCompiler, nil)
		}
	}

	return cfg, nil
}

// Generate builds the options and renders the stub.
func (g *Generator) Generate() (string, error) {
	cfg, err := g.Build()
	if err != nil {
		return "", err
	}

	return cfg.Generate(), nil
}

// Alias returns the configured alias.
func (c Config) Alias() string { return c.alias }

// Index returns the configured index script.
func (c Config) Index() string { return c.index }

// Web reports whether the stub uses Phar::webPhar().
func (c Config) Web() bool { return c.web }

// Extract reports whether the extractor is embedded and whether its use is
// forced.
func (c Config) Extract() (extract, force bool) { return c.extract, c.extractForce }

// Generate renders the stub.
func (c Config) Generate() string {
	var stub []string

	if c.shebang != "" {
		stub = append(stub, c.shebang)
	}
	stub = append(stub, "<?php")

	if len(c.lsb) > 0 {
		stub = append(stub, c.lsbBlock()...)
	}

	if c.banner != nil {
		stub = append(stub, formatBanner(*c.banner))
	}

	if c.extract {
		stub = append(stub, strings.Join(c.extractCode.Constants, "\n"))
		if c.extractForce {
			stub = append(stub, extractSections()...)
		}
	}

	stub = append(stub, c.pharSections()...)

	if c.extract {
		if c.extractForce {
			if c.index != "" && !c.web {
				stub = append(stub, c.extractedRequire())
			}
		} else {
			stub[len(stub)-1] += " else {"
			stub = append(stub, extractSections()...)
			if c.index != "" {
				stub = append(stub, c.extractedRequire())
			}
			stub = append(stub, "}")
		}
		stub = append(stub, strings.Join(c.extractCode.Class, "\n"))
	}

	stub = append(stub, HaltCompiler)

	return strings.Join(stub, "\n")
}

func (c Config) lsbBlock() []string {
	width := 0
	for name := range c.lsb {
		width = max(width, len(name))
	}

	block := []string{"/*", "### BEGIN INIT INFO"}
	for _, name := range LSBInitParams {
		if value, ok := c.lsb[name]; ok {
			block = append(block, fmt.Sprintf("# %-*s%s", width+3, name+":", value))
		}
	}

	return append(block, "### END INIT INFO", "*/")
}

func (c Config) pharSections() []string {
	sections := []string{
		"if (class_exists('Phar')) {",
		c.registration(),
	}

	if c.intercept {
		sections = append(sections, "Phar::interceptFileFuncs();")
	}
	if len(c.mung) > 0 {
		sections = append(sections, "Phar::mungServer("+exportList(c.mung)+");")
	}
	if c.index != "" && !c.web && !c.extractForce {
		sections = append(sections, "require 'phar://' . __FILE__ . "+arg("/"+c.index, '\'')+";")
	}

	return append(sections, "}")
}

// registration renders the mapPhar() or webPhar() call. Each optional
// webPhar() argument is only written when all preceding ones are set.
func (c Config) registration() string {
	if !c.web {
		return "Phar::mapPhar(" + arg(c.alias, '\'') + ");"
	}

	prefix := ""
	if c.extractForce {
		prefix = "$dir/"
	}

	args := []string{arg(c.alias, '\'')}
	if c.index != "" {
		args = append(args, arg(prefix+c.index, '"'))
		if c.notFound != "" {
			args = append(args, arg(prefix+c.notFound, '"'))
			if len(c.mimetypes) > 0 {
				// Build rejects maps that cannot be exported.
				mimetypes, _ := exportMap(c.mimetypes)
				args = append(args, mimetypes)
				if c.rewrite != "" {
					args = append(args, arg(c.rewrite, '\''))
				}
			}
		}
	}

	return "Phar::webPhar(" + strings.Join(args, ", ") + ");"
}

func (c Config) extractedRequire() string {
	return "require " + arg("$dir/"+c.index, '"') + ";"
}

func extractSections() []string {
	return []string{
		"$extract = new Extract(__FILE__, Extract::findStubLength(__FILE__));",
		"$dir = $extract->go();",
		"set_include_path($dir . PATH_SEPARATOR . get_include_path());",
	}
}

// arg quotes s with quote, escaping occurrences of the quote character.
func arg(s string, quote byte) string {
	q := string(quote)

	return q + strings.ReplaceAll(s, q, `\`+q) + q
}

func formatBanner(banner string) string {
	body := strings.ReplaceAll(banner, "\n", "\n * ")
	body = strings.ReplaceAll(body, " \n", "\n")

	return "/**\n * " + body + "\n */"
}

// normalizeLSBParam turns "required-start" into "Required-Start".
func normalizeLSBParam(param string) string {
	parts := strings.Split(strings.ToLower(param), "-")
	caser := cases.Title(language.Und)
	for i, part := range parts {
		parts[i] = caser.String(part)
	}

	return strings.Join(parts, "-")
}
