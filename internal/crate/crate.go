// Package crate builds phar archives. A Crate runs every file through
// placeholder substitution and a compactor chain before committing it to
// the archive, installs the stub and signs the result.
package crate

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/crate/internal/cache"
	"github.com/conneroisu/crate/internal/compactor"
	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/logging"
	"github.com/conneroisu/crate/internal/phar"
	"github.com/conneroisu/crate/internal/signer"
)

// Crate is an archive under construction. It is not safe for concurrent
// use.
type Crate struct {
	archive    *phar.Archive
	compactors compactor.Chain
	values     map[string]any
	replacer   *strings.Replacer
	cache      cache.Cache
	logger     logging.Logger
}

// Option configures a Crate.
type Option func(*options)

type options struct {
	logger      logging.Logger
	cache       cache.Cache
	alias       string
	archiveOpts []phar.Option
	overwrite   bool
}

// WithLogger sets the logger. Crates are silent by default.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCache stores compacted contents in c and reuses them across builds.
func WithCache(c cache.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithAlias sets the alias of the archive.
func WithAlias(alias string) Option {
	return func(o *options) {
		o.alias = alias
	}
}

// WithArchiveOptions passes options to the archive opened by Create.
func WithArchiveOptions(opts ...phar.Option) Option {
	return func(o *options) {
		o.archiveOpts = append(o.archiveOpts, opts...)
	}
}

// WithOverwrite makes Create start from an empty archive even when the
// file exists. The file is only replaced when the archive is written.
func WithOverwrite() Option {
	return func(o *options) {
		o.overwrite = true
	}
}

// New returns a Crate that builds into archive.
func New(archive *phar.Archive, opts ...Option) (*Crate, error) {
	o := &options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	if o.alias != "" {
		if err := archive.SetAlias(o.alias); err != nil {
			return nil, err
		}
	}

	return &Crate{
		archive:  archive,
		values:   map[string]any{},
		replacer: strings.NewReplacer(),
		cache:    o.cache,
		logger:   o.logger.WithComponent("crate"),
	}, nil
}

// Create opens the archive at file, starting an empty one when the file
// does not exist or WithOverwrite is given, and returns a Crate building
// into it.
func Create(file string, opts ...Option) (*Crate, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.overwrite {
		return New(phar.New(file, o.archiveOpts...), opts...)
	}

	archive, err := phar.Open(file, o.archiveOpts...)
	if err != nil {
		return nil, err
	}

	return New(archive, opts...)
}

// Archive returns the underlying archive.
func (c *Crate) Archive() *phar.Archive {
	return c.archive
}

// File returns the path the archive is written to.
func (c *Crate) File() string {
	return c.archive.Path()
}

// AddCompactor appends compactor to the chain. The same compactor may be
// added more than once.
func (c *Crate) AddCompactor(compactor compactor.Compactor) {
	c.compactors.Add(compactor)
}

// Compactors returns a copy of the compactor chain.
func (c *Crate) Compactors() compactor.Chain {
	return append(compactor.Chain(nil), c.compactors...)
}

// SetValues replaces the placeholder values. Values must be scalars:
// strings, booleans or numbers.
func (c *Crate) SetValues(values map[string]any) error {
	rendered := make(map[string]string, len(values))
	for token, v := range values {
		if token == "" {
			return errors.NewArgumentError(errors.CodeInvalidValue, "Placeholder tokens must not be empty.")
		}
		s, ok := scalarString(v)
		if !ok {
			return errors.NewArgumentError(errors.CodeInvalidValue,
				fmt.Sprintf("Non-scalar values (such as %s) are not supported.", kindOf(v)))
		}
		rendered[token] = s
	}

	c.values = maps.Clone(values)
	if c.values == nil {
		c.values = map[string]any{}
	}
	c.replacer = newReplacer(rendered)

	return nil
}

// Values returns a copy of the placeholder values.
func (c *Crate) Values() map[string]any {
	return maps.Clone(c.values)
}

// ReplaceValues substitutes every placeholder in contents. Tokens without
// a value are left as they are, and replacement values are not expanded
// again.
func (c *Crate) ReplaceValues(contents string) string {
	return c.replacer.Replace(contents)
}

// CompactContents runs contents through every compactor supporting path.
// Contents are returned unchanged when none does.
func (c *Crate) CompactContents(path string, contents []byte) ([]byte, error) {
	fingerprint := c.compactors.Fingerprint(path)
	if fingerprint == "" || c.cache == nil {
		return c.compactors.Compact(path, contents)
	}

	key := cache.NewKey([]byte(fingerprint), []byte(filepath.Ext(path)), contents)
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}

	data, err := c.compactors.Compact(path, contents)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(key, data); err != nil {
		c.logger.Warn(context.Background(), err, "Unable to cache compacted contents", "path", path)
	}

	return data, nil
}

// AddFile adds the file at source under name. An empty name stores the
// file under its source path.
func (c *Crate) AddFile(source, name string) error {
	contents, err := ReadRegularFile(source)
	if err != nil {
		return err
	}
	if name == "" {
		name = source
	}

	return c.AddFromString(filepath.ToSlash(name), string(contents))
}

// AddFromString adds contents under name after placeholder substitution
// and compaction.
func (c *Crate) AddFromString(name, contents string) error {
	data, err := c.CompactContents(name, []byte(c.ReplaceValues(contents)))
	if err != nil {
		return errors.Wrap(err, name)
	}
	if err := c.archive.AddFromBytes(name, data); err != nil {
		return err
	}

	c.logger.Debug(context.Background(), "Added file", "name", name, "size", len(data))

	return nil
}

// AddEmptyDir adds a directory entry.
func (c *Crate) AddEmptyDir(name string) error {
	if err := c.archive.AddEmptyDir(name); err != nil {
		return err
	}

	c.logger.Debug(context.Background(), "Added directory", "name", name)

	return nil
}

// SetStub installs stub as the archive's loader.
func (c *Crate) SetStub(stub string) error {
	return c.archive.SetStub(stub)
}

// SetStubUsingFile installs the contents of file as the stub, substituting
// placeholders first when replace is set.
func (c *Crate) SetStubUsingFile(file string, replace bool) error {
	contents, err := ReadRegularFile(file)
	if err != nil {
		return err
	}

	stub := string(contents)
	if replace {
		stub = c.ReplaceValues(stub)
	}

	return c.archive.SetStub(stub)
}

// Flush writes the archive to disk.
func (c *Crate) Flush() error {
	return c.archive.Flush()
}

// Sign signs the archive with a PEM encoded RSA or ECDSA private key and
// writes the archive followed by its public key (<archive>.pubkey). The
// archive is sealed afterwards.
func (c *Crate) Sign(key []byte, passphrase string) error {
	privateKey, err := signer.ParsePrivateKey(key, passphrase)
	if err != nil {
		return err
	}

	if err := c.archive.SetSignatureAlgorithm(phar.OpenSSL, privateKey); err != nil {
		return err
	}
	c.archive.Seal()

	if err := c.archive.Flush(); err != nil {
		return err
	}
	if err := signer.WritePublicKey(phar.PublicKeyPath(c.File()), privateKey); err != nil {
		return err
	}

	c.logger.Info(context.Background(), "Signed archive", "file", c.File(), "algorithm", phar.OpenSSL.String())

	return nil
}

// SignUsingFile signs the archive with the private key stored in file.
func (c *Crate) SignUsingFile(file, passphrase string) error {
	key, err := signer.ReadKeyFile(file)
	if err != nil {
		return err
	}

	return c.Sign(key, passphrase)
}

// SignWithHash seals the archive and writes it with a digest trailer.
func (c *Crate) SignWithHash(algorithm phar.SignatureAlgorithm) error {
	if algorithm.Asymmetric() {
		return errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The %s algorithm requires a private key.", algorithm))
	}
	if err := c.archive.SetSignatureAlgorithm(algorithm, nil); err != nil {
		return err
	}
	c.archive.Seal()

	if err := c.archive.Flush(); err != nil {
		return err
	}

	c.logger.Info(context.Background(), "Signed archive", "file", c.File(), "algorithm", algorithm.String())

	return nil
}

// GetSignature reads the signature of the archive at path.
func GetSignature(path string) (phar.Signature, error) {
	return phar.ReadSignature(path)
}

// ReadRegularFile reads file, failing unless it is an existing regular
// file.
func ReadRegularFile(file string) ([]byte, error) {
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errors.NewFileError(errors.CodeNotFound,
			fmt.Sprintf("The file \"%s\" does not exist or is not a file.", file), nil).WithPath(file)
	}

	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.NewFileError(errors.CodeOpenFailed,
			file+": failed to open stream", err).WithPath(file)
	}

	return contents, nil
}
