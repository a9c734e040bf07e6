// Package build turns a loaded configuration into a phar archive: it
// collects the sources, runs them through the crate, installs the stub and
// signs the result.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/crate/internal/annotations"
	"github.com/conneroisu/crate/internal/cache"
	"github.com/conneroisu/crate/internal/compactor"
	"github.com/conneroisu/crate/internal/config"
	"github.com/conneroisu/crate/internal/crate"
	"github.com/conneroisu/crate/internal/errors"
	"github.com/conneroisu/crate/internal/logging"
	"github.com/conneroisu/crate/internal/phar"
)

// DefaultCacheMemory bounds the in-memory front of the compaction cache.
const DefaultCacheMemory = 32 << 20

// Pipeline builds the archive described by a configuration.
type Pipeline struct {
	cfg       *config.Config
	logger    logging.Logger
	metrics   *BuildMetrics
	callbacks []BuildCallback
	mutex     sync.Mutex
}

// Result describes a finished build.
type Result struct {
	Output    string         `json:"output" yaml:"output"`
	Entries   int            `json:"entries" yaml:"entries"`
	Size      int64          `json:"size" yaml:"size"`
	Signature phar.Signature `json:"signature" yaml:"signature"`
	PublicKey string         `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	Cache     *cache.Stats   `json:"cache,omitempty" yaml:"cache,omitempty"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
}

// BuildCallback is called when a build completes, successfully or not.
type BuildCallback func(result *Result, err error)

// NewPipeline returns a pipeline for cfg.
func NewPipeline(cfg *config.Config, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  logger.WithComponent("build"),
		metrics: NewBuildMetrics(),
	}
}

// AddCallback registers a callback run after every build.
func (p *Pipeline) AddCallback(callback BuildCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// Metrics returns the metrics of the builds run so far.
func (p *Pipeline) Metrics() *BuildMetrics {
	return p.metrics
}

// Run builds the archive. An archive left by a previous build is only
// replaced once the new one is written. Builds are serialized.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	start := time.Now()
	result, err := p.run(ctx)
	if result != nil {
		result.Duration = time.Since(start)
	}

	p.metrics.RecordBuild(result, err, time.Since(start))
	for _, callback := range p.callbacks {
		callback(result, err)
	}

	return result, err
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	output := p.cfg.OutputPath()
	op := logging.StartOperation(p.logger, "build")

	if err := p.prepare(output); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	var store *cache.Store
	if p.cfg.CacheDir != "" {
		var err error
		store, err = cache.Open(p.cfg.Path(p.cfg.CacheDir), cache.WithMemory(DefaultCacheMemory))
		if err != nil {
			op.EndWithError(ctx, err)
			return nil, err
		}
	}

	c, err := p.newCrate(ctx, output, store)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	steps := []struct {
		name string
		run  func(context.Context, *crate.Crate) error
	}{
		{"add-files", p.addFiles},
		{"add-main", p.addMain},
		{"add-directories", p.addDirectories},
		{"stub", p.installStub},
		{"sign", p.sign},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			op.EndWithError(ctx, err)
			return nil, err
		}

		stepOp := logging.StartOperation(p.logger, step.name)
		if err := step.run(ctx, c); err != nil {
			stepOp.EndWithError(ctx, err)
			op.EndWithError(ctx, err)
			return nil, err
		}
		stepOp.End(ctx, "entries", c.Archive().Len())
	}

	if err := p.chmod(output); err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}

	result, err := p.result(c, store)
	if err != nil {
		op.EndWithError(ctx, err)
		return nil, err
	}
	op.End(ctx, "output", output, "entries", result.Entries, "size", result.Size)

	return result, nil
}

// prepare makes sure the output directory exists.
func (p *Pipeline) prepare(output string) error {
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to create the output directory \"%s\".", dir), err).WithPath(dir)
	}

	return nil
}

func (p *Pipeline) newCrate(ctx context.Context, output string, store *cache.Store) (*crate.Crate, error) {
	var archiveOpts []phar.Option
	if p.cfg.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, p.cfg.Timestamp)
		if err != nil {
			return nil, errors.NewConfigError(errors.CodeInvalidSetting, "timestamp: "+err.Error())
		}
		archiveOpts = append(archiveOpts, phar.WithTimestamp(t))
	}

	opts := []crate.Option{
		crate.WithLogger(p.logger),
		crate.WithAlias(p.cfg.Alias),
		crate.WithArchiveOptions(archiveOpts...),
		crate.WithOverwrite(),
	}
	if store != nil {
		opts = append(opts, crate.WithCache(store))
	}

	c, err := crate.Create(output, opts...)
	if err != nil {
		return nil, err
	}

	compression, err := phar.ParseCompression(p.cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := c.Archive().SetCompression(compression); err != nil {
		return nil, err
	}
	if p.cfg.Metadata != nil {
		if err := c.Archive().SetMetadata(p.cfg.Metadata); err != nil {
			return nil, err
		}
	}

	compactors, err := p.compactors()
	if err != nil {
		return nil, err
	}
	for _, cc := range compactors {
		c.AddCompactor(cc)
	}

	if err := c.SetValues(p.cfg.Replacements); err != nil {
		return nil, err
	}

	p.logger.Debug(ctx, "Crate ready",
		"compactors", len(c.Compactors()),
		"placeholders", len(c.Values()))

	return c, nil
}

// compactors instantiates the configured compactors, enabling annotation
// compaction on the PHP compactor when configured.
func (p *Pipeline) compactors() ([]compactor.Compactor, error) {
	list := make([]compactor.Compactor, 0, len(p.cfg.Compactors))
	for _, name := range p.cfg.Compactors {
		cc, ok := compactor.New(name)
		if !ok {
			return nil, errors.NewConfigError(errors.CodeInvalidSetting,
				fmt.Sprintf("compactors: unknown compactor %q", name))
		}
		if php, ok := cc.(*compactor.PHP); ok && p.cfg.Annotations.Enabled {
			php.SetTokenizer(annotations.NewTokenizer().Ignore(p.cfg.Annotations.Ignore...))
		}
		list = append(list, cc)
	}

	return list, nil
}

func (p *Pipeline) addFiles(ctx context.Context, c *crate.Crate) error {
	items := make([]crate.Item, 0, len(p.cfg.Files))
	for _, f := range p.cfg.Files {
		items = append(items, crate.Item{Key: f, Value: crate.FileRef(p.cfg.Path(f))})
	}

	return c.BuildFromIterator(ctx, crate.Items(items...), p.cfg.BasePath)
}

// addMain adds the main script without its shebang line, unless it was
// already added from the file or directory lists.
func (p *Pipeline) addMain(_ context.Context, c *crate.Crate) error {
	if p.cfg.Main == "" {
		return nil
	}
	name, err := phar.NormalizeName(filepath.ToSlash(p.cfg.Main))
	if err != nil {
		return err
	}
	if c.Archive().Has(name) {
		return nil
	}

	contents, err := crate.ReadRegularFile(p.cfg.Path(p.cfg.Main))
	if err != nil {
		return err
	}

	return c.AddFromString(name, stripShebang(string(contents)))
}

func stripShebang(contents string) string {
	if !strings.HasPrefix(contents, "#!") {
		return contents
	}
	if i := strings.IndexByte(contents, '\n'); i >= 0 {
		return contents[i+1:]
	}

	return ""
}

// addDirectories walks every configured directory, storing files under
// their path relative to the base path. The archive itself and the cache
// are never added.
func (p *Pipeline) addDirectories(ctx context.Context, c *crate.Crate) error {
	re, err := crate.CompilePattern(p.cfg.Pattern)
	if err != nil {
		return err
	}

	output := p.cfg.OutputPath()
	excluded := []string{output, phar.PublicKeyPath(output)}
	cacheDir := p.cfg.Path(p.cfg.CacheDir)

	keep := func(path string) bool {
		for _, ex := range excluded {
			if sameFile(path, ex) {
				return false
			}
		}
		if p.cfg.CacheDir != "" && within(path, cacheDir) {
			return false
		}
		return re == nil || re.MatchString(path)
	}

	for _, dir := range p.cfg.Directories {
		seq := crate.Filter(crate.WalkDir(p.cfg.Path(dir)), keep)
		if err := c.BuildFromIterator(ctx, seq, p.cfg.BasePath); err != nil {
			return err
		}
	}

	return nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)

	return errA == nil && errB == nil && absA == absB
}

func within(path, dir string) bool {
	absPath, errP := filepath.Abs(path)
	absDir, errD := filepath.Abs(dir)

	return errP == nil && errD == nil && strings.HasPrefix(absPath, absDir+string(filepath.Separator))
}

func (p *Pipeline) installStub(_ context.Context, c *crate.Crate) error {
	if p.cfg.Stub.File != "" {
		return c.SetStubUsingFile(p.cfg.Path(p.cfg.Stub.File), p.cfg.Stub.Replace)
	}

	stub, err := p.cfg.Generator().Generate()
	if err != nil {
		return err
	}

	return c.SetStub(stub)
}

// sign writes the archive with its signature, using the private key for
// OpenSSL signatures. A public key left by a previous OpenSSL build is
// removed once a digest signed archive replaces it.
func (p *Pipeline) sign(_ context.Context, c *crate.Crate) error {
	algorithm, err := phar.ParseSignatureAlgorithm(p.cfg.Algorithm)
	if err != nil {
		return err
	}

	if algorithm.Asymmetric() {
		return c.SignUsingFile(p.cfg.Path(p.cfg.Key), p.cfg.KeyPass)
	}

	if err := c.SignWithHash(algorithm); err != nil {
		return err
	}

	pubkey := phar.PublicKeyPath(c.File())
	if err := os.Remove(pubkey); err != nil && !os.IsNotExist(err) {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to remove the stale public key \"%s\".", pubkey), err).WithPath(pubkey)
	}

	return nil
}

func (p *Pipeline) chmod(output string) error {
	if p.cfg.Chmod == "" {
		return nil
	}

	mode, err := config.ParseMode(p.cfg.Chmod)
	if err != nil {
		return errors.NewConfigError(errors.CodeInvalidSetting, "chmod: "+err.Error())
	}
	if err := os.Chmod(output, os.FileMode(mode)); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to change the mode of \"%s\".", output), err).WithPath(output)
	}

	return nil
}

func (p *Pipeline) result(c *crate.Crate, store *cache.Store) (*Result, error) {
	output := c.File()

	info, err := os.Stat(output)
	if err != nil {
		return nil, errors.NewFileError(errors.CodeNotFound,
			fmt.Sprintf("The file \"%s\" does not exist or is not a file.", output), err).WithPath(output)
	}

	sig, err := crate.GetSignature(output)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Output:    output,
		Entries:   c.Archive().Len(),
		Size:      info.Size(),
		Signature: sig,
	}
	if sig.Algorithm.Asymmetric() {
		result.PublicKey = phar.PublicKeyPath(output)
	}
	if store != nil {
		if stats, ok := store.Stats(); ok {
			result.Cache = &stats
		}
	}

	return result, nil
}
