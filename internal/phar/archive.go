// Package phar reads and writes PHP archives.
//
// An archive is laid out as
//
//	[stub ... __HALT_COMPILER(); ?>\r\n][manifest][entry payloads][signature]
//
// The manifest and every integer in it are little-endian. Entries keep the
// order in which they were added; re-adding a path replaces the payload in
// place.
package phar

import (
	"crypto"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/crate/internal/errors"
)

const (
	// HaltMarker separates the stub from the manifest.
	HaltMarker = "__HALT_COMPILER();"
	// stubSuffix is appended after the halt marker when a stub is installed.
	stubSuffix = " ?>\r\n"

	filePerm fs.FileMode = 0o644
	dirPerm  fs.FileMode = 0o755
)

// DefaultStub is installed when none is set. It maps the archive and runs
// the "index.php" entry.
const DefaultStub = "<?php\nPhar::mapPhar();\ninclude 'phar://' . __FILE__ . '/index.php';\n" + HaltMarker

// Entry is one file or directory of an archive.
type Entry struct {
	Name        string
	Dir         bool
	Data        []byte
	Timestamp   time.Time
	Compression Compression
	Perm        fs.FileMode
	Metadata    []byte
}

// Size returns the uncompressed payload size.
func (e Entry) Size() int {
	return len(e.Data)
}

// Option configures an Archive.
type Option func(*Archive)

// WithClock sets the source of entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		a.now = now
	}
}

// WithTimestamp stamps every entry with t, which makes builds reproducible.
func WithTimestamp(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

// Archive is an in-memory phar. Nothing touches disk until Flush.
type Archive struct {
	path        string
	stub        []byte
	alias       string
	metadata    []byte
	entries     []*Entry
	index       map[string]int
	compression Compression
	algorithm   SignatureAlgorithm
	signer      crypto.Signer
	sealed      bool
	now         func() time.Time
}

// New returns an empty archive that will be written to path.
func New(path string, opts ...Option) *Archive {
	a := &Archive{
		path:      path,
		index:     make(map[string]int),
		algorithm: DefaultSignatureAlgorithm,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Open reads the archive stored at path. A missing file yields an empty
// archive bound to that path.
func Open(path string, opts ...Option) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path, opts...), nil
		}
		return nil, errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%s: failed to open stream", path), err).WithPath(path)
	}

	a, err := Parse(data, opts...)
	if err != nil {
		return nil, err
	}
	a.path = path

	return a, nil
}

// Path returns the file the archive is written to.
func (a *Archive) Path() string {
	return a.path
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Sealed reports whether the archive still accepts changes.
func (a *Archive) Sealed() bool {
	return a.sealed
}

// Seal makes the archive read-only. Signing seals the archive.
func (a *Archive) Seal() {
	a.sealed = true
}

func (a *Archive) checkMutable() error {
	if a.sealed {
		return errors.NewArgumentError(errors.CodeSealed,
			fmt.Sprintf("The archive %q is sealed and cannot be modified.", a.path))
	}

	return nil
}

// SetStub installs the loader program. Everything after the first halt
// marker is discarded; a stub without one is rejected.
func (a *Archive) SetStub(stub string) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	end := haltIndex([]byte(stub))
	if end < 0 {
		return errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("Illegal stub for archive %q: no %s found.", a.path, HaltMarker))
	}
	end += len(HaltMarker)
	a.stub = append([]byte(stub[:end]), stubSuffix...)

	return nil
}

// Stub returns the installed stub including the halt marker suffix.
func (a *Archive) Stub() string {
	if a.stub == nil {
		return DefaultStub + stubSuffix
	}

	return string(a.stub)
}

// SetAlias sets the alias the stub registers the archive under.
func (a *Archive) SetAlias(alias string) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	if strings.ContainsAny(alias, `/\:;`) {
		return errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("Invalid alias %q specified for archive %q.", alias, a.path))
	}
	a.alias = alias

	return nil
}

// Alias returns the archive alias.
func (a *Archive) Alias() string {
	return a.alias
}

// SetMetadata stores v, serialized the way PHP does, in the manifest.
func (a *Archive) SetMetadata(v any) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	if v == nil {
		a.metadata = nil
		return nil
	}
	data, err := SerializeMetadata(v)
	if err != nil {
		return err
	}
	a.metadata = data

	return nil
}

// Metadata returns the serialized archive metadata.
func (a *Archive) Metadata() []byte {
	return a.metadata
}

// SetCompression compresses every current file entry with c and uses c for
// entries added later.
func (a *Archive) SetCompression(c Compression) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	if c != None && c != GZ {
		return errors.NewArgumentError(errors.CodeUnsupported,
			fmt.Sprintf("Cannot compress entries using %s.", c))
	}
	a.compression = c
	for _, e := range a.entries {
		if !e.Dir {
			e.Compression = c
		}
	}

	return nil
}

// Compression returns the compression used for new entries.
func (a *Archive) Compression() Compression {
	return a.compression
}

// SetSignatureAlgorithm chooses the trailer written by Flush. OpenSSL
// algorithms need a signer; for digest algorithms it is ignored.
func (a *Archive) SetSignatureAlgorithm(algo SignatureAlgorithm, signer crypto.Signer) error {
	if !algo.Valid() {
		return errors.NewSignatureError(errors.CodeUnsupported,
			fmt.Sprintf("Unknown signature algorithm %#x.", uint32(algo)), nil)
	}
	if algo.Asymmetric() && signer == nil {
		return errors.NewSignatureError(errors.CodeMissingArg,
			fmt.Sprintf("A private key is required to sign using %s.", algo), nil)
	}
	a.algorithm = algo
	a.signer = nil
	if algo.Asymmetric() {
		a.signer = signer
	}

	return nil
}

// SignatureAlgorithm returns the algorithm used by Flush.
func (a *Archive) SignatureAlgorithm() SignatureAlgorithm {
	return a.algorithm
}

// AddFromString adds or replaces a file entry.
func (a *Archive) AddFromString(name, contents string) error {
	return a.AddFromBytes(name, []byte(contents))
}

// AddFromBytes adds or replaces a file entry holding data.
func (a *Archive) AddFromBytes(name string, data []byte) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	clean, err := NormalizeName(name)
	if err != nil {
		return err
	}

	a.put(&Entry{
		Name:        clean,
		Data:        data,
		Timestamp:   a.now(),
		Compression: a.compression,
		Perm:        filePerm,
	})

	return nil
}

// AddFile adds the file at source under name, or under source when name is
// empty.
func (a *Archive) AddFile(source, name string) error {
	if name == "" {
		name = source
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return errors.NewFileError(errors.CodeOpenFailed,
			fmt.Sprintf("%s: failed to open stream", source), err).WithPath(source)
	}

	return a.AddFromBytes(filepath.ToSlash(name), data)
}

// AddEmptyDir adds a directory entry.
func (a *Archive) AddEmptyDir(name string) error {
	if err := a.checkMutable(); err != nil {
		return err
	}
	clean, err := NormalizeName(name)
	if err != nil {
		return err
	}

	a.put(&Entry{
		Name:      clean,
		Dir:       true,
		Timestamp: a.now(),
		Perm:      dirPerm,
	})

	return nil
}

func (a *Archive) put(e *Entry) {
	if i, ok := a.index[e.Name]; ok {
		a.entries[i] = e
		return
	}
	a.index[e.Name] = len(a.entries)
	a.entries = append(a.entries, e)
}

// Entry returns a copy of the named entry.
func (a *Archive) Entry(name string) (Entry, bool) {
	clean, err := NormalizeName(name)
	if err != nil {
		return Entry{}, false
	}
	i, ok := a.index[clean]
	if !ok {
		return Entry{}, false
	}

	return *a.entries[i], true
}

// Has reports whether the archive holds the named entry.
func (a *Archive) Has(name string) bool {
	_, ok := a.Entry(name)
	return ok
}

// Entries returns copies of all entries in insertion order.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	for i, e := range a.entries {
		out[i] = *e
	}

	return out
}

// NormalizeName converts an entry path to archive form: forward slashes,
// no leading slash and no "." or ".." segments. Segments that would climb
// above the root are dropped.
func NormalizeName(name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		return "", errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("Empty entry name %q.", name))
	}

	return clean, nil
}
