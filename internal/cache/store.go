package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/conneroisu/crate/internal/errors"
)

// record is the on-disk form of an entry.
type record struct {
	Key       []byte    `cbor:"key"`
	Size      int       `cbor:"size"`
	Data      []byte    `cbor:"data"`
	CreatedAt time.Time `cbor:"created_at"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOptions.EncMode(); err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store is a directory of cache records. Records are written to a temporary
// file and renamed into place, so readers never see partial records.
type Store struct {
	dir    string
	memory *Memory
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMemory fronts the store with an LRU of maxSize bytes.
func WithMemory(maxSize int64) Option {
	return func(s *Store) {
		s.memory = NewMemory(maxSize)
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open returns a store rooted at dir, creating the directory if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.NewArgumentError(errors.CodeMissingArg, "a cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewFileError(errors.CodeWriteFailed, "unable to create the cache directory", err).WithPath(dir)
	}

	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the record file for key.
func (s *Store) Path(key Key) string {
	hex := key.String()

	return filepath.Join(s.dir, hex[:2], hex+".cbor")
}

// Get implements Cache. Missing, unreadable and corrupt records are misses.
func (s *Store) Get(key Key) ([]byte, bool) {
	if s.memory != nil {
		if data, ok := s.memory.Get(key); ok {
			return data, true
		}
	}

	raw, err := os.ReadFile(s.Path(key))
	if err != nil {
		return nil, false
	}

	var rec record
	if err := decMode.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	if !bytes.Equal(rec.Key, key[:]) || rec.Size != len(rec.Data) {
		return nil, false
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}

	if s.memory != nil {
		_ = s.memory.Put(key, rec.Data)
	}

	return rec.Data, true
}

// Put implements Cache.
func (s *Store) Put(key Key, data []byte) error {
	raw, err := encMode.Marshal(record{
		Key:       key[:],
		Size:      len(data),
		Data:      data,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return errors.NewInternalError(errors.CodeInvalidValue, "unable to encode the cache record", err)
	}

	path := s.Path(key)
	if err := writeFile(path, raw); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed, "unable to write the cache record", err).WithPath(path)
	}

	if s.memory != nil {
		_ = s.memory.Put(key, data)
	}

	return nil
}

// Stats returns the statistics of the in-memory front, if any.
func (s *Store) Stats() (Stats, bool) {
	if s.memory == nil {
		return Stats{}, false
	}

	return s.memory.Stats(), true
}

// Purge removes every record.
func (s *Store) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.NewFileError(errors.CodeOpenFailed, "unable to read the cache directory", err).WithPath(s.dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return errors.NewFileError(errors.CodeWriteFailed, "unable to purge the cache", err).WithPath(s.dir)
		}
	}
	if s.memory != nil {
		s.memory.Clear()
	}

	return nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
