package phar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/conneroisu/crate/internal/errors"
)

const (
	apiVersionHigh = 0x11
	apiVersionLow  = 0x10

	flagSignature uint32 = 0x00010000
	permMask      uint32 = 0x000001FF
)

// Bytes assembles the archive: stub, manifest, payloads and signature.
func (a *Archive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(a.Stub())

	payloads := make([][]byte, len(a.entries))
	var manifest []byte
	manifest = binary.LittleEndian.AppendUint32(manifest, uint32(len(a.entries)))
	manifest = append(manifest, apiVersionHigh, apiVersionLow)

	flags := flagSignature
	for _, e := range a.entries {
		if !e.Dir {
			flags |= uint32(e.Compression)
		}
	}
	manifest = binary.LittleEndian.AppendUint32(manifest, flags)
	manifest = appendString(manifest, []byte(a.alias))
	manifest = appendString(manifest, a.metadata)

	for i, e := range a.entries {
		name := e.Name
		data := e.Data
		compression := e.Compression
		perm := e.Perm
		if e.Dir {
			name += "/"
			data = nil
			compression = None
		}
		if perm == 0 {
			perm = filePerm
		}

		stored, err := compress(compression, data)
		if err != nil {
			return nil, err
		}
		payloads[i] = stored

		manifest = appendString(manifest, []byte(name))
		manifest = binary.LittleEndian.AppendUint32(manifest, uint32(len(data)))
		manifest = binary.LittleEndian.AppendUint32(manifest, uint32(e.Timestamp.Unix()))
		manifest = binary.LittleEndian.AppendUint32(manifest, uint32(len(stored)))
		manifest = binary.LittleEndian.AppendUint32(manifest, crc32.ChecksumIEEE(data))
		manifest = binary.LittleEndian.AppendUint32(manifest, uint32(perm)&permMask|uint32(compression))
		manifest = appendString(manifest, e.Metadata)
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(manifest)))
	buf.Write(size[:])
	buf.Write(manifest)
	for _, p := range payloads {
		buf.Write(p)
	}

	trailer, err := sign(buf.Bytes(), a.algorithm, a.signer)
	if err != nil {
		return nil, err
	}
	buf.Write(trailer)

	return buf.Bytes(), nil
}

// WriteTo writes the assembled archive to w.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	data, err := a.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)

	return int64(n), err
}

// Flush writes the archive to its path. The file is written next to the
// destination and renamed into place.
func (a *Archive) Flush() (err error) {
	data, err := a.Bytes()
	if err != nil {
		return err
	}

	dir := filepath.Dir(a.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(a.path)+".*.tmp")
	if err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("%s: failed to open stream", a.path), err).WithPath(a.path)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to write archive %q", a.path), err).WithPath(a.path)
	}
	if err = tmp.Close(); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to write archive %q", a.path), err).WithPath(a.path)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to write archive %q", a.path), err).WithPath(a.path)
	}
	if err = os.Rename(tmp.Name(), a.path); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			fmt.Sprintf("Unable to write archive %q", a.path), err).WithPath(a.path)
	}

	return nil
}

func appendString(b, s []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// haltIndex returns the offset of the first halt marker, matched case
// insensitively, or -1.
func haltIndex(data []byte) int {
	for i := 0; i+len(HaltMarker) <= len(data); i++ {
		j := bytes.IndexByte(data[i:], '_')
		if j < 0 {
			return -1
		}
		i += j
		if i+len(HaltMarker) > len(data) {
			return -1
		}
		if asciiEqualFold(data[i:i+len(HaltMarker)], HaltMarker) {
			return i
		}
	}

	return -1
}

func asciiEqualFold(b []byte, s string) bool {
	for i := range len(s) {
		c := b[i]
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c != s[i] {
			return false
		}
	}

	return true
}

// Parse decodes an archive held in memory.
func Parse(data []byte, opts ...Option) (*Archive, error) {
	a := New("", opts...)

	pos := haltIndex(data)
	if pos < 0 {
		return nil, corrupt("no %s found", HaltMarker)
	}
	pos += len(HaltMarker)
	stubEnd := pos
	if bytes.HasPrefix(data[pos:], []byte(" ?>")) {
		pos += 3
	}
	switch {
	case bytes.HasPrefix(data[pos:], []byte("\r\n")):
		pos += 2
	case bytes.HasPrefix(data[pos:], []byte("\n")):
		pos++
	}
	a.stub = append(append([]byte(nil), data[:stubEnd]...), stubSuffix...)

	r := &reader{data: data, pos: pos}
	manifestLen := r.uint32()
	manifestStart := r.pos
	count := r.uint32()
	api := r.bytes(2)
	flags := r.uint32()
	a.alias = string(r.lstring())
	a.metadata = r.lstring()
	if r.err != nil {
		return nil, r.err
	}
	if api != nil && api[0] != apiVersionHigh {
		return nil, corrupt("unsupported manifest API version %#x%02x", api[0], api[1])
	}

	if int(count) > len(data)-r.pos {
		return nil, corrupt("manifest claims %d entries", count)
	}

	type sized struct {
		entry  *Entry
		size   uint32
		stored uint32
		crc    uint32
	}
	pending := make([]sized, 0, count)
	for range count {
		name := string(r.lstring())
		size := r.uint32()
		mtime := r.uint32()
		stored := r.uint32()
		crc := r.uint32()
		eflags := r.uint32()
		meta := r.lstring()
		if r.err != nil {
			return nil, r.err
		}

		e := &Entry{
			Timestamp:   time.Unix(int64(mtime), 0),
			Compression: Compression(eflags) & compressionMask,
			Perm:        fs.FileMode(eflags & permMask),
			Metadata:    meta,
		}
		if n := len(name); n > 0 && name[n-1] == '/' {
			e.Dir = true
			name = name[:n-1]
		}
		clean, err := NormalizeName(name)
		if err != nil {
			return nil, corrupt("invalid entry name %q", name)
		}
		e.Name = clean
		pending = append(pending, sized{entry: e, size: size, stored: stored, crc: crc})
	}
	if r.pos-manifestStart != int(manifestLen) {
		return nil, corrupt("manifest length %d does not match its contents", manifestLen)
	}

	for _, p := range pending {
		raw := r.bytes(int(p.stored))
		if r.err != nil {
			return nil, r.err
		}
		if p.entry.Dir {
			a.put(p.entry)
			continue
		}
		data, err := decompress(p.entry.Compression, raw, p.size)
		if err != nil {
			return nil, errors.NewFormatError(errors.CodeCorrupt,
				fmt.Sprintf("Entry %q of the archive is corrupt", p.entry.Name), err)
		}
		if crc32.ChecksumIEEE(data) != p.crc {
			return nil, corrupt("CRC32 mismatch for entry %q", p.entry.Name)
		}
		p.entry.Data = append([]byte(nil), data...)
		a.put(p.entry)
	}

	if flags&flagSignature != 0 {
		sig, err := parseSignature(data)
		if err != nil {
			return nil, err
		}
		if sig.signed != r.pos {
			return nil, corrupt("signature does not start after the last entry")
		}
		// Re-signing with a key needs the key again.
		if !sig.Algorithm.Asymmetric() {
			a.algorithm = sig.Algorithm
		}
	}
	for _, e := range a.entries {
		if !e.Dir && e.Compression != None {
			a.compression = e.Compression
			break
		}
	}

	return a, nil
}

func corrupt(format string, args ...any) error {
	return errors.NewFormatError(errors.CodeCorrupt,
		"The archive is corrupt: "+fmt.Sprintf(format, args...), nil)
}

// reader walks the manifest, remembering the first error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = corrupt("unexpected end of data at offset %d", r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n

	return b
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *reader) lstring() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	b := r.bytes(int(n))
	if len(b) == 0 {
		return nil
	}

	return append([]byte(nil), b...)
}
