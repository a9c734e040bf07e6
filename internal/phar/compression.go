package phar

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/conneroisu/crate/internal/errors"
)

// Compression identifies how an entry payload is stored. The values are the
// per-entry manifest flags and must not change.
type Compression uint32

const (
	// None stores the payload as is.
	None Compression = 0
	// GZ stores the payload as a raw DEFLATE stream.
	GZ Compression = 0x00001000
	// BZ2 is recognised when reading but cannot be produced.
	BZ2 Compression = 0x00002000

	compressionMask = GZ | BZ2
)

// String returns the human-readable name of a compression mode.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case GZ:
		return "gz"
	case BZ2:
		return "bz2"
	default:
		return fmt.Sprintf("unknown(%#x)", uint32(c))
	}
}

// ParseCompression parses a compression mode from its string representation.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "gz", "gzip":
		return GZ, nil
	case "bz2", "bzip2":
		return BZ2, nil
	default:
		return None, errors.NewArgumentError(errors.CodeInvalidValue,
			fmt.Sprintf("The compression algorithm %q is not supported.", name))
	}
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case GZ:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.NewArgumentError(errors.CodeUnsupported,
			fmt.Sprintf("Cannot compress entries using %s.", c))
	}
}

func decompress(c Compression, data []byte, size uint32) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case GZ:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()

		out := make([]byte, 0, size)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, io.LimitReader(r, int64(size)+1)); err != nil {
			return nil, fmt.Errorf("inflate: %w", err)
		}
		if uint32(buf.Len()) != size {
			return nil, fmt.Errorf("inflate: got %d bytes, expected %d", buf.Len(), size)
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.NewFormatError(errors.CodeUnsupported,
			fmt.Sprintf("Cannot decompress entries using %s.", c), nil)
	}
}
