package codec

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/dsnet/compress/bzip2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/kailas-cloud/docarray/internal/domain"
)

// Compression selects the algorithm applied after encoding.
type Compression string

// Supported compressions.
const (
	CompressNone   Compression = ""
	CompressLZ4    Compression = "lz4"
	CompressBZ2    Compression = "bz2"
	CompressLZMA   Compression = "lzma"
	CompressZlib   Compression = "zlib"
	CompressGzip   Compression = "gzip"
	CompressZstd   Compression = "zstd"
	CompressSnappy Compression = "snappy"
)

// Compressions lists every supported compression, none included.
func Compressions() []Compression {
	return []Compression{
		CompressNone, CompressLZ4, CompressBZ2, CompressLZMA,
		CompressZlib, CompressGzip, CompressZstd, CompressSnappy,
	}
}

// ParseCompression validates s. Empty and "none" mean no compression.
func ParseCompression(s string) (Compression, error) {
	if s == "none" {
		return CompressNone, nil
	}
	c := Compression(s)
	if !slices.Contains(Compressions(), c) {
		return "", fmt.Errorf("unknown compression %q: %w", s, domain.ErrInvalidArgument)
	}
	return c, nil
}

// Compress applies c to data.
func Compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressNone:
		return data, nil
	case CompressSnappy:
		return snappy.Encode(nil, data), nil
	case CompressZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	}

	var buf bytes.Buffer
	w, err := newStreamWriter(&buf, c)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c, err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Corrupt input yields ErrSerialization.
func Decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressNone:
		return data, nil
	case CompressSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return out, nil
	case CompressZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return out, nil
	}

	r, err := newStreamReader(bytes.NewReader(data), c)
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, corrupt(c, err)
	}
	return out, nil
}

func newStreamWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressLZ4:
		return lz4.NewWriter(w), nil
	case CompressBZ2:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if err != nil {
			return nil, fmt.Errorf("bz2 writer: %w", err)
		}
		return bw, nil
	case CompressLZMA:
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("lzma writer: %w", err)
		}
		return lw, nil
	case CompressZlib:
		return zlib.NewWriter(w), nil
	case CompressGzip:
		return gzip.NewWriter(w), nil
	}
	return nil, fmt.Errorf("unknown compression %q: %w", c, domain.ErrInvalidArgument)
}

func newStreamReader(r io.Reader, c Compression) (io.Reader, error) {
	switch c {
	case CompressLZ4:
		return lz4.NewReader(r), nil
	case CompressBZ2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return br, nil
	case CompressLZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return lr, nil
	case CompressZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return zr, nil
	case CompressGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, corrupt(c, err)
		}
		return gr, nil
	}
	return nil, fmt.Errorf("unknown compression %q: %w", c, domain.ErrInvalidArgument)
}

func corrupt(c Compression, err error) error {
	return fmt.Errorf("%s decompress: %w: %w", c, domain.ErrSerialization, err)
}
