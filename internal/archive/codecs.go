package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names the codec applied to a step archive's tar stream.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a configured codec name. The empty string selects
// zstd.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionZstd:
		return CompressionZstd, nil
	case CompressionGzip, CompressionNone:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unsupported compression %q", s)
	}
}

// Suffix returns the file name suffix of archives written with c.
func (c Compression) Suffix() string {
	switch c {
	case CompressionGzip:
		return ".tar.gz"
	case CompressionZstd:
		return ".tar.zst"
	default:
		return ".tar"
	}
}

// Compressor is a WriteCloser where Close flushes compressor state to the
// underlying Writer without closing it.
type Compressor io.WriteCloser

// Decompressor is a ReadCloser where Close releases decompressor state
// without closing the underlying Reader.
type Decompressor io.ReadCloser

// NewCodecWriter returns a Compressor encoding into w with c.
func NewCodecWriter(w io.Writer, c Compression) (Compressor, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// NewCodecReader returns a Decompressor of r encoded with c.
func NewCodecReader(r io.Reader, c Compression) (Decompressor, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
