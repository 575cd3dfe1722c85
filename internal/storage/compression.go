package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names a stream compression scheme. Stored items carry the
// compression they were written with so readers never have to assume one.
type Compression struct {
	ID  string
	Ext string

	compress   func(w io.Writer) (io.WriteCloser, error)
	decompress func(r io.Reader) (io.ReadCloser, error)
}

var (
	None = Compression{
		ID:  "none",
		Ext: "",
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return nopWriteCloser{w}, nil
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
	}
	GZip = Compression{
		ID:  "gzip",
		Ext: ".gz",
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	}
	Zstd = Compression{
		ID:  "zstd",
		Ext: ".zst",
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zstdReadCloser{dec}, nil
		},
	}
)

// Compressions lists every known compression; lookups try them in order.
var Compressions = []Compression{GZip, Zstd, None}

func CompressionByID(id string) (Compression, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, c := range Compressions {
		if c.ID == id {
			return c, nil
		}
	}
	return Compression{}, fmt.Errorf("unknown compression %q", id)
}

// Compress wraps w. Closing the returned writer flushes the compressor but does
// not close w.
func (c Compression) Compress(w io.Writer) (io.WriteCloser, error) {
	if c.compress == nil {
		return nil, fmt.Errorf("compression %q is not usable", c.ID)
	}
	return c.compress(w)
}

func (c Compression) Decompress(r io.Reader) (io.ReadCloser, error) {
	if c.decompress == nil {
		return nil, fmt.Errorf("compression %q is not usable", c.ID)
	}
	return c.decompress(r)
}

func (c Compression) String() string { return c.ID }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ dec *zstd.Decoder }

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z zstdReadCloser) Close() error {
	z.dec.Close()
	return nil
}
