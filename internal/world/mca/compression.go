package mca

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// ChunkCompression is the compression byte stored in front of each chunk payload.
type ChunkCompression byte

const (
	CompressionGZip   ChunkCompression = 1
	CompressionZlib   ChunkCompression = 2
	CompressionNone   ChunkCompression = 3
	CompressionLZ4    ChunkCompression = 4
	CompressionCustom ChunkCompression = 127

	// externalFlag marks a payload stored in a separate c.<x>.<z>.mcc file.
	externalFlag = 0x80
)

func (c ChunkCompression) String() string {
	switch c {
	case CompressionGZip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// Decompress returns the raw NBT bytes of a payload.
func (c ChunkCompression) Decompress(data []byte) ([]byte, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGZip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	case CompressionZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: unsupported compression %s", ErrCorruptChunk, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptChunk, c, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptChunk, c, err)
	}
	return out, nil
}

// Compress is the inverse of Decompress for the schemes this package writes.
func (c ChunkCompression) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGZip:
		w = gzip.NewWriter(&buf)
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("cannot write compression %s", c)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
