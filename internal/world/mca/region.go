package mca

import "fmt"

const (
	regionShift = 5
	// RegionChunks is the number of chunks along one region axis.
	RegionChunks = 1 << regionShift
)

// RegionOf returns the region coordinate holding chunk coordinate c.
func RegionOf(c int) int { return c >> regionShift }

// ByteRange locates a chunk payload inside a region container.
type ByteRange struct {
	Offset int64
	Length int64
}

// Payload is one independently decompressible chunk payload.
type Payload struct {
	Data        []byte
	Compression ChunkCompression
	// Timestamp is the last save time in unix seconds, 0 if unknown.
	Timestamp int64
}

// RegionFile reads chunk payloads out of one region container.
// Chunk coordinates are absolute; only their low 5 bits address the region slot.
type RegionFile interface {
	Path() string
	// Locate returns ok=false if the chunk was never saved.
	Locate(cx, cz int) (r ByteRange, ok bool, err error)
	// ReadChunk returns ok=false if the chunk was never saved.
	ReadChunk(cx, cz int) (p Payload, ok bool, err error)
	// IterateChunks calls fn for every present chunk in slot order. readErr is
	// set when that one payload is corrupt; I/O errors abort the iteration. A
	// non-nil error from fn stops the iteration and is returned.
	IterateChunks(fn func(cx, cz int, p Payload, readErr error) error) error
}

// ChunkLoader turns raw payloads into chunks of type T. EMPTY and ERRORED are
// fixed instances owned by the loader.
type ChunkLoader[T any] interface {
	Load(p Payload) (T, error)
	Empty() T
	Errored() T
}

// LoadChunk reads and decodes chunk (cx,cz) from r.
//
// An absent chunk yields loader.Empty() with a nil error. Any failure yields
// loader.Errored() together with the cause; IsCorrupt separates corrupt data
// from I/O errors so callers can decide what to propagate.
func LoadChunk[T any](r RegionFile, loader ChunkLoader[T], cx, cz int) (T, error) {
	p, ok, err := r.ReadChunk(cx, cz)
	if err != nil {
		return loader.Errored(), err
	}
	if !ok {
		return loader.Empty(), nil
	}
	c, err := loader.Load(p)
	if err != nil {
		return loader.Errored(), fmt.Errorf("chunk %d,%d in %s: %w", cx, cz, r.Path(), err)
	}
	return c, nil
}

// IterateChunks decodes every present chunk of r. Chunks that fail to decode
// are passed to fn as loader.Errored(). The error passed alongside is the
// decode failure (nil for good chunks); fn returns non-nil to stop.
func IterateChunks[T any](r RegionFile, loader ChunkLoader[T], fn func(cx, cz int, chunk T, decodeErr error) error) error {
	return r.IterateChunks(func(cx, cz int, p Payload, readErr error) error {
		if readErr != nil {
			return fn(cx, cz, loader.Errored(), readErr)
		}
		c, err := loader.Load(p)
		if err != nil {
			return fn(cx, cz, loader.Errored(), err)
		}
		return fn(cx, cz, c, nil)
	})
}

// corrupt wraps a detail message as a corrupt region error.
func corrupt(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorruptRegion, path, fmt.Sprintf(format, args...))
}
