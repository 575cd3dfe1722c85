package storage

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// SkipAll can be returned from a Stream callback to stop iteration without error.
var SkipAll = errors.New("skip remaining items")

// GridStorage stores one opaque item per (x,z) grid coordinate. Items are
// committed when the writer returned by Write is closed. A writer whose Write
// failed never commits: Close discards the item and returns that error.
type GridStorage interface {
	Write(x, z int) (io.WriteCloser, error)
	// Read returns nil, nil when no item exists at (x,z).
	Read(x, z int) (*CompressedReader, error)
	Delete(x, z int) error
	Exists(x, z int) (bool, error)
	// Stream calls fn for every existing item. A non-nil error from fn aborts
	// the iteration and is returned, except SkipAll which stops it silently.
	Stream(fn func(cell Cell) error) error
}

// ItemStorage is the single-item variant of GridStorage.
type ItemStorage interface {
	Write() (io.WriteCloser, error)
	Read() (*CompressedReader, error)
	Delete() error
	Exists() (bool, error)
}

// Aborter is implemented by item writers that can discard the pending item.
type Aborter interface {
	Abort() error
}

// Abort discards the item pending in w, keeping whatever was stored before.
// Writers without an Abort method are closed.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

// NotCommitted wraps the write error that poisoned an item writer.
func NotCommitted(err error) error {
	return fmt.Errorf("item not committed: %w", err)
}

// Cell addresses one item of a GridStorage.
type Cell struct {
	X, Z    int
	storage GridStorage
}

func CellOf(s GridStorage, x, z int) Cell {
	return Cell{X: x, Z: z, storage: s}
}

func (c Cell) Write() (io.WriteCloser, error)   { return c.storage.Write(c.X, c.Z) }
func (c Cell) Read() (*CompressedReader, error) { return c.storage.Read(c.X, c.Z) }
func (c Cell) Delete() error                    { return c.storage.Delete(c.X, c.Z) }
func (c Cell) Exists() (bool, error)            { return c.storage.Exists(c.X, c.Z) }

// CompressedReader carries the raw stored bytes together with the compression
// they were written with.
type CompressedReader struct {
	io.ReadCloser
	Compression Compression
}

// Decompress returns a reader over the decompressed bytes. Closing it also
// closes the underlying raw reader.
func (r *CompressedReader) Decompress() (io.ReadCloser, error) {
	dr, err := r.Compression.Decompress(r.ReadCloser)
	if err != nil {
		_ = r.ReadCloser.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: dr, closers: []io.Closer{dr, r.ReadCloser}}, nil
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PackXZ packs a grid coordinate into one int64 (high 32 bits x, low 32 bits z).
func PackXZ(x, z int) int64 {
	return int64(x)<<32 | int64(uint32(int32(z)))
}

func UnpackXZ(key int64) (x, z int) {
	return int(int32(key >> 32)), int(int32(uint32(key)))
}

// FormatKey renders the packed coordinate as a decimal string key.
func FormatKey(x, z int) string {
	return strconv.FormatInt(PackXZ(x, z), 10)
}

func ParseKey(s string) (x, z int, err error) {
	k, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad grid key %q: %w", s, err)
	}
	x, z = UnpackXZ(k)
	return x, z, nil
}
