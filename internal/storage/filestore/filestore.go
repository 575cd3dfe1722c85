package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"voxelmap.ai/internal/storage"
)

var itemName = regexp.MustCompile(`^x(-?\d+)z(-?\d+)\.bin(\.gz|\.zst)?$`)

// Store is a GridStorage keeping one file per item below a root directory.
// The file extension records the compression of each item.
type Store struct {
	root        string
	compression storage.Compression
	logger      *log.Logger
}

func New(root string, compression storage.Compression, logger *log.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("empty storage root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{root: root, compression: compression, logger: logger}, nil
}

func (s *Store) path(x, z int, c storage.Compression) string {
	return filepath.Join(s.root, fmt.Sprintf("x%dz%d.bin%s", x, z, c.Ext))
}

func (s *Store) Write(x, z int) (io.WriteCloser, error) {
	f, err := os.CreateTemp(s.root, ".item-*")
	if err != nil {
		return nil, err
	}
	cw, err := s.compression.Compress(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &fileWriter{s: s, x: x, z: z, f: f, cw: cw}, nil
}

func (s *Store) find(x, z int) (string, storage.Compression, bool, error) {
	for _, c := range storage.Compressions {
		p := s.path(x, z, c)
		if _, err := os.Stat(p); err == nil {
			return p, c, true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", storage.Compression{}, false, err
		}
	}
	return "", storage.Compression{}, false, nil
}

func (s *Store) Read(x, z int) (*storage.CompressedReader, error) {
	p, c, ok, err := s.find(x, z)
	if err != nil || !ok {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &storage.CompressedReader{ReadCloser: f, Compression: c}, nil
}

func (s *Store) Delete(x, z int) error {
	var errs []error
	for _, c := range storage.Compressions {
		if err := os.Remove(s.path(x, z, c)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Exists(x, z int) (bool, error) {
	_, _, ok, err := s.find(x, z)
	return ok, err
}

func (s *Store) Stream(fn func(cell storage.Cell) error) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := map[int64]bool{}
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		m := itemName.FindStringSubmatch(e.Name())
		if m == nil {
			s.logger.Printf("warn: skipping unrecognized storage file %s", e.Name())
			continue
		}
		x, errX := strconv.ParseInt(m[1], 10, 32)
		z, errZ := strconv.ParseInt(m[2], 10, 32)
		if errX != nil || errZ != nil {
			s.logger.Printf("warn: skipping storage file with out of range key %s", e.Name())
			continue
		}
		k := storage.PackXZ(int(x), int(z))
		if seen[k] {
			continue
		}
		seen[k] = true
		if err := fn(storage.CellOf(s, int(x), int(z))); err != nil {
			if errors.Is(err, storage.SkipAll) {
				return nil
			}
			return err
		}
	}
	return nil
}

type fileWriter struct {
	s    *Store
	x, z int
	f    *os.File
	cw   io.WriteCloser
	err  error
	done bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.cw.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// Abort drops the temp file; the committed item stays untouched.
func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return discardTemp(w.f, w.cw)
}

// Close commits the item by renaming the temp file over the final path.
func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	if w.err != nil {
		_ = w.Abort()
		return storage.NotCommitted(w.err)
	}
	w.done = true
	tmp := w.f.Name()
	if err := w.cw.Close(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	dst := w.s.path(w.x, w.z, w.s.compression)
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	for _, c := range storage.Compressions {
		if c.ID == w.s.compression.ID {
			continue
		}
		_ = os.Remove(w.s.path(w.x, w.z, c))
	}
	return nil
}

func discardTemp(f *os.File, cw io.WriteCloser) error {
	_ = cw.Close()
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
