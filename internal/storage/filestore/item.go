package filestore

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"voxelmap.ai/internal/storage"
)

// Item is an ItemStorage backed by one file. The compression extension is
// appended to path.
type Item struct {
	path        string
	compression storage.Compression
}

func NewItem(path string, compression storage.Compression) *Item {
	return &Item{path: path, compression: compression}
}

func (it *Item) find() (string, storage.Compression, bool, error) {
	for _, c := range storage.Compressions {
		p := it.path + c.Ext
		if _, err := os.Stat(p); err == nil {
			return p, c, true, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", storage.Compression{}, false, err
		}
	}
	return "", storage.Compression{}, false, nil
}

func (it *Item) Write() (io.WriteCloser, error) {
	dir := filepath.Dir(it.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, ".item-*")
	if err != nil {
		return nil, err
	}
	cw, err := it.compression.Compress(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &itemWriter{it: it, f: f, cw: cw}, nil
}

func (it *Item) Read() (*storage.CompressedReader, error) {
	p, c, ok, err := it.find()
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

func (it *Item) Delete() error {
	var errs []error
	for _, c := range storage.Compressions {
		if err := os.Remove(it.path + c.Ext); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (it *Item) Exists() (bool, error) {
	_, _, ok, err := it.find()
	return ok, err
}

type itemWriter struct {
	it   *Item
	f    *os.File
	cw   io.WriteCloser
	err  error
	done bool
}

func (w *itemWriter) Write(p []byte) (int, error) {
	n, err := w.cw.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *itemWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return discardTemp(w.f, w.cw)
}

func (w *itemWriter) Close() error {
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
	if err := os.Rename(tmp, w.it.path+w.it.compression.Ext); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	for _, c := range storage.Compressions {
		if c.ID != w.it.compression.ID {
			_ = os.Remove(w.it.path + c.Ext)
		}
	}
	return nil
}
