package storage

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"sync"
)

// Memory is an in-process GridStorage. Items are kept compressed exactly as a
// persistent backend would store them.
type Memory struct {
	compression Compression

	mu    sync.RWMutex
	items map[int64]memItem
}

type memItem struct {
	compression Compression
	data        []byte
}

func NewMemory(compression Compression) *Memory {
	return &Memory{
		compression: compression,
		items:       map[int64]memItem{},
	}
}

func (m *Memory) Write(x, z int) (io.WriteCloser, error) {
	w := &memWriter{m: m, key: PackXZ(x, z)}
	cw, err := m.compression.Compress(&w.buf)
	if err != nil {
		return nil, err
	}
	w.cw = cw
	return w, nil
}

func (m *Memory) Read(x, z int) (*CompressedReader, error) {
	m.mu.RLock()
	it, ok := m.items[PackXZ(x, z)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &CompressedReader{
		ReadCloser:  io.NopCloser(bytes.NewReader(it.data)),
		Compression: it.compression,
	}, nil
}

func (m *Memory) Delete(x, z int) error {
	m.mu.Lock()
	delete(m.items, PackXZ(x, z))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(x, z int) (bool, error) {
	m.mu.RLock()
	_, ok := m.items[PackXZ(x, z)]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Stream(fn func(cell Cell) error) error {
	m.mu.RLock()
	keys := make([]int64, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		x, z := UnpackXZ(k)
		if err := fn(CellOf(m, x, z)); err != nil {
			if errors.Is(err, SkipAll) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Len reports the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

type memWriter struct {
	m      *Memory
	key    int64
	buf    bytes.Buffer
	cw     io.WriteCloser
	err    error
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed item writer")
	}
	n, err := w.cw.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *memWriter) Abort() error {
	w.closed = true
	return nil
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return NotCommitted(w.err)
	}
	if err := w.cw.Close(); err != nil {
		return err
	}
	data := append([]byte(nil), w.buf.Bytes()...)
	w.m.mu.Lock()
	w.m.items[w.key] = memItem{compression: w.m.compression, data: data}
	w.m.mu.Unlock()
	return nil
}

// MemoryItem is an in-process ItemStorage.
type MemoryItem struct {
	m *Memory
}

func NewMemoryItem(compression Compression) *MemoryItem {
	return &MemoryItem{m: NewMemory(compression)}
}

func (i *MemoryItem) Write() (io.WriteCloser, error)   { return i.m.Write(0, 0) }
func (i *MemoryItem) Read() (*CompressedReader, error) { return i.m.Read(0, 0) }
func (i *MemoryItem) Delete() error                    { return i.m.Delete(0, 0) }
func (i *MemoryItem) Exists() (bool, error)            { return i.m.Exists(0, 0) }
