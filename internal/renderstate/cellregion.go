package renderstate

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"voxelmap.ai/internal/storage"
)

const (
	regionShift = 5
	regionSize  = 1 << regionShift
	regionCells = regionSize * regionSize
)

// Codec serializes the cells of one region.
type Codec[T any] interface {
	Encode(cells *[regionCells]T) ([]byte, error)
	Decode(data []byte, cells *[regionCells]T) error
}

// Region is a 32x32 block of cells. Each Get and Set is atomic.
type Region[T any] struct {
	mu        sync.Mutex
	cells     [regionCells]T
	version   uint64
	persisted uint64
}

func newRegion[T any](def T) *Region[T] {
	r := &Region[T]{}
	for i := range r.cells {
		r.cells[i] = def
	}
	return r
}

func cellIndex(x, z int) int { return (x & (regionSize - 1)) + (z&(regionSize-1))*regionSize }

func (r *Region[T]) Get(x, z int) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cells[cellIndex(x, z)]
}

// Set stores v and returns the previous value. The region becomes modified.
func (r *Region[T]) Set(x, z int, v T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := cellIndex(x, z)
	prev := r.cells[i]
	r.cells[i] = v
	r.version++
	return prev
}

func (r *Region[T]) Modified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version != r.persisted
}

// snapshot copies the cells together with the version they reflect.
func (r *Region[T]) snapshot() ([regionCells]T, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cells, r.version
}

// markPersisted clears modified unless the region changed after version v.
func (r *Region[T]) markPersisted(v uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v > r.persisted {
		r.persisted = v
	}
}

// Cells calls fn for every cell in slot order with local coordinates.
func (r *Region[T]) Cells(fn func(lx, lz int, v T)) {
	cells, _ := r.snapshot()
	for i, v := range cells {
		fn(i%regionSize, i/regionSize, v)
	}
}

// CellStore is a sparse map of regions keyed by region coordinate.
type CellStore[T any] struct {
	codec  Codec[T]
	def    T
	logger *log.Logger

	mu      sync.RWMutex
	regions map[int64]*Region[T]
}

func NewCellStore[T any](codec Codec[T], def T, logger *log.Logger) *CellStore[T] {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &CellStore[T]{codec: codec, def: def, logger: logger, regions: map[int64]*Region[T]{}}
}

// Cell returns region (rx,rz), creating it with default cells if absent.
func (s *CellStore[T]) Cell(rx, rz int) *Region[T] {
	key := storage.PackXZ(rx, rz)
	s.mu.RLock()
	r, ok := s.regions[key]
	s.mu.RUnlock()
	if ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[key]; ok {
		return r
	}
	r = newRegion(s.def)
	s.regions[key] = r
	return r
}

func (s *CellStore[T]) Get(x, z int) T {
	return s.Cell(x>>regionShift, z>>regionShift).Get(x, z)
}

func (s *CellStore[T]) Set(x, z int, v T) T {
	return s.Cell(x>>regionShift, z>>regionShift).Set(x, z, v)
}

// RegionCoords lists the loaded regions ordered by (x,z).
func (s *CellStore[T]) RegionCoords() [][2]int {
	s.mu.RLock()
	out := make([][2]int, 0, len(s.regions))
	for k := range s.regions {
		x, z := storage.UnpackXZ(k)
		out = append(out, [2]int{x, z})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Persist writes every modified region to target. Regions are written
// independently; failures are joined and do not stop the other writes.
func (s *CellStore[T]) Persist(target storage.GridStorage) error {
	var errs []error
	for _, rc := range s.RegionCoords() {
		r := s.Cell(rc[0], rc[1])
		if !r.Modified() {
			continue
		}
		cells, version := r.snapshot()
		if err := s.writeRegion(target, rc[0], rc[1], &cells); err != nil {
			errs = append(errs, fmt.Errorf("persist region %d,%d: %w", rc[0], rc[1], err))
			continue
		}
		r.markPersisted(version)
	}
	return errors.Join(errs...)
}

func (s *CellStore[T]) writeRegion(target storage.GridStorage, rx, rz int, cells *[regionCells]T) error {
	data, err := s.codec.Encode(cells)
	if err != nil {
		return err
	}
	w, err := target.Write(rx, rz)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = storage.Abort(w)
		return err
	}
	return w.Close()
}

// Load replaces regions with the ones stored in source. Items that cannot be
// read or decoded are skipped with a warning. Loaded regions are unmodified.
func (s *CellStore[T]) Load(source storage.GridStorage) error {
	return source.Stream(func(c storage.Cell) error {
		data, err := readItem(c)
		if err != nil {
			s.logger.Printf("warn: skipping region %d,%d: %v", c.X, c.Z, err)
			return nil
		}
		r := newRegion(s.def)
		if err := s.codec.Decode(data, &r.cells); err != nil {
			s.logger.Printf("warn: skipping region %d,%d: %v", c.X, c.Z, err)
			return nil
		}
		s.mu.Lock()
		s.regions[storage.PackXZ(c.X, c.Z)] = r
		s.mu.Unlock()
		return nil
	})
}

func readItem(c storage.Cell) ([]byte, error) {
	cr, err := c.Read()
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, fmt.Errorf("item vanished")
	}
	rc, err := cr.Decompress()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
