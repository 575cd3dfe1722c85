package world

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"voxelmap.ai/internal/storage"
	"voxelmap.ai/internal/world/mca"
)

// ChunkSource loads chunks for a Grid.
type ChunkSource[T any] interface {
	LoadChunk(x, z int) (T, error)
	Empty() T
	Errored() T
}

// Grid memoizes chunks by coordinate. Each key is decoded at most once
// between invalidations; failed loads are cached as the ERRORED chunk.
type Grid[T any] struct {
	src    ChunkSource[T]
	logger *log.Logger

	mu      sync.RWMutex
	chunks  map[int64]T
	loading map[int64]struct{}
	flight  singleflight.Group
}

func NewGrid[T any](src ChunkSource[T], logger *log.Logger) *Grid[T] {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Grid[T]{src: src, logger: logger, chunks: map[int64]T{}, loading: map[int64]struct{}{}}
}

func (g *Grid[T]) lookup(key int64) (T, bool) {
	g.mu.RLock()
	c, ok := g.chunks[key]
	g.mu.RUnlock()
	return c, ok
}

func (g *Grid[T]) Get(x, z int) T {
	key := storage.PackXZ(x, z)
	if c, ok := g.lookup(key); ok {
		return c
	}
	v, _, _ := g.flight.Do(strconv.FormatInt(key, 10), func() (any, error) {
		g.mu.Lock()
		if c, ok := g.chunks[key]; ok {
			g.mu.Unlock()
			return c, nil
		}
		g.loading[key] = struct{}{}
		g.mu.Unlock()

		c := g.load(x, z)

		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.loading, key)
		// a chunk preloaded while this one decoded wins
		if prev, ok := g.chunks[key]; ok {
			return prev, nil
		}
		g.chunks[key] = c
		return c, nil
	})
	return v.(T)
}

// Has reports whether the key is cached or currently being decoded by Get.
func (g *Grid[T]) Has(x, z int) bool {
	key := storage.PackXZ(x, z)
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.chunks[key]; ok {
		return true
	}
	_, ok := g.loading[key]
	return ok
}

func (g *Grid[T]) load(x, z int) T {
	c, err := g.src.LoadChunk(x, z)
	if err == nil {
		return c
	}
	if errors.Is(err, fs.ErrNotExist) {
		return g.src.Empty()
	}
	g.logger.Printf("warn: failed to load chunk %d,%d: %v", x, z, err)
	return g.src.Errored()
}

// Preload stores c unless the key is already cached or being decoded by Get,
// and reports whether it did.
func (g *Grid[T]) Preload(x, z int, c T) bool {
	key := storage.PackXZ(x, z)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.chunks[key]; ok {
		return false
	}
	if _, ok := g.loading[key]; ok {
		return false
	}
	g.chunks[key] = c
	return true
}

func (g *Grid[T]) Invalidate(x, z int) {
	key := storage.PackXZ(x, z)
	g.mu.Lock()
	delete(g.chunks, key)
	g.mu.Unlock()
	g.flight.Forget(strconv.FormatInt(key, 10))
}

func (g *Grid[T]) InvalidateAll() {
	g.mu.Lock()
	g.chunks = map[int64]T{}
	g.mu.Unlock()
}

func (g *Grid[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.chunks)
}

// regionSource loads chunks out of the region files of one directory.
type regionSource[T any] struct {
	dir     string
	regions *mca.Registry
	loader  mca.ChunkLoader[T]
}

func (s regionSource[T]) LoadChunk(x, z int) (T, error) {
	r, err := s.regions.Open(s.dir, mca.RegionOf(x), mca.RegionOf(z))
	if err != nil {
		return s.loader.Errored(), err
	}
	return mca.LoadChunk(r, s.loader, x, z)
}

func (s regionSource[T]) Empty() T   { return s.loader.Empty() }
func (s regionSource[T]) Errored() T { return s.loader.Errored() }
