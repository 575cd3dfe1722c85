package world

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path/filepath"
	"sync/atomic"

	"voxelmap.ai/internal/world/mca"
)

type Options struct {
	// Dimension defaults to the overworld.
	Dimension string
	// RegionCacheBytes bounds the region header cache; 0 disables it.
	RegionCacheBytes int64
	Hasher           mca.Hasher
	// Formats overrides the region formats; the first one is the default.
	Formats []*mca.RegionType
	Logger  *log.Logger
}

// World is one dimension of a world save. Metadata is fixed at Open.
type World struct {
	root      string
	dimension string
	dimDir    string
	level     LevelData
	dimType   DimensionType
	logger    *log.Logger

	cache        *mca.RegionCache
	regions      *mca.Registry
	chunkLoader  *mca.BlockChunkLoader
	entityLoader *mca.EntityChunkLoader
	chunks       *Grid[*mca.BlockChunk]
	entities     *Grid[*mca.EntityChunk]

	closed atomic.Bool
}

func Open(root string, opts Options) (*World, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	level, err := ReadLevel(filepath.Join(root, "level.dat"), logger)
	if err != nil {
		return nil, fmt.Errorf("open world %s: %w", root, err)
	}
	dim := NormalizeKey(opts.Dimension)
	if dim == "" {
		dim = Overworld
	}
	dimDir, err := DimensionFolder(root, dim)
	if err != nil {
		return nil, err
	}
	dimType, ok := level.Dimensions[dim]
	if !ok {
		if dimType, ok = BuiltinDimensionType(dim); !ok {
			logger.Printf("warn: dimension %s is not listed in level.dat, using %s", dim, fallbackDimensionType.Key)
			dimType = fallbackDimensionType
		}
	}
	cache, err := mca.NewRegionCache(opts.RegionCacheBytes)
	if err != nil {
		return nil, err
	}

	w := &World{
		root:         root,
		dimension:    dim,
		dimDir:       dimDir,
		level:        level,
		dimType:      dimType,
		logger:       logger,
		cache:        cache,
		regions:      mca.NewRegistry(cache, opts.Formats...),
		chunkLoader:  mca.NewBlockChunkLoader(dimType.MinY, dimType.Height, opts.Hasher),
		entityLoader: mca.NewEntityChunkLoader(opts.Hasher),
	}
	w.chunks = NewGrid[*mca.BlockChunk](regionSource[*mca.BlockChunk]{dir: w.RegionFolder(), regions: w.regions, loader: w.chunkLoader}, logger)
	w.entities = NewGrid[*mca.EntityChunk](regionSource[*mca.EntityChunk]{dir: w.EntityFolder(), regions: w.regions, loader: w.entityLoader}, logger)
	return w, nil
}

// ID is the save folder name plus the dimension key.
func (w *World) ID() string { return filepath.Base(w.root) + "#" + w.dimension }

func (w *World) Name() string                 { return w.level.Name }
func (w *World) Root() string                 { return w.root }
func (w *World) DimensionKey() string         { return w.dimension }
func (w *World) DimensionType() DimensionType { return w.dimType }
func (w *World) Level() LevelData             { return w.level }
func (w *World) Spawn() [3]int                { return w.level.Spawn }
func (w *World) DimensionFolder() string      { return w.dimDir }
func (w *World) RegionFolder() string         { return filepath.Join(w.dimDir, "region") }
func (w *World) EntityFolder() string         { return filepath.Join(w.dimDir, "entities") }
func (w *World) Regions() *mca.Registry       { return w.regions }

// Chunk returns the terrain chunk at chunk coordinate (x,z). Chunks never
// saved come back as the EMPTY chunk, unreadable ones as the ERRORED chunk.
func (w *World) Chunk(x, z int) mca.Chunk { return w.BlockChunk(x, z) }

func (w *World) BlockChunk(x, z int) *mca.BlockChunk { return w.chunks.Get(x, z) }

// ChunkAtBlock returns the chunk holding block column (x,z).
func (w *World) ChunkAtBlock(x, z int) mca.Chunk { return w.chunks.Get(x>>4, z>>4) }

func (w *World) EntityChunk(x, z int) *mca.EntityChunk { return w.entities.Get(x, z) }

func (w *World) IsEmptyChunk(c mca.Chunk) bool {
	bc, ok := c.(*mca.BlockChunk)
	return ok && bc == w.chunkLoader.Empty()
}

func (w *World) IsErroredChunk(c mca.Chunk) bool {
	bc, ok := c.(*mca.BlockChunk)
	return ok && bc == w.chunkLoader.Errored()
}

// ListRegions lists the terrain regions present on disk.
func (w *World) ListRegions() ([]mca.RegionEntry, error) {
	return w.regions.List(w.RegionFolder())
}

// PreloadRegionChunks decodes every present chunk of region (rx,rz) that
// passes filter into the chunk cache. A nil filter accepts all chunks; chunks
// already cached or being loaded are skipped.
func (w *World) PreloadRegionChunks(rx, rz int, filter func(x, z int) bool) error {
	r, err := w.regions.Open(w.RegionFolder(), rx, rz)
	if err != nil {
		return err
	}
	err = r.IterateChunks(func(cx, cz int, p mca.Payload, readErr error) error {
		if filter != nil && !filter(cx, cz) {
			return nil
		}
		if w.chunks.Has(cx, cz) {
			return nil
		}
		c := w.chunkLoader.Errored()
		if readErr == nil {
			var loadErr error
			if c, loadErr = w.chunkLoader.Load(p); loadErr != nil {
				readErr = loadErr
				c = w.chunkLoader.Errored()
			}
		}
		if readErr != nil {
			w.logger.Printf("warn: failed to load chunk %d,%d: %v", cx, cz, readErr)
		}
		w.chunks.Preload(cx, cz, c)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (w *World) InvalidateChunkCache() {
	w.chunks.InvalidateAll()
	w.entities.InvalidateAll()
	w.cache.Clear()
}

func (w *World) InvalidateChunkCacheAt(x, z int) {
	w.chunks.Invalidate(x, z)
	w.entities.Invalidate(x, z)
	rx, rz := mca.RegionOf(x), mca.RegionOf(z)
	for _, t := range w.regions.Types() {
		w.cache.Invalidate(filepath.Join(w.RegionFolder(), t.FileName(rx, rz)))
		w.cache.Invalidate(filepath.Join(w.EntityFolder(), t.FileName(rx, rz)))
	}
}

// IterateEntities calls fn for every entity whose position lies within the
// block rectangle [minX,maxX]x[minZ,maxZ].
func (w *World) IterateEntities(minX, minZ, maxX, maxZ int, fn func(mca.Entity) error) error {
	for cx := minX >> 4; cx <= maxX>>4; cx++ {
		for cz := minZ >> 4; cz <= maxZ>>4; cz++ {
			err := w.entities.Get(cx, cz).IterateEntities(func(e mca.Entity) error {
				x, z := e.Pos[0], e.Pos[2]
				if x < float64(minX) || x >= float64(maxX+1) || z < float64(minZ) || z >= float64(maxZ+1) {
					return nil
				}
				return fn(e)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// CachedChunks reports the number of memoized terrain and entity chunks.
func (w *World) CachedChunks() (chunks, entities int) {
	return w.chunks.Len(), w.entities.Len()
}

// Close drops all caches. It is safe to call more than once.
func (w *World) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.chunks.InvalidateAll()
	w.entities.InvalidateAll()
	w.cache.Close()
	return nil
}
