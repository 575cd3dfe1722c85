package renderstate

import (
	"fmt"
	"log"

	"github.com/Tnze/go-mc/nbt"

	"voxelmap.ai/internal/storage"
)

type chunkInfoNBT struct {
	ChunkHashes []int64 `nbt:"chunk-hashes"`
}

type chunkInfoCodec struct{}

func (chunkInfoCodec) Encode(cells *[regionCells]int64) ([]byte, error) {
	return nbt.Marshal(chunkInfoNBT{ChunkHashes: cells[:]})
}

func (chunkInfoCodec) Decode(data []byte, cells *[regionCells]int64) error {
	var d chunkInfoNBT
	if err := nbt.Unmarshal(data, &d); err != nil {
		return err
	}
	if len(d.ChunkHashes) != regionCells {
		return fmt.Errorf("chunk-hashes: %d entries, want %d", len(d.ChunkHashes), regionCells)
	}
	copy(cells[:], d.ChunkHashes)
	return nil
}

// ChunkInfoStore records the last seen change hash of every chunk.
// A hash of 0 means the chunk was never hashed.
type ChunkInfoStore struct {
	cells *CellStore[int64]
}

func NewChunkInfoStore(logger *log.Logger) *ChunkInfoStore {
	return &ChunkInfoStore{cells: NewCellStore[int64](chunkInfoCodec{}, 0, logger)}
}

func (s *ChunkInfoStore) Hash(x, z int) uint64 { return uint64(s.cells.Get(x, z)) }

// SetHash stores h and returns the previous hash.
func (s *ChunkInfoStore) SetHash(x, z int, h uint64) uint64 {
	return uint64(s.cells.Set(x, z, int64(h)))
}

func (s *ChunkInfoStore) Regions() [][2]int { return s.cells.RegionCoords() }

func (s *ChunkInfoStore) Persist(target storage.GridStorage) error { return s.cells.Persist(target) }

func (s *ChunkInfoStore) Load(source storage.GridStorage) error { return s.cells.Load(source) }
