package mca

import (
	"sort"
	"strings"

	"github.com/Tnze/go-mc/nbt"
	"github.com/cespare/xxhash/v2"
)

// Hasher computes the change hash of a decompressed chunk payload.
type Hasher func(data []byte) uint64

// DefaultHasher is xxHash64.
func DefaultHasher(data []byte) uint64 { return xxhash.Sum64(data) }

const (
	emptyHash   uint64 = 0
	erroredHash uint64 = 0xe7707ed0c4a11c0d
)

// BlockState is an immutable block id plus its state properties.
type BlockState struct {
	Name       string
	Properties map[string]string
}

var Air = &BlockState{Name: "minecraft:air"}

func (b *BlockState) IsAir() bool {
	switch b.Name {
	case "minecraft:air", "minecraft:cave_air", "minecraft:void_air":
		return true
	}
	return false
}

// String renders name[k=v,...] with sorted keys.
func (b *BlockState) String() string {
	if len(b.Properties) == 0 {
		return b.Name
	}
	keys := make([]string, 0, len(b.Properties))
	for k := range b.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(b.Name)
	sb.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b.Properties[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

// textComponent reads a custom name saved either as a string or, since 1.21.5,
// as a text compound. Anything else reads as no name.
func textComponent(m nbt.RawMessage) string {
	switch m.Type {
	case nbt.TagString:
		var s string
		if m.Unmarshal(&s) == nil {
			return s
		}
	case nbt.TagCompound:
		var c struct {
			Text string `nbt:"text"`
		}
		if m.Unmarshal(&c) == nil {
			return c.Text
		}
	}
	return ""
}

type LightData struct {
	Sky   int
	Block int
}

type BlockEntity struct {
	ID         string
	X, Y, Z    int
	CustomName string
}

// Chunk is the capability set renderers and the update driver rely on.
// Coordinates are block coordinates; only the low 4 bits of x and z matter,
// also for block entity lookups.
type Chunk interface {
	DataVersion() int
	IsGenerated() bool
	HasLightData() bool
	InhabitedTime() int64
	BlockState(x, y, z int) *BlockState
	Biome(x, y, z int) string
	LightData(x, y, z int) LightData
	MinY(x, z int) int
	MaxY(x, z int) int
	HasWorldSurfaceHeights() bool
	WorldSurfaceY(x, z int) int
	HasOceanFloorHeights() bool
	OceanFloorY(x, z int) int
	BlockEntity(x, y, z int) (BlockEntity, bool)
	IterateBlockEntities(fn func(BlockEntity) error) error
	// Hash is the change hash of the stored payload.
	Hash() uint64
	IsEmpty() bool
	IsErrored() bool
}

type chunkKind uint8

const (
	kindLoaded chunkKind = iota
	kindEmpty
	kindErrored
)
