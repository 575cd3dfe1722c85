package mca

import (
	"encoding/binary"
	"fmt"

	"github.com/Tnze/go-mc/nbt"
	"github.com/google/uuid"
)

type Entity struct {
	ID         string
	UUID       uuid.UUID
	Pos        [3]float64
	Motion     [3]float64
	Rotation   [2]float32
	CustomName string
}

// EntityChunk holds the entities saved for one chunk column.
type EntityChunk struct {
	kind        chunkKind
	dataVersion int
	x, z        int
	entities    []Entity
	hash        uint64
}

func (c *EntityChunk) DataVersion() int     { return c.dataVersion }
func (c *EntityChunk) Position() (x, z int) { return c.x, c.z }
func (c *EntityChunk) Len() int             { return len(c.entities) }
func (c *EntityChunk) Hash() uint64         { return c.hash }
func (c *EntityChunk) IsEmpty() bool        { return c.kind == kindEmpty }
func (c *EntityChunk) IsErrored() bool      { return c.kind == kindErrored }

func (c *EntityChunk) IterateEntities(fn func(Entity) error) error {
	for _, e := range c.entities {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

type entityNBT struct {
	ID         string         `nbt:"id"`
	UUID       []int32        `nbt:"UUID"`
	Pos        []float64      `nbt:"Pos"`
	Motion     []float64      `nbt:"Motion"`
	Rotation   []float32      `nbt:"Rotation"`
	CustomName nbt.RawMessage `nbt:"CustomName"`
}

type entityChunkNBT struct {
	DataVersion int32       `nbt:"DataVersion"`
	Position    []int32     `nbt:"Position"`
	Entities    []entityNBT `nbt:"Entities"`
}

// EntityChunkLoader decodes chunks of the entities/ region grid.
type EntityChunkLoader struct {
	hash    Hasher
	empty   *EntityChunk
	errored *EntityChunk
}

func NewEntityChunkLoader(hash Hasher) *EntityChunkLoader {
	if hash == nil {
		hash = DefaultHasher
	}
	return &EntityChunkLoader{
		hash:    hash,
		empty:   &EntityChunk{kind: kindEmpty, hash: emptyHash},
		errored: &EntityChunk{kind: kindErrored, hash: erroredHash},
	}
}

func (l *EntityChunkLoader) Empty() *EntityChunk   { return l.empty }
func (l *EntityChunkLoader) Errored() *EntityChunk { return l.errored }

func (l *EntityChunkLoader) Load(p Payload) (*EntityChunk, error) {
	raw, err := p.Compression.Decompress(p.Data)
	if err != nil {
		return nil, err
	}
	var d entityChunkNBT
	if err := nbt.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	c := &EntityChunk{dataVersion: int(d.DataVersion), hash: l.hash(raw)}
	if len(d.Position) == 2 {
		c.x, c.z = int(d.Position[0]), int(d.Position[1])
	}
	c.entities = make([]Entity, 0, len(d.Entities))
	for _, en := range d.Entities {
		e := Entity{ID: en.ID, CustomName: textComponent(en.CustomName)}
		if len(en.UUID) == 4 {
			var b [16]byte
			for i, v := range en.UUID {
				binary.BigEndian.PutUint32(b[i*4:], uint32(v))
			}
			id, err := uuid.FromBytes(b[:])
			if err != nil {
				return nil, fmt.Errorf("%w: entity uuid: %v", ErrCorruptChunk, err)
			}
			e.UUID = id
		}
		copy(e.Pos[:], en.Pos)
		copy(e.Motion[:], en.Motion)
		copy(e.Rotation[:], en.Rotation)
		c.entities = append(c.entities, e)
	}
	return c, nil
}

var _ ChunkLoader[*EntityChunk] = (*EntityChunkLoader)(nil)
