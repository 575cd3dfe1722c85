package mca

import (
	"testing"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/nbt"
)

func states(names ...string) []blockStateNBT {
	out := make([]blockStateNBT, len(names))
	for i, n := range names {
		out[i] = blockStateNBT{Name: n, Properties: map[string]string{}}
	}
	return out
}

// packLongs builds a packed long array in either layout.
func packLongs(values []int, bitsPer int, spanning bool) []uint64 {
	if !spanning {
		bs := level.NewBitStorage(bitsPer, len(values), nil)
		for i, v := range values {
			bs.Set(i, v)
		}
		return append([]uint64{}, bs.Raw()...)
	}
	out := make([]uint64, (len(values)*bitsPer+63)/64)
	mask := uint64(1)<<bitsPer - 1
	for i, v := range values {
		u := uint64(v) & mask
		bit := i * bitsPer
		li, off := bit>>6, bit&63
		out[li] |= u << off
		if off+bitsPer > 64 {
			out[li+1] |= u >> (64 - off)
		}
	}
	return out
}

type sectionFixture struct {
	Y           int8 `nbt:"Y"`
	BlockStates struct {
		Palette []blockStateNBT `nbt:"palette"`
		Data    []uint64        `nbt:"data,omitempty"`
	} `nbt:"block_states"`
	Biomes struct {
		Palette []string `nbt:"palette"`
		Data    []uint64 `nbt:"data,omitempty"`
	} `nbt:"biomes"`
	BlockLight []byte `nbt:"BlockLight"`
	SkyLight   []byte `nbt:"SkyLight"`
}

type blockEntityFixture struct {
	ID         string `nbt:"id"`
	X          int32  `nbt:"x"`
	Y          int32  `nbt:"y"`
	Z          int32  `nbt:"z"`
	CustomName any    `nbt:"CustomName,omitempty"`
}

// textFixture is the 1.21.5+ compound form of a custom name.
type textFixture struct {
	Text  string `nbt:"text"`
	Color string `nbt:"color"`
}

// chunkFixture is the subset of the 1.18+ chunk layout written by tests.
type chunkFixture struct {
	DataVersion   int32  `nbt:"DataVersion"`
	XPos          int32  `nbt:"xPos"`
	ZPos          int32  `nbt:"zPos"`
	Status        string `nbt:"Status"`
	IsLightOn     int8   `nbt:"isLightOn"`
	InhabitedTime int64  `nbt:"InhabitedTime"`
	Heightmaps    struct {
		WorldSurface []uint64 `nbt:"WORLD_SURFACE,omitempty"`
		OceanFloor   []uint64 `nbt:"OCEAN_FLOOR,omitempty"`
	} `nbt:"Heightmaps"`
	Sections      []sectionFixture     `nbt:"sections"`
	BlockEntities []blockEntityFixture `nbt:"block_entities"`
}

// modernChunkFixture is a 1.20 chunk with one section at y=-64..-49.
func modernChunkFixture(x, z int, palette []blockStateNBT, blocks []int) chunkFixture {
	d := chunkFixture{
		DataVersion:   3465,
		XPos:          int32(x),
		ZPos:          int32(z),
		Status:        "minecraft:full",
		IsLightOn:     1,
		InhabitedTime: 120,
	}
	sec := sectionFixture{Y: -4}
	sec.BlockStates.Palette = palette
	if blocks != nil {
		sec.BlockStates.Data = packLongs(blocks, max(4, ceilLog2(len(palette))), false)
	}
	sec.Biomes.Palette = []string{"minecraft:desert", "minecraft:river"}
	biomes := make([]int, 64)
	biomes[63] = 1
	sec.Biomes.Data = packLongs(biomes, 1, false)
	sec.SkyLight = make([]byte, 2048)
	sec.SkyLight[0] = 0xAF
	sec.BlockLight = make([]byte, 2048)
	d.Sections = []sectionFixture{sec}

	heights := make([]int, 256)
	for i := range heights {
		heights[i] = 64 + i%16
	}
	d.Heightmaps.WorldSurface = packLongs(heights, 9, false)
	d.BlockEntities = []blockEntityFixture{{ID: "minecraft:chest", X: int32(x*16 + 1), Y: -60, Z: int32(z*16 + 2), CustomName: "loot"}}
	return d
}

func marshalFixture(t *testing.T, v any) []byte {
	t.Helper()
	b, err := nbt.Marshal(v)
	if err != nil {
		t.Fatalf("nbt.Marshal: %v", err)
	}
	return b
}

func modernChunkNBTBytes(t *testing.T, x, z int, palette []blockStateNBT, blocks []int) []byte {
	t.Helper()
	return marshalFixture(t, modernChunkFixture(x, z, palette, blocks))
}

func zlibPayload(t *testing.T, raw []byte) Payload {
	t.Helper()
	data, err := CompressionZlib.Compress(raw)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	return Payload{Data: data, Compression: CompressionZlib}
}
