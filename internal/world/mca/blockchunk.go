package mca

import (
	"fmt"
	"strings"

	"github.com/Tnze/go-mc/nbt"
	"github.com/Tnze/go-mc/save"
)

const (
	// DataVersion thresholds of the on-disk chunk layouts.
	versionModern      = 2844 // 21w43a: sections at top level, block_states/biomes containers
	versionNonSpanning = 2527 // 20w17a: packed values no longer span longs
	version3DBiomes    = 2203 // 19w36a: 4x4x4 biome cells
	versionFlattening  = 1519 // 1.13: block palettes
)

const defaultBiome = "minecraft:plains"

// BlockChunk is a decoded terrain chunk. Values are read-only after loading;
// EMPTY and ERRORED instances share the type and report no blocks.
type BlockChunk struct {
	kind        chunkKind
	dataVersion int
	x, z        int
	status      string
	generated   bool
	lit         bool
	inhabited   int64

	minY, maxY int
	minSection int
	sections   []*section

	legacyBiomes []int32
	biomes3D     bool

	worldSurface, oceanFloor       indexArray
	hasWorldSurface, hasOceanFloor bool

	blockEntities []BlockEntity
	blockEntityAt map[[3]int]int

	hash uint64
}

type section struct {
	palette    []*BlockState
	blocks     indexArray
	biomes     []string
	biomeIdx   indexArray
	blockLight []byte
	skyLight   []byte
}

func (c *BlockChunk) DataVersion() int      { return c.dataVersion }
func (c *BlockChunk) Status() string        { return c.status }
func (c *BlockChunk) IsGenerated() bool     { return c.generated }
func (c *BlockChunk) HasLightData() bool    { return c.lit }
func (c *BlockChunk) InhabitedTime() int64  { return c.inhabited }
func (c *BlockChunk) MinY(x, z int) int     { return c.minY }
func (c *BlockChunk) MaxY(x, z int) int     { return c.maxY }
func (c *BlockChunk) Hash() uint64          { return c.hash }
func (c *BlockChunk) IsEmpty() bool         { return c.kind == kindEmpty }
func (c *BlockChunk) IsErrored() bool       { return c.kind == kindErrored }
func (c *BlockChunk) Position() (x, z int)  { return c.x, c.z }
func (c *BlockChunk) SectionCount() int     { return countSections(c.sections) }
func (c *BlockChunk) BlockEntityCount() int { return len(c.blockEntities) }

func countSections(s []*section) int {
	n := 0
	for _, sec := range s {
		if sec != nil {
			n++
		}
	}
	return n
}

func (c *BlockChunk) section(y int) *section {
	i := (y >> 4) - c.minSection
	if i < 0 || i >= len(c.sections) {
		return nil
	}
	return c.sections[i]
}

func blockIndex(x, y, z int) int { return (y&15)<<8 | (z&15)<<4 | x&15 }

func (c *BlockChunk) BlockState(x, y, z int) *BlockState {
	s := c.section(y)
	if s == nil || len(s.palette) == 0 {
		return Air
	}
	i := s.blocks.Get(blockIndex(x, y, z))
	if i >= len(s.palette) {
		return Air
	}
	return s.palette[i]
}

func (c *BlockChunk) Biome(x, y, z int) string {
	if c.legacyBiomes != nil {
		var i int
		if c.biomes3D {
			i = ((y>>2)&63)<<4 | ((z>>2)&3)<<2 | (x>>2)&3
		} else {
			i = (z&15)<<4 | x&15
		}
		if i >= len(c.legacyBiomes) {
			return defaultBiome
		}
		return legacyBiomeName(int(c.legacyBiomes[i]))
	}
	s := c.section(y)
	if s == nil || len(s.biomes) == 0 {
		return defaultBiome
	}
	i := s.biomeIdx.Get(((y&15)>>2)<<4 | ((z&15)>>2)<<2 | (x&15)>>2)
	if i >= len(s.biomes) {
		return defaultBiome
	}
	return s.biomes[i]
}

func (c *BlockChunk) LightData(x, y, z int) LightData {
	if !c.lit {
		return LightData{}
	}
	s := c.section(y)
	if s == nil {
		return LightData{Sky: 15}
	}
	i := blockIndex(x, y, z)
	sky := 0
	if len(s.skyLight) > 0 {
		sky = nibble(s.skyLight, i)
	}
	return LightData{Sky: sky, Block: nibble(s.blockLight, i)}
}

func (c *BlockChunk) HasWorldSurfaceHeights() bool { return c.hasWorldSurface }
func (c *BlockChunk) HasOceanFloorHeights() bool   { return c.hasOceanFloor }

func (c *BlockChunk) WorldSurfaceY(x, z int) int {
	if !c.hasWorldSurface {
		return 0
	}
	return c.minY + c.worldSurface.Get((z&15)<<4|x&15)
}

func (c *BlockChunk) OceanFloorY(x, z int) int {
	if !c.hasOceanFloor {
		return 0
	}
	return c.minY + c.oceanFloor.Get((z&15)<<4|x&15)
}

func (c *BlockChunk) BlockEntity(x, y, z int) (BlockEntity, bool) {
	i, ok := c.blockEntityAt[[3]int{x & 15, y, z & 15}]
	if !ok {
		return BlockEntity{}, false
	}
	return c.blockEntities[i], true
}

func (c *BlockChunk) IterateBlockEntities(fn func(BlockEntity) error) error {
	for _, be := range c.blockEntities {
		if err := fn(be); err != nil {
			return err
		}
	}
	return nil
}

// BlockChunkLoader decodes terrain chunks for a dimension with the given
// vertical extent.
type BlockChunkLoader struct {
	minY, height int
	hash         Hasher
	empty        *BlockChunk
	errored      *BlockChunk
}

func NewBlockChunkLoader(minY, height int, hash Hasher) *BlockChunkLoader {
	if hash == nil {
		hash = DefaultHasher
	}
	maxY := minY + height - 1
	return &BlockChunkLoader{
		minY:    minY,
		height:  height,
		hash:    hash,
		empty:   &BlockChunk{kind: kindEmpty, status: "empty", minY: minY, maxY: maxY, hash: emptyHash},
		errored: &BlockChunk{kind: kindErrored, status: "errored", minY: minY, maxY: maxY, hash: erroredHash},
	}
}

func (l *BlockChunkLoader) Empty() *BlockChunk   { return l.empty }
func (l *BlockChunkLoader) Errored() *BlockChunk { return l.errored }

type versionProbe struct {
	DataVersion int32 `nbt:"DataVersion"`
}

func (l *BlockChunkLoader) Load(p Payload) (*BlockChunk, error) {
	raw, err := p.Compression.Decompress(p.Data)
	if err != nil {
		return nil, err
	}
	var probe versionProbe
	if err := nbt.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	var c *BlockChunk
	switch v := int(probe.DataVersion); {
	case v >= versionModern:
		c, err = l.loadModern(raw)
	case v >= versionFlattening:
		c, err = l.loadLegacy(raw, v)
	default:
		return nil, fmt.Errorf("%w: unsupported data version %d", ErrCorruptChunk, v)
	}
	if err != nil {
		return nil, err
	}
	c.hash = l.hash(raw)
	return c, nil
}

type blockStateNBT struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties"`
}

type blockEntityNBT struct {
	ID         string         `nbt:"id"`
	X          int32          `nbt:"x"`
	Y          int32          `nbt:"y"`
	Z          int32          `nbt:"z"`
	CustomName nbt.RawMessage `nbt:"CustomName"`
}

type heightmapsNBT struct {
	WorldSurface []uint64 `nbt:"WORLD_SURFACE"`
	OceanFloor   []uint64 `nbt:"OCEAN_FLOOR"`
}

type legacySectionNBT struct {
	Y           int8            `nbt:"Y"`
	Palette     []blockStateNBT `nbt:"Palette"`
	BlockStates []uint64        `nbt:"BlockStates"`
	BlockLight  []byte          `nbt:"BlockLight"`
	SkyLight    []byte          `nbt:"SkyLight"`
}

type legacyChunkNBT struct {
	DataVersion int32 `nbt:"DataVersion"`
	Level       struct {
		XPos          int32              `nbt:"xPos"`
		ZPos          int32              `nbt:"zPos"`
		Status        string             `nbt:"Status"`
		IsLightOn     int8               `nbt:"isLightOn"`
		InhabitedTime int64              `nbt:"InhabitedTime"`
		Heightmaps    heightmapsNBT      `nbt:"Heightmaps"`
		Sections      []legacySectionNBT `nbt:"Sections"`
		Biomes        []int32            `nbt:"Biomes"`
		TileEntities  []blockEntityNBT   `nbt:"TileEntities"`
	} `nbt:"Level"`
}

// loadModern decodes the 1.18+ layout through go-mc's save.Chunk.
func (l *BlockChunkLoader) loadModern(raw []byte) (*BlockChunk, error) {
	var d save.Chunk
	if err := nbt.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	status := trimNamespace(d.Status)
	c := &BlockChunk{
		dataVersion: int(d.DataVersion),
		x:           int(d.XPos),
		z:           int(d.ZPos),
		status:      status,
		generated:   isGeneratedStatus(status),
		lit:         d.IsLightOn != 0,
		inhabited:   d.InhabitedTime,
		minY:        l.minY,
		maxY:        l.minY + l.height - 1,
		minSection:  l.minY >> 4,
		sections:    make([]*section, (l.height+15)>>4),
	}
	for _, sd := range d.Sections {
		i := int(sd.Y) - c.minSection
		if i < 0 || i >= len(c.sections) {
			continue
		}
		palette, err := modernPalette(sd.BlockStates.Palette)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sd.Y, err)
		}
		s, err := newSection(palette, sd.BlockStates.Data, false, sd.BlockLight, sd.SkyLight)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sd.Y, err)
		}
		biomes := make([]string, len(sd.Biomes.Palette))
		for j, b := range sd.Biomes.Palette {
			biomes[j] = string(b)
		}
		if err := s.setBiomes(biomes, sd.Biomes.Data); err != nil {
			return nil, fmt.Errorf("section %d: %w", sd.Y, err)
		}
		c.sections[i] = s
	}
	hbits := ceilLog2(l.height + 1)
	c.worldSurface, c.hasWorldSurface = heightmap(d.Heightmaps["WORLD_SURFACE"], hbits, false)
	c.oceanFloor, c.hasOceanFloor = heightmap(d.Heightmaps["OCEAN_FLOOR"], hbits, false)

	entities := make([]blockEntityNBT, len(d.BlockEntities))
	for i, m := range d.BlockEntities {
		if err := m.Unmarshal(&entities[i]); err != nil {
			return nil, fmt.Errorf("%w: block entity: %v", ErrCorruptChunk, err)
		}
	}
	c.setBlockEntities(entities)
	return c, nil
}

func modernPalette(p []save.BlockState) ([]*BlockState, error) {
	out := make([]*BlockState, len(p))
	for i, b := range p {
		var props map[string]string
		if b.Properties.Type == nbt.TagCompound {
			if err := b.Properties.Unmarshal(&props); err != nil {
				return nil, fmt.Errorf("%w: properties of %s: %v", ErrCorruptChunk, b.Name, err)
			}
		}
		out[i] = newBlockState(b.Name, props)
	}
	return out, nil
}

func legacyPalette(p []blockStateNBT) []*BlockState {
	out := make([]*BlockState, len(p))
	for i, b := range p {
		out[i] = newBlockState(b.Name, b.Properties)
	}
	return out
}

func newBlockState(name string, props map[string]string) *BlockState {
	if name == Air.Name && len(props) == 0 {
		return Air
	}
	return &BlockState{Name: name, Properties: props}
}

func (l *BlockChunkLoader) loadLegacy(raw []byte, version int) (*BlockChunk, error) {
	var d legacyChunkNBT
	if err := nbt.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	lv := d.Level
	status := trimNamespace(lv.Status)
	spanning := version < versionNonSpanning
	c := &BlockChunk{
		dataVersion: version,
		x:           int(lv.XPos),
		z:           int(lv.ZPos),
		status:      status,
		generated:   isGeneratedStatus(status),
		lit:         lv.IsLightOn != 0 || isLitStatus(status),
		inhabited:   lv.InhabitedTime,
		minY:        0,
		maxY:        255,
		sections:    make([]*section, 16),
	}
	for _, sd := range lv.Sections {
		if sd.Y < 0 || int(sd.Y) >= len(c.sections) {
			continue
		}
		s, err := newSection(legacyPalette(sd.Palette), sd.BlockStates, spanning, sd.BlockLight, sd.SkyLight)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", sd.Y, err)
		}
		c.sections[sd.Y] = s
	}
	if len(lv.Biomes) > 0 {
		c.legacyBiomes = lv.Biomes
		c.biomes3D = version >= version3DBiomes
	}
	c.worldSurface, c.hasWorldSurface = heightmap(lv.Heightmaps.WorldSurface, 9, spanning)
	c.oceanFloor, c.hasOceanFloor = heightmap(lv.Heightmaps.OceanFloor, 9, spanning)
	c.setBlockEntities(lv.TileEntities)
	return c, nil
}

// newSection validates every packed palette index up front so lookups never
// read outside the palette.
func newSection(palette []*BlockState, data []uint64, spanning bool, blockLight, skyLight []byte) (*section, error) {
	s := &section{blocks: noIndices, biomeIdx: noIndices, blockLight: blockLight, skyLight: skyLight}
	if len(palette) == 0 {
		if len(data) > 0 {
			return nil, fmt.Errorf("%w: block data without palette", ErrCorruptChunk)
		}
		return s, nil
	}
	s.palette = palette
	if len(data) == 0 {
		return s, nil
	}
	blocks, err := indices(max(4, ceilLog2(len(palette))), 4096, data, spanning)
	if err != nil {
		return nil, fmt.Errorf("block states: %w", err)
	}
	if err := validateIndices(blocks, 4096, len(palette)); err != nil {
		return nil, fmt.Errorf("block states: %w", err)
	}
	s.blocks = blocks
	return s, nil
}

func (s *section) setBiomes(palette []string, data []uint64) error {
	if len(palette) == 0 {
		return nil
	}
	s.biomes = palette
	if len(data) == 0 {
		return nil
	}
	idx, err := newBitStorage(ceilLog2(len(palette)), 64, data)
	if err != nil {
		return fmt.Errorf("biomes: %w", err)
	}
	if err := validateIndices(idx, 64, len(palette)); err != nil {
		return fmt.Errorf("biomes: %w", err)
	}
	s.biomeIdx = idx
	return nil
}

func indices(bitsPer, n int, data []uint64, spanning bool) (indexArray, error) {
	if spanning {
		return newSpanningArray(bitsPer, n, data)
	}
	return newBitStorage(bitsPer, n, data)
}

func validateIndices(p indexArray, n, paletteLen int) error {
	for i := 0; i < n; i++ {
		if v := p.Get(i); v >= paletteLen {
			return fmt.Errorf("%w: palette index %d out of range (palette size %d)", ErrCorruptChunk, v, paletteLen)
		}
	}
	return nil
}

// heightmap reports false for missing or malformed heightmaps.
func heightmap(data []uint64, bitsPer int, spanning bool) (indexArray, bool) {
	if len(data) == 0 {
		return noIndices, false
	}
	p, err := indices(bitsPer, 256, data, spanning)
	if err != nil {
		return noIndices, false
	}
	return p, true
}

func (c *BlockChunk) setBlockEntities(list []blockEntityNBT) {
	if len(list) == 0 {
		return
	}
	c.blockEntities = make([]BlockEntity, 0, len(list))
	c.blockEntityAt = make(map[[3]int]int, len(list))
	for _, be := range list {
		e := BlockEntity{ID: be.ID, X: int(be.X), Y: int(be.Y), Z: int(be.Z), CustomName: textComponent(be.CustomName)}
		c.blockEntityAt[[3]int{e.X & 15, e.Y, e.Z & 15}] = len(c.blockEntities)
		c.blockEntities = append(c.blockEntities, e)
	}
}

func trimNamespace(s string) string {
	return strings.TrimPrefix(s, "minecraft:")
}

func isGeneratedStatus(status string) bool {
	switch status {
	case "full", "spawn", "light", "initialize_light", "heightmaps", "features", "postprocessed", "mobs_spawned", "fullchunk":
		return true
	}
	return false
}

func isLitStatus(status string) bool {
	switch status {
	case "full", "spawn", "light", "heightmaps", "postprocessed", "mobs_spawned", "fullchunk":
		return true
	}
	return false
}

var legacyBiomes = [...]string{
	"ocean", "plains", "desert", "mountains", "forest", "taiga", "swamp", "river",
	"nether_wastes", "the_end", "frozen_ocean", "frozen_river", "snowy_tundra",
	"snowy_mountains", "mushroom_fields", "mushroom_field_shore", "beach",
	"desert_hills", "wooded_hills", "taiga_hills", "mountain_edge", "jungle",
	"jungle_hills", "jungle_edge", "deep_ocean", "stone_shore", "snowy_beach",
	"birch_forest", "birch_forest_hills", "dark_forest", "snowy_taiga",
	"snowy_taiga_hills", "giant_tree_taiga", "giant_tree_taiga_hills",
	"wooded_mountains", "savanna", "savanna_plateau", "badlands",
	"wooded_badlands_plateau", "badlands_plateau", "small_end_islands",
	"end_midlands", "end_highlands", "end_barrens", "warm_ocean", "lukewarm_ocean",
	"cold_ocean", "deep_warm_ocean", "deep_lukewarm_ocean", "deep_cold_ocean",
	"deep_frozen_ocean",
}

func legacyBiomeName(id int) string {
	if id < 0 || id >= len(legacyBiomes) {
		return defaultBiome
	}
	return "minecraft:" + legacyBiomes[id]
}

var (
	_ Chunk                    = (*BlockChunk)(nil)
	_ ChunkLoader[*BlockChunk] = (*BlockChunkLoader)(nil)
)
