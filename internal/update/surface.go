package update

import (
	"context"
	"fmt"
	"io"

	"github.com/Tnze/go-mc/nbt"

	"voxelmap.ai/internal/encoding"
	"voxelmap.ai/internal/storage"
)

// SurfaceRenderer writes, per tile, the top block and its height for every
// column. It is a minimal Renderer that keeps tile output in a GridStorage.
type SurfaceRenderer struct {
	Store storage.GridStorage
}

type surfaceNBT struct {
	Size    int32    `nbt:"size"`
	Palette []string `nbt:"palette"`
	Blocks  []byte   `nbt:"blocks"`
	Heights []int32  `nbt:"heights"`
}

// SurfaceTile is the decoded output of SurfaceRenderer. Columns are stored
// row by row along x.
type SurfaceTile struct {
	Size    int
	Blocks  []string
	Heights []int32
}

func (t SurfaceTile) At(lx, lz int) (string, int32) {
	i := lz*t.Size + lx
	return t.Blocks[i], t.Heights[i]
}

func (r SurfaceRenderer) RenderTile(ctx context.Context, w World, grid TileGrid, tx, tz int) error {
	rect := grid.Blocks(tx, tz)
	n := grid.Size * grid.Size
	blocks := make([]string, n)
	heights := make([]int32, n)
	for lz := 0; lz < grid.Size; lz++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for lx := 0; lx < grid.Size; lx++ {
			x, z := rect.MinX+lx, rect.MinZ+lz
			name, y := topBlock(w, x, z)
			blocks[lz*grid.Size+lx] = name
			heights[lz*grid.Size+lx] = int32(y)
		}
	}
	palette, idx, err := encoding.EncodePalette(blocks)
	if err != nil {
		return fmt.Errorf("tile %d,%d: %w", tx, tz, err)
	}
	data, err := nbt.Marshal(surfaceNBT{Size: int32(grid.Size), Palette: palette, Blocks: idx, Heights: heights})
	if err != nil {
		return err
	}
	out, err := r.Store.Write(tx, tz)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		_ = storage.Abort(out)
		return err
	}
	return out.Close()
}

func (r SurfaceRenderer) DeleteTile(ctx context.Context, tx, tz int) error {
	return r.Store.Delete(tx, tz)
}

// topBlock scans down from the world surface heightmap, or from the top of
// the chunk when it has none. Empty columns report "" at MinY.
func topBlock(w World, x, z int) (string, int) {
	c := w.Chunk(x>>4, z>>4)
	minY := c.MinY(x, z)
	if c.IsEmpty() || c.IsErrored() {
		return "", minY
	}
	y := c.MaxY(x, z)
	if c.HasWorldSurfaceHeights() {
		y = c.WorldSurfaceY(x, z) - 1
	}
	for ; y >= minY; y-- {
		if b := c.BlockState(x, y, z); !b.IsAir() {
			return b.Name, y
		}
	}
	return "", minY
}

// ReadSurfaceTile loads a tile written by SurfaceRenderer. It returns false
// when the tile does not exist.
func ReadSurfaceTile(s storage.GridStorage, tx, tz int) (SurfaceTile, bool, error) {
	cr, err := s.Read(tx, tz)
	if err != nil || cr == nil {
		return SurfaceTile{}, false, err
	}
	rc, err := cr.Decompress()
	if err != nil {
		return SurfaceTile{}, false, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return SurfaceTile{}, false, err
	}
	var d surfaceNBT
	if err := nbt.Unmarshal(raw, &d); err != nil {
		return SurfaceTile{}, false, err
	}
	blocks, err := encoding.DecodePalette(d.Palette, d.Blocks)
	if err != nil {
		return SurfaceTile{}, false, err
	}
	n := int(d.Size) * int(d.Size)
	if len(blocks) != n || len(d.Heights) != n {
		return SurfaceTile{}, false, fmt.Errorf("tile %d,%d: %d columns, want %d", tx, tz, len(blocks), n)
	}
	return SurfaceTile{Size: int(d.Size), Blocks: blocks, Heights: d.Heights}, true, nil
}
