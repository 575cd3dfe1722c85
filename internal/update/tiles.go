package update

import (
	"fmt"
	"sort"

	"voxelmap.ai/internal/renderstate"
)

// TileGrid maps tile coordinates onto block coordinates. Tile (0,0) starts
// at block (OffsetX, OffsetZ).
type TileGrid struct {
	Size    int
	OffsetX int
	OffsetZ int
}

func (g TileGrid) Validate() error {
	if g.Size <= 0 || g.Size%16 != 0 {
		return fmt.Errorf("tile size must be a positive multiple of 16, got %d", g.Size)
	}
	return nil
}

// Blocks is the inclusive block rectangle covered by tile (tx,tz).
func (g TileGrid) Blocks(tx, tz int) renderstate.Rect {
	minX := tx*g.Size + g.OffsetX
	minZ := tz*g.Size + g.OffsetZ
	return renderstate.Rect{MinX: minX, MinZ: minZ, MaxX: minX + g.Size - 1, MaxZ: minZ + g.Size - 1}
}

// TileOf returns the tile containing block (x,z).
func (g TileGrid) TileOf(x, z int) (tx, tz int) {
	return floorDiv(x-g.OffsetX, g.Size), floorDiv(z-g.OffsetZ, g.Size)
}

// Chunks calls fn for every chunk overlapping tile (tx,tz).
func (g TileGrid) Chunks(tx, tz int, fn func(cx, cz int)) {
	r := g.Blocks(tx, tz)
	for cz := r.MinZ >> 4; cz <= r.MaxZ>>4; cz++ {
		for cx := r.MinX >> 4; cx <= r.MaxX>>4; cx++ {
			fn(cx, cz)
		}
	}
}

// TilesForRegions lists, sorted and without duplicates, every tile that
// overlaps one of the given chunk regions.
func (g TileGrid) TilesForRegions(regions [][2]int) [][2]int {
	seen := map[[2]int]bool{}
	var out [][2]int
	for _, rc := range regions {
		minX, minZ := rc[0]<<9, rc[1]<<9
		t0x, t0z := g.TileOf(minX, minZ)
		t1x, t1z := g.TileOf(minX+511, minZ+511)
		for tz := t0z; tz <= t1z; tz++ {
			for tx := t0x; tx <= t1x; tx++ {
				k := [2]int{tx, tz}
				if !seen[k] {
					seen[k] = true
					out = append(out, k)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][1] != out[j][1] {
			return out[i][1] < out[j][1]
		}
		return out[i][0] < out[j][0]
	})
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
