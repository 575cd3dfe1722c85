package update

import (
	"context"
	"testing"

	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/storage"
)

func TestSurfaceRenderer_WritesAndDeletesTiles(t *testing.T) {
	w := newFakeWorld(0, 0, 1, 1)
	w.set(0, 0, &fakeChunk{hash: 5, inhabited: 100, surface: 70})
	store := storage.NewMemory(storage.GZip)
	r := SurfaceRenderer{Store: store}
	grid := TileGrid{Size: 32}

	if err := r.RenderTile(context.Background(), w, grid, 0, 0); err != nil {
		t.Fatalf("RenderTile: %v", err)
	}
	tile, ok, err := ReadSurfaceTile(store, 0, 0)
	if err != nil || !ok {
		t.Fatalf("ReadSurfaceTile: ok=%v err=%v", ok, err)
	}
	if name, y := tile.At(3, 4); name != "minecraft:stone" || y != 70 {
		t.Fatalf("column 3,4 = %s@%d", name, y)
	}
	if name, y := tile.At(20, 4); name != "" || y != -64 {
		t.Fatalf("column 20,4 should be empty, got %s@%d", name, y)
	}

	if err := r.DeleteTile(context.Background(), 0, 0); err != nil {
		t.Fatalf("DeleteTile: %v", err)
	}
	if _, ok, _ := ReadSurfaceTile(store, 0, 0); ok {
		t.Fatalf("tile should be gone")
	}
}

func TestSurfaceRenderer_WithDriver(t *testing.T) {
	w := newFakeWorld(-2, -2, 3, 3)
	store := storage.NewMemory(storage.None)
	d, err := NewDriver(Config{
		Grid:    TileGrid{Size: 32},
		Bounds:  renderstate.BoundsPolicy{Bounds: renderstate.Rect{MinX: -32, MinZ: -32, MaxX: 31, MaxZ: 31}},
		Workers: 2,
	}, w, renderstate.NewChunkInfoStore(nil), renderstate.NewTileInfoStore(nil, nil), SurfaceRenderer{Store: store})
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := d.Run(context.Background(), square(-1, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, k := range [][2]int{{-1, -1}, {0, 0}} {
		if ok, _ := store.Exists(k[0], k[1]); !ok {
			t.Fatalf("tile %v not written", k)
		}
	}
	if ok, _ := store.Exists(1, 1); ok {
		t.Fatalf("out of bounds tile written")
	}
}
