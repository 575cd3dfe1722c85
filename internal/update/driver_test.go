package update

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/world/mca"
)

type fakeChunk struct {
	hash      uint64
	empty     bool
	errored   bool
	ungen     bool
	unlit     bool
	inhabited int64
	// surface is the top solid y; 0 means no blocks
	surface int
}

var stone = &mca.BlockState{Name: "minecraft:stone"}

func (c *fakeChunk) DataVersion() int     { return 3700 }
func (c *fakeChunk) IsGenerated() bool    { return !c.ungen && !c.empty }
func (c *fakeChunk) HasLightData() bool   { return !c.unlit }
func (c *fakeChunk) InhabitedTime() int64 { return c.inhabited }
func (c *fakeChunk) BlockState(x, y, z int) *mca.BlockState {
	if c.surface != 0 && y <= c.surface {
		return stone
	}
	return mca.Air
}
func (c *fakeChunk) Biome(x, y, z int) string                        { return "minecraft:plains" }
func (c *fakeChunk) LightData(x, y, z int) mca.LightData             { return mca.LightData{Sky: 15} }
func (c *fakeChunk) MinY(x, z int) int                               { return -64 }
func (c *fakeChunk) MaxY(x, z int) int                               { return 319 }
func (c *fakeChunk) HasWorldSurfaceHeights() bool                    { return false }
func (c *fakeChunk) WorldSurfaceY(x, z int) int                      { return 0 }
func (c *fakeChunk) HasOceanFloorHeights() bool                      { return false }
func (c *fakeChunk) OceanFloorY(x, z int) int                        { return 0 }
func (c *fakeChunk) BlockEntity(x, y, z int) (mca.BlockEntity, bool) { return mca.BlockEntity{}, false }
func (c *fakeChunk) IterateBlockEntities(fn func(mca.BlockEntity) error) error {
	return nil
}
func (c *fakeChunk) Hash() uint64    { return c.hash }
func (c *fakeChunk) IsEmpty() bool   { return c.empty }
func (c *fakeChunk) IsErrored() bool { return c.errored }

var emptyChunk = &fakeChunk{empty: true}

type fakeWorld struct {
	mu     sync.Mutex
	chunks map[[2]int]*fakeChunk
}

// newFakeWorld fills chunks [minX..maxX]x[minZ..maxZ] with renderable chunks.
func newFakeWorld(minX, minZ, maxX, maxZ int) *fakeWorld {
	w := &fakeWorld{chunks: map[[2]int]*fakeChunk{}}
	for z := minZ; z <= maxZ; z++ {
		for x := minX; x <= maxX; x++ {
			w.chunks[[2]int{x, z}] = &fakeChunk{hash: uint64(1000 + x*31 + z), inhabited: 100}
		}
	}
	return w
}

func (w *fakeWorld) Chunk(x, z int) mca.Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.chunks[[2]int{x, z}]; ok {
		return c
	}
	return emptyChunk
}

func (w *fakeWorld) set(x, z int, c *fakeChunk) {
	w.mu.Lock()
	w.chunks[[2]int{x, z}] = c
	w.mu.Unlock()
}

type fakeRenderer struct {
	mu       sync.Mutex
	rendered map[[2]int]int
	deleted  map[[2]int]int
	fail     map[[2]int]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{rendered: map[[2]int]int{}, deleted: map[[2]int]int{}, fail: map[[2]int]bool{}}
}

func (r *fakeRenderer) RenderTile(ctx context.Context, w World, g TileGrid, tx, tz int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[[2]int{tx, tz}] {
		return errors.New("out of memory")
	}
	r.rendered[[2]int{tx, tz}]++
	return nil
}

func (r *fakeRenderer) DeleteTile(ctx context.Context, tx, tz int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted[[2]int{tx, tz}]++
	return nil
}

func (r *fakeRenderer) reset() {
	r.mu.Lock()
	r.rendered = map[[2]int]int{}
	r.deleted = map[[2]int]int{}
	r.mu.Unlock()
}

type memJournal struct {
	mu      sync.Mutex
	entries []Decision
}

func (j *memJournal) Write(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, v.(Decision))
	return nil
}

type fixture struct {
	world    *fakeWorld
	renderer *fakeRenderer
	chunks   *renderstate.ChunkInfoStore
	tiles    *renderstate.TileInfoStore
	journal  *memJournal
	driver   *Driver
}

// newFixture uses 32 block tiles (2x2 chunks) and bounds covering tiles
// 0..3 on both axes with a margin that makes the outer ring Edge.
func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := Config{
		Grid:    TileGrid{Size: 32},
		Bounds:  renderstate.BoundsPolicy{Bounds: renderstate.Rect{MinX: 0, MinZ: 0, MaxX: 127, MaxZ: 127}, EdgeMargin: 8},
		Workers: 4,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		world:    newFakeWorld(-4, -4, 11, 11),
		renderer: newFakeRenderer(),
		chunks:   renderstate.NewChunkInfoStore(nil),
		tiles:    renderstate.NewTileInfoStore(nil, nil),
		journal:  &memJournal{},
	}
	tick := int64(0)
	var mu sync.Mutex
	d, err := NewDriver(cfg, f.world, f.chunks, f.tiles, f.renderer, WithJournal(f.journal), WithClock(func() int64 {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return tick
	}))
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	f.driver = d
	return f
}

func (f *fixture) run(t *testing.T, tiles [][2]int) Summary {
	t.Helper()
	sum, err := f.driver.Run(context.Background(), tiles)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sum
}

func square(min, max int) [][2]int {
	var out [][2]int
	for z := min; z <= max; z++ {
		for x := min; x <= max; x++ {
			out = append(out, [2]int{x, z})
		}
	}
	return out
}

func TestRun_IncrementalUpdate(t *testing.T) {
	f := newFixture(t, nil)
	tiles := square(-1, 4)

	sum := f.run(t, tiles)
	// tiles -1 and 4 on either axis lie outside; 0 and 3 touch the margin
	if sum.Tiles != 36 || sum.Rendered != 16 || sum.Deleted != 20 {
		t.Fatalf("first run: %s", sum)
	}
	if got := f.tiles.Get(1, 1).State; got != renderstate.Rendered {
		t.Fatalf("tile 1,1 state %s", got)
	}
	if got := f.tiles.Get(0, 2).State; got != renderstate.RenderedEdge {
		t.Fatalf("tile 0,2 state %s", got)
	}
	if got := f.tiles.Get(-1, 2).State; got != renderstate.OutOfBounds {
		t.Fatalf("tile -1,2 state %s", got)
	}
	if got := f.chunks.Hash(3, 5); got != f.world.Chunk(3, 5).Hash() {
		t.Fatalf("hash not recorded: %d", got)
	}

	f.renderer.reset()
	sum = f.run(t, tiles)
	if sum.Skipped != 36 || len(f.renderer.rendered) != 0 || len(f.renderer.deleted) != 0 {
		t.Fatalf("second run should do nothing: %s", sum)
	}

	// chunk 3,5 belongs to tile 1,2
	f.world.set(3, 5, &fakeChunk{hash: 42, inhabited: 100})
	f.renderer.reset()
	sum = f.run(t, tiles)
	if sum.Rendered != 1 || f.renderer.rendered[[2]int{1, 2}] != 1 {
		t.Fatalf("expected only tile 1,2 to render: %s %v", sum, f.renderer.rendered)
	}
	if f.tiles.LastRenderTime() == 0 {
		t.Fatalf("render time not tracked")
	}
}

func TestRun_Force(t *testing.T) {
	f := newFixture(t, nil)
	f.run(t, square(1, 2))
	f.driver.cfg.Force = true
	f.renderer.reset()
	sum := f.run(t, square(1, 2))
	if sum.Rendered != 4 {
		t.Fatalf("force should re-render every tile: %s", sum)
	}
}

func TestRun_PrecheckStates(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RequireLight = true
		c.MinInhabitedTime = 50
		c.Bounds = renderstate.BoundsPolicy{Unbounded: true}
	})
	f.world.set(2, 2, &fakeChunk{hash: 1, errored: true})
	f.world.set(4, 2, &fakeChunk{hash: 2, ungen: true, inhabited: 100})
	f.world.set(6, 2, &fakeChunk{hash: 3, unlit: true, inhabited: 100})
	for _, k := range [][2]int{{8, 2}, {9, 2}, {8, 3}, {9, 3}} {
		f.world.set(k[0], k[1], &fakeChunk{hash: 4, inhabited: 10})
	}

	f.run(t, [][2]int{{1, 1}, {2, 1}, {3, 1}, {4, 1}, {20, 20}})
	want := map[[2]int]renderstate.TileState{
		{1, 1}: renderstate.ChunkError,
		{2, 1}: renderstate.NotGenerated,
		{3, 1}: renderstate.MissingLight,
		{4, 1}: renderstate.LowInhabitedTime,
		// empty chunks hash to 0, the never-hashed value, so nothing changed
		{20, 20}: renderstate.Unknown,
	}
	for k, s := range want {
		if got := f.tiles.Get(k[0], k[1]).State; got != s {
			t.Fatalf("tile %v state %s want %s", k, got, s)
		}
	}
	if len(f.renderer.rendered) != 0 {
		t.Fatalf("nothing should render: %v", f.renderer.rendered)
	}

	// fixing the light lets the tile render once its chunks change
	f.world.set(6, 2, &fakeChunk{hash: 30, inhabited: 100})
	f.run(t, [][2]int{{3, 1}})
	if got := f.tiles.Get(3, 1).State; got != renderstate.Rendered {
		t.Fatalf("tile 3,1 state %s", got)
	}
}

func TestRun_RenderErrorRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.renderer.fail[[2]int{1, 1}] = true
	sum := f.run(t, [][2]int{{1, 1}})
	if sum.Failed != 1 || f.tiles.Get(1, 1).State != renderstate.RenderError {
		t.Fatalf("expected render error: %s state=%s", sum, f.tiles.Get(1, 1).State)
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].Error == "" || f.journal.entries[0].ToKey != "voxelmap:render_error" {
		t.Fatalf("journal %+v", f.journal.entries)
	}

	delete(f.renderer.fail, [2]int{1, 1})
	sum = f.run(t, [][2]int{{1, 1}})
	if sum.Rendered != 1 || f.tiles.Get(1, 1).State != renderstate.Rendered {
		t.Fatalf("unchanged tile in error state should retry: %s", sum)
	}
}

func TestRun_CancelledKeepsHashes(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.driver.Run(ctx, square(0, 3)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := f.chunks.Hash(2, 2); got != 0 {
		t.Fatalf("hash written for unprocessed tile: %d", got)
	}
}

func TestTileGrid(t *testing.T) {
	g := TileGrid{Size: 32, OffsetX: 8}
	if tx, tz := g.TileOf(7, -1); tx != -1 || tz != -1 {
		t.Fatalf("TileOf(7,-1) = %d,%d", tx, tz)
	}
	if r := g.Blocks(-1, 0); r != (renderstate.Rect{MinX: -24, MinZ: 0, MaxX: 7, MaxZ: 31}) {
		t.Fatalf("Blocks = %s", r)
	}
	n := 0
	g.Chunks(0, 0, func(cx, cz int) { n++ })
	if n != 6 {
		t.Fatalf("offset tile should overlap 3x2 chunks, got %d", n)
	}
	tiles := TileGrid{Size: 512}.TilesForRegions([][2]int{{0, 0}, {-1, 0}, {0, 0}})
	if len(tiles) != 2 || tiles[0] != [2]int{-1, 0} || tiles[1] != [2]int{0, 0} {
		t.Fatalf("TilesForRegions = %v", tiles)
	}
	if err := (TileGrid{Size: 20}).Validate(); err == nil {
		t.Fatalf("expected error for size 20")
	}
}
