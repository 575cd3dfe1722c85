// Package update decides which map tiles are stale and drives an external
// renderer over them.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/world/mca"
)

// World is the chunk access the driver needs. *world.World implements it.
type World interface {
	Chunk(x, z int) mca.Chunk
}

// Renderer produces and removes tile output. It is called concurrently for
// different tiles.
type Renderer interface {
	RenderTile(ctx context.Context, w World, grid TileGrid, tx, tz int) error
	DeleteTile(ctx context.Context, tx, tz int) error
}

// Journal receives one Decision per processed tile.
type Journal interface {
	Write(v any) error
}

type Config struct {
	Grid             TileGrid
	Bounds           renderstate.BoundsPolicy
	Workers          int
	MinInhabitedTime int64
	RequireLight     bool
	// Force treats every tile as changed.
	Force bool
}

// Decision is the outcome for one tile.
type Decision struct {
	TileX   int                   `json:"tile_x"`
	TileZ   int                   `json:"tile_z"`
	Changed bool                  `json:"changed"`
	Bounds  string                `json:"bounds"`
	Action  string                `json:"action"`
	From    renderstate.TileState `json:"-"`
	To      renderstate.TileState `json:"-"`
	FromKey string                `json:"from"`
	ToKey   string                `json:"to"`
	Error   string                `json:"error,omitempty"`
	Time    int64                 `json:"time"`
}

type Summary struct {
	Tiles    int
	Rendered int
	Deleted  int
	Skipped  int
	Failed   int
	States   map[renderstate.TileState]int
}

type Driver struct {
	cfg      Config
	world    World
	chunks   *renderstate.ChunkInfoStore
	tiles    *renderstate.TileInfoStore
	renderer Renderer
	journal  Journal
	logger   *log.Logger
	now      func() int64
}

type Option func(*Driver)

func WithJournal(j Journal) Option { return func(d *Driver) { d.journal = j } }

func WithLogger(l *log.Logger) Option { return func(d *Driver) { d.logger = l } }

// WithClock sets the source of render timestamps.
func WithClock(now func() int64) Option { return func(d *Driver) { d.now = now } }

func NewDriver(cfg Config, w World, chunks *renderstate.ChunkInfoStore, tiles *renderstate.TileInfoStore, r Renderer, opts ...Option) (*Driver, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if w == nil || chunks == nil || tiles == nil || r == nil {
		return nil, errors.New("update: world, stores and renderer are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	d := &Driver{
		cfg:      cfg,
		world:    w,
		chunks:   chunks,
		tiles:    tiles,
		renderer: r,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard, "", 0)
	}
	return d, nil
}

type chunkHash struct {
	fresh   uint64
	changed bool
	// pending counts tiles of this run covering the chunk that are not done yet.
	pending int
}

// Run processes the given tiles. Chunk hashes are compared first, then tiles
// are decided and rendered in parallel, and finally the fresh hashes of every
// chunk whose covering tiles all finished are written to the chunk-info store.
// Cancelling ctx stops issuing tiles; tiles already started complete.
func (d *Driver) Run(ctx context.Context, tiles [][2]int) (Summary, error) {
	hashes, err := d.hashChunks(ctx, tiles)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu  sync.Mutex
		sum = Summary{States: map[renderstate.TileState]int{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, t := range tiles {
		if gctx.Err() != nil {
			break
		}
		tx, tz := t[0], t[1]
		g.Go(func() error {
			dec, err := d.processTile(gctx, tx, tz, hashes)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			sum.Tiles++
			sum.States[dec.To]++
			switch {
			case dec.Error != "":
				sum.Failed++
			case dec.Action == renderstate.ActionRender.String():
				sum.Rendered++
			case dec.Action == renderstate.ActionDelete.String():
				sum.Deleted++
			default:
				sum.Skipped++
			}
			d.grid(tx, tz, func(k [2]int) {
				h := hashes[k]
				h.pending--
				if h.pending == 0 {
					d.chunks.SetHash(k[0], k[1], h.fresh)
				}
			})
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return sum, err
}

func (d *Driver) grid(tx, tz int, fn func(k [2]int)) {
	d.cfg.Grid.Chunks(tx, tz, func(cx, cz int) { fn([2]int{cx, cz}) })
}

// hashChunks loads every chunk covered by tiles once, in parallel.
func (d *Driver) hashChunks(ctx context.Context, tiles [][2]int) (map[[2]int]*chunkHash, error) {
	hashes := map[[2]int]*chunkHash{}
	var order [][2]int
	for _, t := range tiles {
		d.grid(t[0], t[1], func(k [2]int) {
			h, ok := hashes[k]
			if !ok {
				h = &chunkHash{}
				hashes[k] = h
				order = append(order, k)
			}
			h.pending++
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, k := range order {
		if gctx.Err() != nil {
			break
		}
		h := hashes[k]
		cx, cz := k[0], k[1]
		g.Go(func() error {
			h.fresh = d.world.Chunk(cx, cz).Hash()
			h.changed = h.fresh != d.chunks.Hash(cx, cz)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashes, ctx.Err()
}

func (d *Driver) processTile(ctx context.Context, tx, tz int, hashes map[[2]int]*chunkHash) (Decision, error) {
	changed := d.cfg.Force
	if !changed {
		d.grid(tx, tz, func(k [2]int) {
			if hashes[k].changed {
				changed = true
			}
		})
	}
	bounds := d.cfg.Bounds.Classify(d.cfg.Grid.Blocks(tx, tz))
	prev := d.tiles.Get(tx, tz)
	action, next := prev.State.Transition(changed, bounds)

	dec := Decision{
		TileX:   tx,
		TileZ:   tz,
		Changed: changed,
		Bounds:  bounds.String(),
		Action:  action.String(),
		From:    prev.State,
		To:      next,
	}
	info := renderstate.TileInfo{RenderTime: prev.RenderTime, State: next}

	switch action {
	case renderstate.ActionRender:
		if state, ok := d.precheck(tx, tz); !ok {
			info.State = state
			dec.To = state
			dec.Action = renderstate.ActionNone.String()
			break
		}
		if err := d.renderer.RenderTile(ctx, d.world, d.cfg.Grid, tx, tz); err != nil {
			if ctx.Err() != nil {
				return dec, ctx.Err()
			}
			d.logger.Printf("warn: render tile %d,%d: %v", tx, tz, err)
			info.State = renderstate.RenderError
			dec.To = renderstate.RenderError
			dec.Error = err.Error()
			break
		}
		info.RenderTime = d.now()
	case renderstate.ActionDelete:
		if err := d.renderer.DeleteTile(ctx, tx, tz); err != nil {
			if ctx.Err() != nil {
				return dec, ctx.Err()
			}
			d.logger.Printf("warn: delete tile %d,%d: %v", tx, tz, err)
			info.State = prev.State
			dec.To = prev.State
			dec.Error = err.Error()
		}
	}

	if info != prev {
		d.tiles.Set(tx, tz, info)
	}
	dec.Time = info.RenderTime
	dec.FromKey = dec.From.Key()
	dec.ToKey = dec.To.Key()
	if d.journal != nil {
		if err := d.journal.Write(dec); err != nil {
			d.logger.Printf("warn: journal tile %d,%d: %v", tx, tz, err)
		}
	}
	return dec, nil
}

// precheck reports the state a tile takes when its chunks cannot be rendered.
func (d *Driver) precheck(tx, tz int) (renderstate.TileState, bool) {
	var (
		present   bool
		errored   bool
		ungen     bool
		unlit     bool
		inhabited int64
	)
	d.cfg.Grid.Chunks(tx, tz, func(cx, cz int) {
		c := d.world.Chunk(cx, cz)
		switch {
		case c.IsErrored():
			errored = true
			return
		case c.IsEmpty():
			return
		}
		present = true
		if !c.IsGenerated() {
			ungen = true
		}
		if !c.HasLightData() {
			unlit = true
		}
		if c.InhabitedTime() > inhabited {
			inhabited = c.InhabitedTime()
		}
	})
	switch {
	case errored:
		return renderstate.ChunkError, false
	case !present || ungen:
		return renderstate.NotGenerated, false
	case d.cfg.RequireLight && unlit:
		return renderstate.MissingLight, false
	case inhabited < d.cfg.MinInhabitedTime:
		return renderstate.LowInhabitedTime, false
	}
	return 0, true
}

func (s Summary) String() string {
	return fmt.Sprintf("tiles=%d rendered=%d deleted=%d skipped=%d failed=%d", s.Tiles, s.Rendered, s.Deleted, s.Skipped, s.Failed)
}
