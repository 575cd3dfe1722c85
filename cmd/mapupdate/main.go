package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelmap.ai/internal/config"
	"voxelmap.ai/internal/debug/statedump"
	"voxelmap.ai/internal/mapstore"
	"voxelmap.ai/internal/persistence/journal"
	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/storage"
	"voxelmap.ai/internal/update"
	"voxelmap.ai/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/mapupdate.yaml", "config path (empty for defaults)")
		worldPath  = flag.String("world", "", "world save directory (overrides config)")
		dimension  = flag.String("dimension", "", "dimension key (overrides config)")
		storePath  = flag.String("storage", "", "map storage path (overrides config)")
		workers    = flag.Int("workers", 0, "render workers (overrides config)")
		force      = flag.Bool("force", false, "re-render every tile")
		regions    = flag.String("regions", "", "only update these regions: x,z;x,z")
		dumpState  = flag.Bool("dump_state", false, "print world and tile state summaries as JSON after the run")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mapupdate] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil && !(errors.Is(err, os.ErrNotExist) && *configPath == "./configs/mapupdate.yaml") {
		logger.Fatalf("load config: %v", err)
	}
	if *worldPath != "" {
		cfg.World = *worldPath
	}
	if *dimension != "" {
		cfg.Dimension = *dimension
	}
	if *storePath != "" {
		cfg.Storage.Path = *storePath
	}
	if *workers > 0 {
		cfg.Render.Workers = *workers
	}
	if *force {
		cfg.Render.Force = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	only, err := parseRegions(*regions)
	if err != nil {
		logger.Fatalf("bad -regions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, only, *dumpState, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config.Config, only [][2]int, dump bool, logger *log.Logger) error {
	w, err := world.Open(cfg.World, world.Options{
		Dimension:        cfg.Dimension,
		RegionCacheBytes: cfg.Cache.RegionCacheBytes,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer w.Close()
	logger.Printf("world %s (%s) dimension=%s", w.Name(), w.ID(), w.DimensionKey())

	stores, err := mapstore.Open(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	chunks := renderstate.NewChunkInfoStore(logger)
	tiles := renderstate.NewTileInfoStore(renderstate.NewStateRegistry(), logger)
	if err := chunks.Load(stores.ChunkInfo); err != nil {
		return fmt.Errorf("load chunk info: %w", err)
	}
	if err := tiles.Load(stores.TileInfo); err != nil {
		return fmt.Errorf("load tile info: %w", err)
	}

	settings := mapSettings{World: w.ID(), TileSize: cfg.Tiles.Size, OffsetX: cfg.Tiles.OffsetX, OffsetZ: cfg.Tiles.OffsetZ}
	prev, ok, err := readSettings(stores.Settings)
	if err != nil {
		logger.Printf("warn: read map settings: %v", err)
	}
	changed := ok && prev != settings
	if changed {
		logger.Printf("map settings changed (%+v -> %+v); forcing full render", prev, settings)
		cfg.Render.Force = true
	}

	grid := update.TileGrid{Size: cfg.Tiles.Size, OffsetX: cfg.Tiles.OffsetX, OffsetZ: cfg.Tiles.OffsetZ}
	bounds := renderstate.BoundsPolicy{Unbounded: !cfg.Bounds.Enabled}
	if cfg.Bounds.Enabled {
		bounds.Bounds = renderstate.Rect{MinX: cfg.Bounds.MinX, MinZ: cfg.Bounds.MinZ, MaxX: cfg.Bounds.MaxX, MaxZ: cfg.Bounds.MaxZ}
		bounds.EdgeMargin = cfg.Bounds.EdgeMargin
	}

	var opts []update.Option
	opts = append(opts, update.WithLogger(logger))
	if cfg.Journal.Dir != "" {
		j := journal.NewWriter(cfg.Journal.Dir, "tiles")
		defer func() {
			if err := j.Close(); err != nil {
				logger.Printf("warn: close journal: %v", err)
			}
		}()
		opts = append(opts, update.WithJournal(j))
	}

	driver, err := update.NewDriver(update.Config{
		Grid:             grid,
		Bounds:           bounds,
		Workers:          cfg.Render.Workers,
		MinInhabitedTime: cfg.Render.MinInhabitedTime,
		RequireLight:     cfg.Render.RequireLight,
		Force:            cfg.Render.Force,
	}, w, chunks, tiles, update.SurfaceRenderer{Store: stores.Tiles}, opts...)
	if err != nil {
		return err
	}

	coords := only
	if len(coords) == 0 {
		entries, err := w.ListRegions()
		if err != nil {
			return fmt.Errorf("list regions: %w", err)
		}
		for _, e := range entries {
			coords = append(coords, [2]int{e.X, e.Z})
		}
	}
	todo := grid.TilesForRegions(coords)
	logger.Printf("updating %d tiles from %d regions (workers=%d force=%v)", len(todo), len(coords), cfg.Render.Workers, cfg.Render.Force)

	start := time.Now()
	sum, runErr := driver.Run(ctx, todo)
	logger.Printf("update finished in %s: %s", time.Since(start).Round(time.Millisecond), sum)

	// Persist whatever was decided, also after cancellation.
	var errs []error
	if err := chunks.Persist(stores.ChunkInfo); err != nil {
		errs = append(errs, fmt.Errorf("persist chunk info: %w", err))
	}
	if err := tiles.Persist(stores.TileInfo); err != nil {
		errs = append(errs, fmt.Errorf("persist tile info: %w", err))
	}
	if commitSettings(changed, len(only) > 0, runErr) {
		if err := writeSettings(stores.Settings, settings); err != nil {
			errs = append(errs, fmt.Errorf("write map settings: %w", err))
		}
	} else if runErr == nil {
		logger.Printf("map settings changed but only %d regions were re-rendered; keeping old settings until a full run", len(only))
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		logger.Printf("update interrupted; progress saved")
	default:
		errs = append(errs, runErr)
	}

	if dump {
		if err := statedump.WriteWorld(os.Stdout, w); err != nil {
			errs = append(errs, err)
		}
		if err := statedump.WriteTileStates(os.Stdout, tiles); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commitSettings reports whether the current settings may replace the stored
// ones. A settings change forces every tile, so it is only recorded once a
// full-world run has completed.
func commitSettings(changed, partial bool, runErr error) bool {
	if runErr != nil {
		return false
	}
	return !changed || !partial
}

type mapSettings struct {
	World    string `json:"world"`
	TileSize int    `json:"tile_size"`
	OffsetX  int    `json:"offset_x"`
	OffsetZ  int    `json:"offset_z"`
}

func readSettings(it storage.ItemStorage) (mapSettings, bool, error) {
	cr, err := it.Read()
	if err != nil || cr == nil {
		return mapSettings{}, false, err
	}
	r, err := cr.Decompress()
	if err != nil {
		return mapSettings{}, false, err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return mapSettings{}, false, err
	}
	var s mapSettings
	if err := json.Unmarshal(b, &s); err != nil {
		return mapSettings{}, false, err
	}
	return s, true, nil
}

func writeSettings(it storage.ItemStorage, s mapSettings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	w, err := it.Write()
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		_ = storage.Abort(w)
		return err
	}
	return w.Close()
}

// parseRegions parses "x,z;x,z".
func parseRegions(s string) ([][2]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out [][2]int
	for _, part := range strings.Split(s, ";") {
		xz := strings.Split(strings.TrimSpace(part), ",")
		if len(xz) != 2 {
			return nil, fmt.Errorf("%q: want x,z", part)
		}
		x, err := strconv.Atoi(strings.TrimSpace(xz[0]))
		if err != nil {
			return nil, err
		}
		z, err := strconv.Atoi(strings.TrimSpace(xz[1]))
		if err != nil {
			return nil, err
		}
		out = append(out, [2]int{x, z})
	}
	return out, nil
}
