package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"voxelmap.ai/internal/config"
	"voxelmap.ai/internal/debug/statedump"
	"voxelmap.ai/internal/mapstore"
	"voxelmap.ai/internal/persistence/journal"
	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/world"
	"voxelmap.ai/internal/world/mca"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "tiles":
			tilesCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "regions":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}
	regionsCmd(os.Args[1:])
}

func openWorld(fs *flag.FlagSet, args []string) *world.World {
	root := fs.String("world", "./world", "world save directory")
	dim := fs.String("dimension", world.Overworld, "dimension key")
	_ = fs.Parse(args)
	w, err := world.Open(*root, world.Options{Dimension: *dim})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open world:", err)
		os.Exit(1)
	}
	return w
}

func regionsCmd(args []string) {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	summary := fs.Bool("summary", false, "print a JSON world summary instead of the region list")
	w := openWorld(fs, args)
	defer w.Close()

	if *summary {
		if err := statedump.WriteWorld(os.Stdout, w); err != nil {
			fmt.Fprintln(os.Stderr, "dump:", err)
			os.Exit(1)
		}
		return
	}
	entries, err := w.ListRegions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%d\t%d\t%s\n", e.Type.ID, e.X, e.Z, e.Path)
	}
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	entities := fs.Bool("entities", false, "also list entities of the chunk")
	w := openWorld(fs, args)
	defer w.Close()
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: admin chunk [-world DIR] [-dimension KEY] [-entities] CX CZ")
		os.Exit(2)
	}
	cx, errX := strconv.Atoi(fs.Arg(0))
	cz, errZ := strconv.Atoi(fs.Arg(1))
	if errX != nil || errZ != nil {
		fmt.Fprintln(os.Stderr, "chunk coordinates must be integers")
		os.Exit(2)
	}
	if err := statedump.WriteChunk(os.Stdout, w.BlockChunk(cx, cz)); err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
	if !*entities {
		return
	}
	ec := w.EntityChunk(cx, cz)
	_ = ec.IterateEntities(func(e mca.Entity) error {
		printJSON(map[string]any{
			"id":          e.ID,
			"uuid":        e.UUID.String(),
			"pos":         e.Pos,
			"custom_name": e.CustomName,
		})
		return nil
	})
}

func tilesCmd(args []string) {
	fs := flag.NewFlagSet("tiles", flag.ExitOnError)
	configPath := fs.String("config", "./configs/mapupdate.yaml", "config path")
	storePath := fs.String("storage", "", "map storage path (overrides config)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if *storePath != "" {
		cfg.Storage.Path = *storePath
	}
	stores, err := mapstore.Open(cfg.Storage, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open storage:", err)
		os.Exit(1)
	}
	defer stores.Close()

	tiles := renderstate.NewTileInfoStore(renderstate.NewStateRegistry(), nil)
	if err := tiles.Load(stores.TileInfo); err != nil {
		fmt.Fprintln(os.Stderr, "load tile info:", err)
		os.Exit(1)
	}
	if fs.NArg() == 2 {
		tx, errX := strconv.Atoi(fs.Arg(0))
		tz, errZ := strconv.Atoi(fs.Arg(1))
		if errX != nil || errZ != nil {
			fmt.Fprintln(os.Stderr, "tile coordinates must be integers")
			os.Exit(2)
		}
		ti := tiles.Get(tx, tz)
		printJSON(map[string]any{"x": tx, "z": tz, "state": ti.State.Key(), "render_time": ti.RenderTime})
		return
	}
	if err := statedump.WriteTileStates(os.Stdout, tiles); err != nil {
		fmt.Fprintln(os.Stderr, "dump:", err)
		os.Exit(1)
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dir := fs.String("dir", "./map/journal", "journal directory")
	state := fs.String("state", "", "only print decisions leading to this state key")
	_ = fs.Parse(args)

	files, err := journal.Files(*dir, "tiles")
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	want := strings.TrimSpace(*state)
	for _, f := range files {
		err := journal.ReadFile(f, func(line json.RawMessage) error {
			if want != "" {
				var d struct {
					To string `json:"to"`
				}
				if err := json.Unmarshal(line, &d); err != nil || d.To != want {
					return nil
				}
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, f+":", err)
			os.Exit(1)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
