// Package mapstore opens the grids one map keeps: rendered tiles, chunk
// change hashes and tile render state.
package mapstore

import (
	"fmt"
	"io"
	"log"
	"path/filepath"

	"voxelmap.ai/internal/config"
	"voxelmap.ai/internal/storage"
	"voxelmap.ai/internal/storage/filestore"
	"voxelmap.ai/internal/storage/sqlitestore"
)

const (
	GridTiles     = "tiles"
	GridChunkInfo = "chunk-info"
	GridTileInfo  = "tile-info"
)

type Stores struct {
	Tiles     storage.GridStorage
	ChunkInfo storage.GridStorage
	TileInfo  storage.GridStorage
	// Settings holds the configuration the map was last rendered with.
	Settings storage.ItemStorage

	closer io.Closer
}

func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func Open(cfg config.StorageConfig, logger *log.Logger) (*Stores, error) {
	comp, err := storage.CompressionByID(cfg.Compression)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case "memory":
		return &Stores{
			Tiles:     storage.NewMemory(comp),
			ChunkInfo: storage.NewMemory(comp),
			TileInfo:  storage.NewMemory(comp),
			Settings:  storage.NewMemoryItem(comp),
		}, nil
	case "sqlite":
		db, err := sqlitestore.Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Tiles:     db.Grid(GridTiles, comp),
			ChunkInfo: db.Grid(GridChunkInfo, comp),
			TileInfo:  db.Grid(GridTileInfo, comp),
			Settings:  db.Item("settings.json", storage.None),
			closer:    db,
		}, nil
	case "file", "":
		out := &Stores{}
		for _, g := range []struct {
			name string
			dst  *storage.GridStorage
		}{
			{GridTiles, &out.Tiles},
			{GridChunkInfo, &out.ChunkInfo},
			{GridTileInfo, &out.TileInfo},
		} {
			s, err := filestore.New(filepath.Join(cfg.Path, g.name), comp, logger)
			if err != nil {
				return nil, err
			}
			*g.dst = s
		}
		out.Settings = filestore.NewItem(filepath.Join(cfg.Path, "settings.json"), storage.None)
		return out, nil
	}
	return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
}
