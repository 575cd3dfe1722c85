// Package statedump writes JSON views of world and render state for
// inspection. Every type is mapped by hand.
package statedump

import (
	"encoding/json"
	"fmt"
	"io"

	"voxelmap.ai/internal/renderstate"
	"voxelmap.ai/internal/world"
	"voxelmap.ai/internal/world/mca"
)

// World is the part of *world.World the dump reads.
type World interface {
	ID() string
	Name() string
	DimensionKey() string
	DimensionType() world.DimensionType
	Spawn() [3]int
	ListRegions() ([]mca.RegionEntry, error)
	CachedChunks() (chunks, entities int)
}

func writeJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = out.Write(b)
	return err
}

func WorldSummary(w World) (map[string]any, error) {
	regions, err := w.ListRegions()
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	byFormat := map[string]int{}
	list := make([]any, 0, len(regions))
	for _, r := range regions {
		byFormat[r.Type.ID]++
		list = append(list, map[string]any{"format": r.Type.ID, "x": r.X, "z": r.Z})
	}
	dt := w.DimensionType()
	chunks, entities := w.CachedChunks()
	return map[string]any{
		"id":        w.ID(),
		"name":      w.Name(),
		"dimension": w.DimensionKey(),
		"dimension_type": map[string]any{
			"key":          dt.Key,
			"natural":      dt.Natural,
			"has_skylight": dt.HasSkylight,
			"has_ceiling":  dt.HasCeiling,
			"min_y":        dt.MinY,
			"height":       dt.Height,
		},
		"spawn":             []int{w.Spawn()[0], w.Spawn()[1], w.Spawn()[2]},
		"regions":           list,
		"regions_by_format": byFormat,
		"cached": map[string]any{
			"chunks":   chunks,
			"entities": entities,
		},
	}, nil
}

func WriteWorld(out io.Writer, w World) error {
	v, err := WorldSummary(w)
	if err != nil {
		return err
	}
	return writeJSON(out, v)
}

// TileStates summarizes a tile store: per region counts of every state that
// occurs, plus totals.
func TileStates(s *renderstate.TileInfoStore) map[string]any {
	totals := map[string]any{}
	for st, n := range s.Histogram() {
		totals[st.Key()] = n
	}
	return map[string]any{
		"last_render_time": s.LastRenderTime(),
		"regions":          len(s.Regions()),
		"states":           totals,
	}
}

func WriteTileStates(out io.Writer, s *renderstate.TileInfoStore) error {
	return writeJSON(out, TileStates(s))
}

func Chunk(c *mca.BlockChunk) map[string]any {
	x, z := c.Position()
	kind := "loaded"
	switch {
	case c.IsEmpty():
		kind = "empty"
	case c.IsErrored():
		kind = "errored"
	}
	var entities []any
	_ = c.IterateBlockEntities(func(be mca.BlockEntity) error {
		e := map[string]any{"id": be.ID, "pos": []int{be.X, be.Y, be.Z}}
		if be.CustomName != "" {
			e["custom_name"] = be.CustomName
		}
		entities = append(entities, e)
		return nil
	})
	if entities == nil {
		entities = []any{}
	}
	return map[string]any{
		"x":              x,
		"z":              z,
		"kind":           kind,
		"data_version":   c.DataVersion(),
		"status":         c.Status(),
		"generated":      c.IsGenerated(),
		"light":          c.HasLightData(),
		"inhabited_time": c.InhabitedTime(),
		"min_y":          c.MinY(0, 0),
		"max_y":          c.MaxY(0, 0),
		"sections":       c.SectionCount(),
		"hash":           fmt.Sprintf("%016x", c.Hash()),
		"block_entities": entities,
	}
}

func WriteChunk(out io.Writer, c *mca.BlockChunk) error {
	return writeJSON(out, Chunk(c))
}
