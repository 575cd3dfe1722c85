package renderstate

import (
	"fmt"
	"log"
	"sync"

	"github.com/Tnze/go-mc/nbt"

	"voxelmap.ai/internal/encoding"
	"voxelmap.ai/internal/storage"
)

// TileInfo is the persisted state of one tile. The zero value is (0, Unknown).
type TileInfo struct {
	RenderTime int64
	State      TileState
}

type tileInfoNBT struct {
	RenderTimes []int64 `nbt:"last-render-times"`
	TileStates  struct {
		Palette []string `nbt:"palette"`
		Data    []byte   `nbt:"data"`
	} `nbt:"tile-states"`
}

type tileInfoCodec struct {
	states *StateRegistry
}

func (c tileInfoCodec) Encode(cells *[regionCells]TileInfo) ([]byte, error) {
	var d tileInfoNBT
	d.RenderTimes = make([]int64, regionCells)
	keys := make([]string, regionCells)
	for i, ti := range cells {
		d.RenderTimes[i] = ti.RenderTime
		keys[i] = ti.State.Key()
	}
	palette, idx, err := encoding.EncodePalette(keys)
	if err != nil {
		return nil, err
	}
	d.TileStates.Palette = palette
	d.TileStates.Data = idx
	return nbt.Marshal(d)
}

func (c tileInfoCodec) Decode(data []byte, cells *[regionCells]TileInfo) error {
	var d tileInfoNBT
	if err := nbt.Unmarshal(data, &d); err != nil {
		return err
	}
	if len(d.RenderTimes) != regionCells {
		return fmt.Errorf("last-render-times: %d entries, want %d", len(d.RenderTimes), regionCells)
	}
	keys, err := encoding.DecodePalette(d.TileStates.Palette, d.TileStates.Data)
	if err != nil {
		return fmt.Errorf("tile-states: %w", err)
	}
	if len(keys) != regionCells {
		return fmt.Errorf("tile-states: %d entries, want %d", len(keys), regionCells)
	}
	for i := range cells {
		cells[i] = TileInfo{RenderTime: d.RenderTimes[i], State: c.states.Resolve(keys[i])}
	}
	return nil
}

// TileInfoStore tracks the render state of every tile of one map and the
// newest render time written so far.
type TileInfoStore struct {
	cells *CellStore[TileInfo]

	mu         sync.Mutex
	lastRender int64
}

func NewTileInfoStore(states *StateRegistry, logger *log.Logger) *TileInfoStore {
	if states == nil {
		states = NewStateRegistry()
	}
	return &TileInfoStore{cells: NewCellStore[TileInfo](tileInfoCodec{states: states}, TileInfo{}, logger)}
}

func (s *TileInfoStore) Get(x, z int) TileInfo { return s.cells.Get(x, z) }

// Set stores info and returns the previous value.
func (s *TileInfoStore) Set(x, z int, info TileInfo) TileInfo {
	prev := s.cells.Set(x, z, info)
	s.observe(info.RenderTime)
	return prev
}

func (s *TileInfoStore) observe(t int64) {
	s.mu.Lock()
	if t > s.lastRender {
		s.lastRender = t
	}
	s.mu.Unlock()
}

// LastRenderTime is the largest render time observed since the last Reset.
func (s *TileInfoStore) LastRenderTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRender
}

// RenderedSince reports whether any tile was rendered after t.
func (s *TileInfoStore) RenderedSince(t int64) bool { return s.LastRenderTime() > t }

func (s *TileInfoStore) Reset() {
	s.mu.Lock()
	s.lastRender = 0
	s.mu.Unlock()
}

func (s *TileInfoStore) Regions() [][2]int { return s.cells.RegionCoords() }

// Histogram counts tiles per state across all loaded regions.
func (s *TileInfoStore) Histogram() map[TileState]int {
	out := map[TileState]int{}
	for _, rc := range s.cells.RegionCoords() {
		s.cells.Cell(rc[0], rc[1]).Cells(func(_, _ int, ti TileInfo) {
			out[ti.State]++
		})
	}
	return out
}

func (s *TileInfoStore) Persist(target storage.GridStorage) error { return s.cells.Persist(target) }

// Load reads all stored regions and raises the last render time to the
// newest one found.
func (s *TileInfoStore) Load(source storage.GridStorage) error {
	if err := s.cells.Load(source); err != nil {
		return err
	}
	for _, rc := range s.cells.RegionCoords() {
		s.cells.Cell(rc[0], rc[1]).Cells(func(_, _ int, ti TileInfo) {
			s.observe(ti.RenderTime)
		})
	}
	return nil
}
