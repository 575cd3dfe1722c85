package world

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/gzip"
)

// LevelData is the subset of level.dat needed to open a world.
type LevelData struct {
	Name        string
	DataVersion int
	Spawn       [3]int
	// Dimensions maps dimension keys to their resolved types.
	Dimensions map[string]DimensionType
}

func (l LevelData) DimensionKeys() []string {
	keys := make([]string, 0, len(l.Dimensions))
	for k := range l.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type levelNBT struct {
	Data struct {
		LevelName        string `nbt:"LevelName"`
		DataVersion      int32  `nbt:"DataVersion"`
		SpawnX           int32  `nbt:"SpawnX"`
		SpawnY           int32  `nbt:"SpawnY"`
		SpawnZ           int32  `nbt:"SpawnZ"`
		WorldGenSettings struct {
			Dimensions map[string]dimensionNBT `nbt:"dimensions"`
		} `nbt:"WorldGenSettings"`
	} `nbt:"Data"`
}

type dimensionNBT struct {
	Type nbt.RawMessage `nbt:"type"`
}

type dimensionTypeNBT struct {
	Natural     int8  `nbt:"natural"`
	HasSkylight int8  `nbt:"has_skylight"`
	HasCeiling  int8  `nbt:"has_ceiling"`
	MinY        int32 `nbt:"min_y"`
	Height      int32 `nbt:"height"`
}

// ReadLevel reads a gzip compressed level.dat. A missing or unreadable file is
// an error; unresolvable dimension types fall back to the overworld type.
func ReadLevel(path string, logger *log.Logger) (LevelData, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	f, err := os.Open(path)
	if err != nil {
		return LevelData{}, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return LevelData{}, fmt.Errorf("level.dat: %w", err)
	}
	defer zr.Close()

	var d levelNBT
	if _, err := nbt.NewDecoder(zr).Decode(&d); err != nil {
		return LevelData{}, fmt.Errorf("level.dat: %w", err)
	}
	out := LevelData{
		Name:        d.Data.LevelName,
		DataVersion: int(d.Data.DataVersion),
		Spawn:       [3]int{int(d.Data.SpawnX), int(d.Data.SpawnY), int(d.Data.SpawnZ)},
		Dimensions:  map[string]DimensionType{},
	}
	for key, dim := range d.Data.WorldGenSettings.Dimensions {
		out.Dimensions[NormalizeKey(key)] = resolveDimensionType(key, dim.Type, logger)
	}
	return out, nil
}

func resolveDimensionType(dimKey string, raw nbt.RawMessage, logger *log.Logger) DimensionType {
	var typeKey string
	if err := raw.Unmarshal(&typeKey); err == nil && typeKey != "" {
		if t, ok := BuiltinDimensionType(typeKey); ok {
			return t
		}
		logger.Printf("warn: dimension %s has unknown type %s, using %s", dimKey, typeKey, fallbackDimensionType.Key)
		return fallbackDimensionType
	}
	var inline dimensionTypeNBT
	if err := raw.Unmarshal(&inline); err == nil && inline.Height > 0 {
		return DimensionType{
			Key:         NormalizeKey(dimKey),
			Natural:     inline.Natural != 0,
			HasSkylight: inline.HasSkylight != 0,
			HasCeiling:  inline.HasCeiling != 0,
			MinY:        int(inline.MinY),
			Height:      int(inline.Height),
		}
	}
	logger.Printf("warn: dimension %s has an unreadable type, using %s", dimKey, fallbackDimensionType.Key)
	return fallbackDimensionType
}
