package world

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	Overworld = "minecraft:overworld"
	Nether    = "minecraft:the_nether"
	End       = "minecraft:the_end"
)

// DimensionType describes the vertical extent and sky of a dimension.
type DimensionType struct {
	Key         string
	Natural     bool
	HasSkylight bool
	HasCeiling  bool
	MinY        int
	Height      int
}

func (d DimensionType) MaxY() int { return d.MinY + d.Height - 1 }

var builtinDimensionTypes = map[string]DimensionType{
	"minecraft:overworld":       {Key: "minecraft:overworld", Natural: true, HasSkylight: true, MinY: -64, Height: 384},
	"minecraft:overworld_caves": {Key: "minecraft:overworld_caves", Natural: true, HasSkylight: true, HasCeiling: true, MinY: -64, Height: 384},
	"minecraft:the_nether":      {Key: "minecraft:the_nether", HasCeiling: true, MinY: 0, Height: 256},
	"minecraft:the_end":         {Key: "minecraft:the_end", MinY: 0, Height: 256},
}

// fallbackDimensionType is used for dimensions whose type cannot be resolved.
var fallbackDimensionType = builtinDimensionTypes[Overworld]

// BuiltinDimensionType looks up one of the vanilla dimension types.
func BuiltinDimensionType(key string) (DimensionType, bool) {
	d, ok := builtinDimensionTypes[NormalizeKey(key)]
	return d, ok
}

// NormalizeKey adds the minecraft namespace to bare keys.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, ":") {
		return key
	}
	return "minecraft:" + key
}

// DimensionFolder resolves the save sub-directory that holds a dimension.
func DimensionFolder(root, key string) (string, error) {
	key = NormalizeKey(key)
	switch key {
	case Overworld:
		return root, nil
	case Nether:
		return filepath.Join(root, "DIM-1"), nil
	case End:
		return filepath.Join(root, "DIM1"), nil
	}
	ns, path, ok := strings.Cut(key, ":")
	if !ok || ns == "" || path == "" || strings.Contains(path, "..") || strings.ContainsAny(ns, `/\.`) {
		return "", fmt.Errorf("invalid dimension key %q", key)
	}
	return filepath.Join(root, "dimensions", ns, filepath.FromSlash(path)), nil
}
