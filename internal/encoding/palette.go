package encoding

import (
	"errors"
	"fmt"
)

// MaxPaletteSize is the number of distinct values a single-byte index can address.
const MaxPaletteSize = 256

var (
	ErrCapacityExceeded = errors.New("palette capacity exceeded")
	ErrCorruptData      = errors.New("corrupt palette data")
)

// EncodePalette splits values into a palette (first-seen order, no duplicates)
// and one byte index per value.
func EncodePalette[T comparable](values []T) ([]T, []byte, error) {
	lookup := make(map[T]byte, 16)
	palette := make([]T, 0, 16)
	indices := make([]byte, len(values))

	for i, v := range values {
		idx, ok := lookup[v]
		if !ok {
			if len(palette) == MaxPaletteSize {
				return nil, nil, fmt.Errorf("%w: more than %d distinct values", ErrCapacityExceeded, MaxPaletteSize)
			}
			idx = byte(len(palette))
			lookup[v] = idx
			palette = append(palette, v)
		}
		indices[i] = idx
	}
	return palette, indices, nil
}

// DecodePalette expands indices against palette. Out-of-range indices are an
// error, never clamped.
func DecodePalette[T any](palette []T, indices []byte) ([]T, error) {
	if len(indices) == 0 {
		return []T{}, nil
	}
	if len(palette) == 0 {
		return nil, fmt.Errorf("%w: empty palette for %d indices", ErrCorruptData, len(indices))
	}
	out := make([]T, len(indices))
	for i, idx := range indices {
		if int(idx) >= len(palette) {
			return nil, fmt.Errorf("%w: index %d at %d out of range (palette size %d)", ErrCorruptData, idx, i, len(palette))
		}
		out[i] = palette[idx]
	}
	return out, nil
}
