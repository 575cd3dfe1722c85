package mca

import "errors"

var (
	// ErrCorruptRegion reports a structurally invalid region container.
	ErrCorruptRegion = errors.New("corrupt region file")
	// ErrCorruptChunk reports a chunk payload that cannot be decompressed or parsed.
	ErrCorruptChunk = errors.New("corrupt chunk")
)

// IsCorrupt reports whether err marks corrupt data rather than an I/O failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptRegion) || errors.Is(err, ErrCorruptChunk)
}
