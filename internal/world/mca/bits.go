package mca

import (
	"fmt"
	"math/bits"

	"github.com/Tnze/go-mc/level"
)

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// indexArray reads packed palette indices and heights.
type indexArray interface {
	Get(i int) int
}

var noIndices indexArray = level.NewBitStorage(0, 0, nil)

// longsFor is the number of longs holding n values of bitsPer bits when values
// never cross a long boundary (1.16+ layout).
func longsFor(bitsPer, n int) int {
	if bitsPer == 0 {
		return 0
	}
	per := 64 / bitsPer
	return (n + per - 1) / per
}

// newBitStorage wraps level.NewBitStorage, which panics when the data length
// does not match the width.
func newBitStorage(bitsPer, n int, data []uint64) (*level.BitStorage, error) {
	if need := longsFor(bitsPer, n); len(data) != need {
		return nil, fmt.Errorf("%w: %d longs for %d values of %d bits, need %d", ErrCorruptChunk, len(data), n, bitsPer, need)
	}
	return level.NewBitStorage(bitsPer, n, data), nil
}

// spanningArray reads the pre 1.16 layout, where the longs form one continuous
// bit stream and values may cross long boundaries. level.BitStorage only
// implements the later layout.
type spanningArray struct {
	data []uint64
	bits int
}

func newSpanningArray(bitsPer, n int, data []uint64) (spanningArray, error) {
	if need := (n*bitsPer + 63) / 64; len(data) < need {
		return spanningArray{}, fmt.Errorf("%w: %d longs for %d values of %d bits, need %d", ErrCorruptChunk, len(data), n, bitsPer, need)
	}
	return spanningArray{data: data, bits: bitsPer}, nil
}

func (p spanningArray) Get(i int) int {
	if p.bits == 0 {
		return 0
	}
	mask := uint64(1)<<p.bits - 1
	bit := i * p.bits
	li := bit >> 6
	off := bit & 63
	if li >= len(p.data) {
		return 0
	}
	v := p.data[li] >> off
	if off+p.bits > 64 && li+1 < len(p.data) {
		v |= p.data[li+1] << (64 - off)
	}
	return int(v & mask)
}

// nibble reads a 4 bit light value, index = y*256 + z*16 + x.
func nibble(arr []byte, i int) int {
	if i>>1 >= len(arr) {
		return 0
	}
	b := arr[i>>1]
	if i&1 == 0 {
		return int(b & 0xF)
	}
	return int(b >> 4 & 0xF)
}
