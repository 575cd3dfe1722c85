package renderstate

import "fmt"

// Rect is an inclusive block rectangle.
type Rect struct {
	MinX, MinZ, MaxX, MaxZ int
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d..%d,%d]", r.MinX, r.MinZ, r.MaxX, r.MaxZ)
}

// BoundsPolicy classifies tiles against the world bounds. A tile is Inside
// when it lies completely within the bounds shrunk by EdgeMargin on every
// side, Outside when it does not touch the bounds at all, Edge otherwise.
type BoundsPolicy struct {
	Bounds     Rect
	EdgeMargin int
	// Unbounded classifies every tile as Inside.
	Unbounded bool
}

func (p BoundsPolicy) Classify(tile Rect) BoundsSituation {
	if p.Unbounded {
		return Inside
	}
	b := p.Bounds
	if tile.MaxX < b.MinX || tile.MinX > b.MaxX || tile.MaxZ < b.MinZ || tile.MinZ > b.MaxZ {
		return Outside
	}
	m := p.EdgeMargin
	if tile.MinX >= b.MinX+m && tile.MaxX <= b.MaxX-m && tile.MinZ >= b.MinZ+m && tile.MaxZ <= b.MaxZ-m {
		return Inside
	}
	return Edge
}
