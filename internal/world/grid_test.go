package world

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxelmap.ai/internal/storage"
)

type fakeChunk struct{ id int }

type countingSource struct {
	calls   atomic.Int32
	err     error
	empty   *fakeChunk
	errored *fakeChunk
}

func newCountingSource() *countingSource {
	return &countingSource{empty: &fakeChunk{id: -1}, errored: &fakeChunk{id: -2}}
}

func (s *countingSource) LoadChunk(x, z int) (*fakeChunk, error) {
	n := s.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if s.err != nil {
		return s.errored, s.err
	}
	return &fakeChunk{id: int(n)}, nil
}

func (s *countingSource) Empty() *fakeChunk   { return s.empty }
func (s *countingSource) Errored() *fakeChunk { return s.errored }

func TestGrid_ConcurrentGetDecodesOnce(t *testing.T) {
	src := newCountingSource()
	g := NewGrid[*fakeChunk](src, nil)

	const n = 50
	var wg sync.WaitGroup
	start := make(chan struct{})
	got := make([]*fakeChunk, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = g.Get(3, 7)
		}(i)
	}
	close(start)
	wg.Wait()

	if c := src.calls.Load(); c != 1 {
		t.Fatalf("expected exactly 1 decode, got %d", c)
	}
	for i, c := range got {
		if c != got[0] {
			t.Fatalf("caller %d observed a different chunk", i)
		}
	}
}

func TestGrid_Invalidate(t *testing.T) {
	src := newCountingSource()
	g := NewGrid[*fakeChunk](src, nil)
	first := g.Get(3, 7)
	_ = g.Get(3, 7)
	if src.calls.Load() != 1 {
		t.Fatalf("second get should hit the cache")
	}
	g.Invalidate(3, 7)
	second := g.Get(3, 7)
	if src.calls.Load() != 2 || second == first {
		t.Fatalf("invalidate should force a new decode: calls=%d", src.calls.Load())
	}
	_ = g.Get(1, 1)
	g.InvalidateAll()
	if g.Len() != 0 {
		t.Fatalf("InvalidateAll left %d entries", g.Len())
	}
	_ = g.Get(3, 7)
	if src.calls.Load() != 4 {
		t.Fatalf("expected 4 decodes, got %d", src.calls.Load())
	}
}

func TestGrid_FailuresAreCached(t *testing.T) {
	var buf bytes.Buffer
	src := newCountingSource()
	src.err = fmt.Errorf("read region: %w", errors.New("disk on fire"))
	g := NewGrid[*fakeChunk](src, log.New(&buf, "", 0))
	for i := 0; i < 3; i++ {
		if c := g.Get(0, 0); c != src.errored {
			t.Fatalf("failed load should yield the ERRORED chunk")
		}
	}
	if src.calls.Load() != 1 {
		t.Fatalf("ERRORED chunk should be cached, got %d loads", src.calls.Load())
	}
	if strings.Count(buf.String(), "warn:") != 1 {
		t.Fatalf("expected one warning, got %q", buf.String())
	}

	src2 := newCountingSource()
	src2.err = fs.ErrNotExist
	g2 := NewGrid[*fakeChunk](src2, nil)
	if c := g2.Get(0, 0); c != src2.empty {
		t.Fatalf("missing region file should yield the EMPTY chunk")
	}
}

func TestGrid_Preload(t *testing.T) {
	src := newCountingSource()
	g := NewGrid[*fakeChunk](src, nil)
	pre := &fakeChunk{id: 99}
	if !g.Preload(2, 2, pre) {
		t.Fatalf("Preload into empty slot should store")
	}
	if g.Preload(2, 2, &fakeChunk{}) {
		t.Fatalf("Preload must not replace cached chunks")
	}
	if g.Get(2, 2) != pre || src.calls.Load() != 0 {
		t.Fatalf("preloaded chunk should be served without decoding")
	}
}

// blockingSource holds LoadChunk until release is closed.
type blockingSource struct {
	*countingSource
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) LoadChunk(x, z int) (*fakeChunk, error) {
	close(s.started)
	<-s.release
	return s.countingSource.LoadChunk(x, z)
}

func TestGrid_PreloadDuringGetKeepsOneIdentity(t *testing.T) {
	src := &blockingSource{countingSource: newCountingSource(), started: make(chan struct{}), release: make(chan struct{})}
	g := NewGrid[*fakeChunk](src, nil)

	got := make(chan *fakeChunk)
	go func() { got <- g.Get(1, 1) }()
	<-src.started

	if !g.Has(1, 1) {
		t.Fatalf("key being decoded should be reported by Has")
	}
	if g.Preload(1, 1, &fakeChunk{id: 99}) {
		t.Fatalf("Preload must not race a decode in flight")
	}
	close(src.release)

	first := <-got
	if g.Get(1, 1) != first {
		t.Fatalf("Get returned a chunk that is not the cached one")
	}
	if g.Has(2, 2) {
		t.Fatalf("unknown key reported by Has")
	}
}

func TestGrid_GetKeepsChunkStoredDuringDecode(t *testing.T) {
	src := &blockingSource{countingSource: newCountingSource(), started: make(chan struct{}), release: make(chan struct{})}
	g := NewGrid[*fakeChunk](src, nil)

	got := make(chan *fakeChunk)
	go func() { got <- g.Get(1, 1) }()
	<-src.started

	// a second decode started after Invalidate stores its chunk first
	pre := &fakeChunk{id: 99}
	g.mu.Lock()
	g.chunks[storage.PackXZ(1, 1)] = pre
	g.mu.Unlock()
	close(src.release)

	if c := <-got; c != pre {
		t.Fatalf("Get overwrote the stored chunk: got id %d", c.id)
	}
	if g.Get(1, 1) != pre {
		t.Fatalf("cached chunk identity lost")
	}
}
