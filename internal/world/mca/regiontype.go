package mca

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// maxRegionCoord bounds parsed region coordinates. It lies far beyond the
// world border so files with unrelated numeric names are not picked up.
const maxRegionCoord = 100000

// ChunkData is one chunk to be written into a region file.
type ChunkData struct {
	X, Z      int
	NBT       []byte
	Timestamp int64
}

// RegionType is one region container format.
type RegionType struct {
	ID  string
	Ext string

	open  func(path string, rx, rz int, cache *RegionCache) RegionFile
	write func(path string, chunks []ChunkData) error
}

var (
	MCA = &RegionType{
		ID:    "mca",
		Ext:   ".mca",
		open:  openMCA,
		write: writeMCA,
	}
	Linear = &RegionType{
		ID:    "linear",
		Ext:   ".linear",
		open:  openLinear,
		write: writeLinear,
	}
)

func (t *RegionType) String() string { return t.ID }

// FileName returns r.<rx>.<rz><ext>.
func (t *RegionType) FileName(rx, rz int) string {
	return "r." + strconv.Itoa(rx) + "." + strconv.Itoa(rz) + t.Ext
}

// ParseFileName is the inverse of FileName. Names in any other form, and
// coordinates beyond ±100000, are rejected.
func (t *RegionType) ParseFileName(name string) (rx, rz int, ok bool) {
	if !strings.HasPrefix(name, "r.") || !strings.HasSuffix(name, t.Ext) {
		return 0, 0, false
	}
	mid := name[2 : len(name)-len(t.Ext)]
	xs, zs, found := strings.Cut(mid, ".")
	if !found {
		return 0, 0, false
	}
	rx, okx := parseRegionCoord(xs)
	rz, okz := parseRegionCoord(zs)
	if !okx || !okz {
		return 0, 0, false
	}
	return rx, rz, true
}

func parseRegionCoord(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || strconv.Itoa(v) != s {
		return 0, false
	}
	if v < -maxRegionCoord || v > maxRegionCoord {
		return 0, false
	}
	return v, true
}

// Write creates (or replaces) the region file for (rx,rz) in dir.
func (t *RegionType) Write(dir string, rx, rz int, chunks []ChunkData) error {
	for _, c := range chunks {
		if RegionOf(c.X) != rx || RegionOf(c.Z) != rz {
			return fmt.Errorf("chunk %d,%d is outside region %d,%d", c.X, c.Z, rx, rz)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return t.write(filepath.Join(dir, t.FileName(rx, rz)), chunks)
}

// Registry resolves region files to formats. The first registered type is the
// default used for regions that have no file yet.
type Registry struct {
	types []*RegionType
	cache *RegionCache
}

// NewRegistry returns a registry with the given types, or MCA and Linear when
// none are passed.
func NewRegistry(cache *RegionCache, types ...*RegionType) *Registry {
	if len(types) == 0 {
		types = []*RegionType{MCA, Linear}
	}
	return &Registry{types: types, cache: cache}
}

func (r *Registry) Default() *RegionType { return r.types[0] }

func (r *Registry) Types() []*RegionType { return append([]*RegionType(nil), r.types...) }

func (r *Registry) Cache() *RegionCache { return r.cache }

func (r *Registry) Lookup(id string) (*RegionType, bool) {
	for _, t := range r.types {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// ParseFileName finds the type whose naming pattern matches name.
func (r *Registry) ParseFileName(name string) (t *RegionType, rx, rz int, ok bool) {
	for _, t := range r.types {
		if rx, rz, ok := t.ParseFileName(name); ok {
			return t, rx, rz, true
		}
	}
	return nil, 0, 0, false
}

// Open returns the region file for (rx,rz) in dir using the first format whose
// file exists, or the default format if none does. Reads from a region with
// no file fail with fs.ErrNotExist.
func (r *Registry) Open(dir string, rx, rz int) (RegionFile, error) {
	for _, t := range r.types {
		p := filepath.Join(dir, t.FileName(rx, rz))
		_, err := os.Stat(p)
		if err == nil {
			return t.open(p, rx, rz, r.cache), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	d := r.Default()
	return d.open(filepath.Join(dir, d.FileName(rx, rz)), rx, rz, r.cache), nil
}

// RegionEntry is one region file found on disk.
type RegionEntry struct {
	Type *RegionType
	X, Z int
	Path string
}

// List returns the regions present in dir ordered by (x,z). A region present
// in several formats is reported once, for the format Open would pick.
func (r *Registry) List(dir string) ([]RegionEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	rank := map[*RegionType]int{}
	for i, t := range r.types {
		rank[t] = i
	}
	found := map[[2]int]RegionEntry{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t, rx, rz, ok := r.ParseFileName(e.Name())
		if !ok {
			continue
		}
		k := [2]int{rx, rz}
		if prev, dup := found[k]; dup && rank[prev.Type] <= rank[t] {
			continue
		}
		found[k] = RegionEntry{Type: t, X: rx, Z: rz, Path: filepath.Join(dir, e.Name())}
	}
	out := make([]RegionEntry, 0, len(found))
	for _, e := range found {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out, nil
}
