package mca

import (
	"github.com/dgraph-io/ristretto/v2"
)

// RegionCache keeps recently read region headers and decompressed linear
// regions, bounded by total bytes. A nil *RegionCache disables caching.
type RegionCache struct {
	c *ristretto.Cache[string, []byte]
}

// NewRegionCache returns nil (caching disabled) when maxBytes <= 0.
func NewRegionCache(maxBytes int64) (*RegionCache, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RegionCache{c: c}, nil
}

func (rc *RegionCache) get(key string) ([]byte, bool) {
	if rc == nil {
		return nil, false
	}
	return rc.c.Get(key)
}

func (rc *RegionCache) set(key string, b []byte) {
	if rc == nil {
		return
	}
	rc.c.Set(key, b, int64(len(b)))
}

// Invalidate drops everything cached for the region file at path.
func (rc *RegionCache) Invalidate(path string) {
	if rc == nil {
		return
	}
	rc.c.Del(headerKey(path))
	rc.c.Del(linearKey(path))
}

func (rc *RegionCache) Clear() {
	if rc == nil {
		return
	}
	rc.c.Clear()
}

func (rc *RegionCache) Close() {
	if rc == nil {
		return
	}
	rc.c.Close()
}

func headerKey(path string) string { return "mca:" + path }
func linearKey(path string) string { return "linear:" + path }
