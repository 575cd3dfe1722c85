package mca

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Tnze/go-mc/save/region"
)

const (
	sectorSize = 4096
	headerSize = 2 * sectorSize
)

// mcaRegion reads the anvil container: a 4 KiB table of (3 byte sector offset,
// 1 byte sector count) entries, a 4 KiB timestamp table, then sector aligned
// payloads each prefixed by a 4 byte length and the compression byte.
type mcaRegion struct {
	path   string
	rx, rz int
	cache  *RegionCache
}

func openMCA(path string, rx, rz int, cache *RegionCache) RegionFile {
	return &mcaRegion{path: path, rx: rx, rz: rz, cache: cache}
}

func (r *mcaRegion) Path() string { return r.path }

func slot(cx, cz int) int { return (cx & 31) + (cz&31)*32 }

func (r *mcaRegion) header() ([]byte, error) {
	if h, ok := r.cache.get(headerKey(r.path)); ok {
		return h, nil
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := readHeader(f, r.path)
	if err != nil {
		return nil, err
	}
	r.cache.set(headerKey(r.path), h)
	return h, nil
}

func readHeader(f io.Reader, path string) ([]byte, error) {
	h := make([]byte, headerSize)
	n, err := io.ReadFull(f, h)
	switch {
	case err == nil:
		return h, nil
	case errors.Is(err, io.EOF):
		// Zero length files are valid regions without chunks.
		return h, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, corrupt(path, "truncated header (%d bytes)", n)
	default:
		return nil, err
	}
}

func locate(h []byte, path string, cx, cz int) (ByteRange, bool, error) {
	e := binary.BigEndian.Uint32(h[slot(cx, cz)*4:])
	offset, count := int64(e>>8), int64(e&0xFF)
	if offset == 0 || count == 0 {
		return ByteRange{}, false, nil
	}
	if offset < 2 {
		return ByteRange{}, false, corrupt(path, "chunk %d,%d overlaps header", cx, cz)
	}
	return ByteRange{Offset: offset * sectorSize, Length: count * sectorSize}, true, nil
}

func (r *mcaRegion) Locate(cx, cz int) (ByteRange, bool, error) {
	h, err := r.header()
	if err != nil {
		return ByteRange{}, false, err
	}
	return locate(h, r.path, cx, cz)
}

func (r *mcaRegion) ReadChunk(cx, cz int) (Payload, bool, error) {
	h, err := r.header()
	if err != nil {
		return Payload{}, false, err
	}
	rng, ok, err := locate(h, r.path, cx, cz)
	if err != nil || !ok {
		return Payload{}, false, err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return Payload{}, false, err
	}
	defer f.Close()
	p, err := r.readPayload(f, rng, cx, cz)
	if err != nil {
		return Payload{}, false, err
	}
	p.Timestamp = int64(binary.BigEndian.Uint32(h[sectorSize+slot(cx, cz)*4:]))
	return p, true, nil
}

func (r *mcaRegion) readPayload(f io.ReaderAt, rng ByteRange, cx, cz int) (Payload, error) {
	var head [5]byte
	if _, err := f.ReadAt(head[:], rng.Offset); err != nil {
		if errors.Is(err, io.EOF) {
			return Payload{}, fmt.Errorf("%w: chunk %d,%d points past the end of %s", ErrCorruptChunk, cx, cz, r.path)
		}
		return Payload{}, err
	}
	length := int64(binary.BigEndian.Uint32(head[:4]))
	comp := head[4]

	if comp&externalFlag != 0 {
		ext := filepath.Join(filepath.Dir(r.path), fmt.Sprintf("c.%d.%d.mcc", cx, cz))
		data, err := os.ReadFile(ext)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Payload{}, fmt.Errorf("%w: missing external chunk file %s", ErrCorruptChunk, ext)
			}
			return Payload{}, err
		}
		return Payload{Data: data, Compression: ChunkCompression(comp &^ externalFlag)}, nil
	}

	if length < 1 || length+4 > rng.Length {
		return Payload{}, fmt.Errorf("%w: chunk %d,%d has invalid length %d", ErrCorruptChunk, cx, cz, length)
	}
	data := make([]byte, length-1)
	if _, err := f.ReadAt(data, rng.Offset+5); err != nil {
		if errors.Is(err, io.EOF) {
			return Payload{}, fmt.Errorf("%w: chunk %d,%d is truncated", ErrCorruptChunk, cx, cz)
		}
		return Payload{}, err
	}
	return Payload{Data: data, Compression: ChunkCompression(comp)}, nil
}

func (r *mcaRegion) IterateChunks(fn func(cx, cz int, p Payload, readErr error) error) error {
	h, err := r.header()
	if err != nil {
		return err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	baseX, baseZ := r.rx<<regionShift, r.rz<<regionShift
	for i := 0; i < RegionChunks*RegionChunks; i++ {
		cx, cz := baseX+i%RegionChunks, baseZ+i/RegionChunks
		rng, ok, err := locate(h, r.path, cx, cz)
		if err != nil {
			if err := fn(cx, cz, Payload{}, err); err != nil {
				return err
			}
			continue
		}
		if !ok {
			continue
		}
		p, err := r.readPayload(f, rng, cx, cz)
		if err != nil && !IsCorrupt(err) {
			return err
		}
		p.Timestamp = int64(binary.BigEndian.Uint32(h[sectorSize+i*4:]))
		if err := fn(cx, cz, p, err); err != nil {
			return err
		}
	}
	return nil
}

// writeMCA stores every chunk zlib compressed.
func writeMCA(path string, chunks []ChunkData) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	rf, err := region.Create(tmp)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		data, err := CompressionZlib.Compress(c.NBT)
		if err != nil {
			_ = rf.Close()
			return err
		}
		sector := append([]byte{byte(CompressionZlib)}, data...)
		if err := rf.WriteSector(c.X&31, c.Z&31, sector); err != nil {
			_ = rf.Close()
			return err
		}
	}
	if err := rf.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
