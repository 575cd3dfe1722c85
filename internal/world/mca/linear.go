package mca

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/klauspost/compress/zstd"
)

const (
	linearSignature  uint64 = 0xc3ff13183cca9d9a
	linearVersion           = 1
	linearHeaderSize        = 32
	linearTableSize         = 1024 * 8
)

var (
	linearDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	linearEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
)

// linearRegion reads the linear container: a 32 byte header, one zstd frame
// holding a 1024 entry (size, timestamp) table followed by the uncompressed
// chunk NBT payloads in slot order, and a trailing signature.
type linearRegion struct {
	path   string
	rx, rz int
	cache  *RegionCache
}

func openLinear(path string, rx, rz int, cache *RegionCache) RegionFile {
	return &linearRegion{path: path, rx: rx, rz: rz, cache: cache}
}

func (r *linearRegion) Path() string { return r.path }

// load returns the decompressed body. The returned slice is shared and must
// not be modified.
func (r *linearRegion) load() ([]byte, error) {
	if b, ok := r.cache.get(linearKey(r.path)); ok {
		return b, nil
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	body, err := decodeLinear(raw, r.path)
	if err != nil {
		return nil, err
	}
	r.cache.set(linearKey(r.path), body)
	return body, nil
}

func decodeLinear(raw []byte, path string) ([]byte, error) {
	if len(raw) == 0 {
		return make([]byte, linearTableSize), nil
	}
	if len(raw) < linearHeaderSize+8 {
		return nil, corrupt(path, "file too short (%d bytes)", len(raw))
	}
	if binary.BigEndian.Uint64(raw) != linearSignature {
		return nil, corrupt(path, "bad signature")
	}
	if v := raw[8]; v != linearVersion {
		return nil, corrupt(path, "unsupported linear version %d", v)
	}
	clen := int(int32(binary.BigEndian.Uint32(raw[20:])))
	if clen < 0 || linearHeaderSize+clen+8 > len(raw) {
		return nil, corrupt(path, "compressed length %d exceeds file", clen)
	}
	if binary.BigEndian.Uint64(raw[linearHeaderSize+clen:]) != linearSignature {
		return nil, corrupt(path, "bad footer signature")
	}
	body, err := linearDecoder.DecodeAll(raw[linearHeaderSize:linearHeaderSize+clen], nil)
	if err != nil {
		return nil, corrupt(path, "zstd: %v", err)
	}
	if len(body) < linearTableSize {
		return nil, corrupt(path, "chunk table truncated")
	}
	total := linearTableSize
	for i := 0; i < 1024; i++ {
		size := int(int32(binary.BigEndian.Uint32(body[i*8:])))
		if size < 0 {
			return nil, corrupt(path, "negative chunk size in slot %d", i)
		}
		total += size
	}
	if total > len(body) {
		return nil, corrupt(path, "chunk sizes exceed body (%d > %d)", total, len(body))
	}
	return body, nil
}

func linearLocate(body []byte, s int) (ByteRange, bool) {
	size := int64(int32(binary.BigEndian.Uint32(body[s*8:])))
	if size == 0 {
		return ByteRange{}, false
	}
	off := int64(linearTableSize)
	for i := 0; i < s; i++ {
		off += int64(int32(binary.BigEndian.Uint32(body[i*8:])))
	}
	return ByteRange{Offset: off, Length: size}, true
}

// Locate reports offsets into the decompressed body.
func (r *linearRegion) Locate(cx, cz int) (ByteRange, bool, error) {
	body, err := r.load()
	if err != nil {
		return ByteRange{}, false, err
	}
	rng, ok := linearLocate(body, slot(cx, cz))
	return rng, ok, nil
}

func linearPayload(body []byte, rng ByteRange, s int) Payload {
	return Payload{
		Data:        body[rng.Offset : rng.Offset+rng.Length],
		Compression: CompressionNone,
		Timestamp:   int64(int32(binary.BigEndian.Uint32(body[s*8+4:]))),
	}
}

func (r *linearRegion) ReadChunk(cx, cz int) (Payload, bool, error) {
	body, err := r.load()
	if err != nil {
		return Payload{}, false, err
	}
	s := slot(cx, cz)
	rng, ok := linearLocate(body, s)
	if !ok {
		return Payload{}, false, nil
	}
	return linearPayload(body, rng, s), true, nil
}

func (r *linearRegion) IterateChunks(fn func(cx, cz int, p Payload, readErr error) error) error {
	body, err := r.load()
	if err != nil {
		return err
	}
	baseX, baseZ := r.rx<<regionShift, r.rz<<regionShift
	off := int64(linearTableSize)
	for i := 0; i < RegionChunks*RegionChunks; i++ {
		size := int64(int32(binary.BigEndian.Uint32(body[i*8:])))
		if size == 0 {
			continue
		}
		p := linearPayload(body, ByteRange{Offset: off, Length: size}, i)
		off += size
		if err := fn(baseX+i%RegionChunks, baseZ+i/RegionChunks, p, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeLinear(path string, chunks []ChunkData) error {
	var data [1024][]byte
	var stamps [1024]int64
	var newest int64
	for _, c := range chunks {
		s := slot(c.X, c.Z)
		data[s] = c.NBT
		stamps[s] = c.Timestamp
		if c.Timestamp > newest {
			newest = c.Timestamp
		}
	}
	var body bytes.Buffer
	for i := range data {
		_ = binary.Write(&body, binary.BigEndian, int32(len(data[i])))
		_ = binary.Write(&body, binary.BigEndian, int32(stamps[i]))
	}
	for i := range data {
		body.Write(data[i])
	}
	comp := linearEncoder.EncodeAll(body.Bytes(), nil)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.BigEndian, linearSignature)
	out.WriteByte(linearVersion)
	_ = binary.Write(&out, binary.BigEndian, newest)
	out.WriteByte(3)
	_ = binary.Write(&out, binary.BigEndian, int16(len(chunks)))
	_ = binary.Write(&out, binary.BigEndian, int32(len(comp)))
	_ = binary.Write(&out, binary.BigEndian, int64(0))
	out.Write(comp)
	_ = binary.Write(&out, binary.BigEndian, linearSignature)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
