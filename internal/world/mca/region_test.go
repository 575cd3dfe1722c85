package mca

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMCA_WriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	raw := modernChunkNBTBytes(t, 33, -2, states("minecraft:air", "minecraft:stone", "minecraft:dirt"), stoneFloor())
	if err := MCA.Write(dir, 1, -1, []ChunkData{{X: 33, Z: -2, NBT: raw}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reg := NewRegistry(nil)
	r, err := reg.Open(dir, 1, -1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng, ok, err := r.Locate(33, -2)
	if err != nil || !ok || rng.Offset < headerSize {
		t.Fatalf("Locate: %+v ok=%v err=%v", rng, ok, err)
	}
	if _, ok, _ := r.Locate(34, -2); ok {
		t.Fatalf("unsaved chunk should not be located")
	}

	loader := NewBlockChunkLoader(-64, 384, nil)
	c, err := LoadChunk[*BlockChunk](r, loader, 33, -2)
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if c.BlockState(16, -64, -32).Name != "minecraft:stone" {
		t.Fatalf("unexpected block %s", c.BlockState(16, -64, -32))
	}
	empty, err := LoadChunk[*BlockChunk](r, loader, 40, -2)
	if err != nil || empty != loader.Empty() {
		t.Fatalf("absent chunk should load as EMPTY, got %p err=%v", empty, err)
	}

	missing, _ := reg.Open(dir, 9, 9)
	if _, err := LoadChunk[*BlockChunk](missing, loader, 9*32, 9*32); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing region should surface fs.ErrNotExist, got %v", err)
	}
}

// writeRawMCA builds a region by hand with one chunk per entry at sector 2+i.
func writeRawMCA(t *testing.T, path string, entries map[int][]byte) {
	t.Helper()
	var header [headerSize]byte
	var body bytes.Buffer
	sector := 2
	for s := 0; s < 1024; s++ {
		payload, ok := entries[s]
		if !ok {
			continue
		}
		count := (len(payload) + 4 + sectorSize - 1) / sectorSize
		binary.BigEndian.PutUint32(header[s*4:], uint32(sector)<<8|uint32(count))
		binary.BigEndian.PutUint32(header[sectorSize+s*4:], 1700000000)
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(len(payload)))
		body.Write(buf[:])
		body.Write(payload)
		body.Write(make([]byte, count*sectorSize-len(payload)-4))
		sector += count
	}
	if err := os.WriteFile(path, append(header[:], body.Bytes()...), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMCA_ExternalChunkAndCorruption(t *testing.T) {
	dir := t.TempDir()
	raw := modernChunkNBTBytes(t, 1, 0, states("minecraft:air", "minecraft:stone", "minecraft:dirt"), stoneFloor())
	zl, _ := CompressionZlib.Compress(raw)
	if err := os.WriteFile(filepath.Join(dir, "c.1.0.mcc"), zl, 0o644); err != nil {
		t.Fatal(err)
	}
	entries := map[int][]byte{
		slot(1, 0): {byte(CompressionZlib) | externalFlag},
		slot(2, 0): append([]byte{byte(CompressionZlib)}, []byte("definitely not zlib")...),
		slot(3, 0): {byte(CompressionGZip) | externalFlag},
	}
	writeRawMCA(t, filepath.Join(dir, "r.0.0.mca"), entries)

	reg := NewRegistry(nil)
	r, _ := reg.Open(dir, 0, 0)
	p, ok, err := r.ReadChunk(1, 0)
	if err != nil || !ok {
		t.Fatalf("ReadChunk external: ok=%v err=%v", ok, err)
	}
	if p.Compression != CompressionZlib || p.Timestamp != 1700000000 {
		t.Fatalf("payload compression=%s ts=%d", p.Compression, p.Timestamp)
	}

	loader := NewBlockChunkLoader(-64, 384, nil)
	if _, err := LoadChunk[*BlockChunk](r, loader, 1, 0); err != nil {
		t.Fatalf("external chunk: %v", err)
	}
	c1, err1 := LoadChunk[*BlockChunk](r, loader, 2, 0)
	c2, err2 := LoadChunk[*BlockChunk](r, loader, 2, 0)
	if !IsCorrupt(err1) || !IsCorrupt(err2) {
		t.Fatalf("expected corrupt chunk errors, got %v / %v", err1, err2)
	}
	if c1 != loader.Errored() || c2 != c1 {
		t.Fatalf("corrupt chunk must yield the one ERRORED instance")
	}
	if _, err := LoadChunk[*BlockChunk](r, loader, 3, 0); !errors.Is(err, ErrCorruptChunk) {
		t.Fatalf("missing external file should be corrupt, got %v", err)
	}

	var seen, bad int
	err = IterateChunks[*BlockChunk](r, loader, func(cx, cz int, c *BlockChunk, decodeErr error) error {
		seen++
		if decodeErr != nil {
			bad++
			if c != loader.Errored() {
				t.Fatalf("failed chunk %d,%d not passed as ERRORED", cx, cz)
			}
		}
		return nil
	})
	if err != nil || seen != 3 || bad != 2 {
		t.Fatalf("IterateChunks seen=%d bad=%d err=%v", seen, bad, err)
	}
}

func TestMCA_TruncatedHeader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "r.0.0.mca"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "r.1.0.mca"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(nil)
	r, _ := reg.Open(dir, 0, 0)
	if _, _, err := r.ReadChunk(0, 0); !errors.Is(err, ErrCorruptRegion) {
		t.Fatalf("expected ErrCorruptRegion, got %v", err)
	}
	r, _ = reg.Open(dir, 1, 0)
	if _, ok, err := r.ReadChunk(32, 0); ok || err != nil {
		t.Fatalf("zero length region should hold no chunks: ok=%v err=%v", ok, err)
	}
}

func TestLinear_WriteAndIterate(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewRegionCache(1 << 20)
	if err != nil {
		t.Fatalf("NewRegionCache: %v", err)
	}
	defer cache.Close()
	a := modernChunkNBTBytes(t, -1, -1, states("minecraft:air", "minecraft:stone", "minecraft:dirt"), stoneFloor())
	b := modernChunkNBTBytes(t, -32, -32, states("minecraft:air", "minecraft:dirt", "minecraft:stone"), stoneFloor())
	if err := Linear.Write(dir, -1, -1, []ChunkData{{X: -1, Z: -1, NBT: a, Timestamp: 5}, {X: -32, Z: -32, NBT: b, Timestamp: 9}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reg := NewRegistry(cache, Linear, MCA)
	r, _ := reg.Open(dir, -1, -1)
	p, ok, err := r.ReadChunk(-1, -1)
	if err != nil || !ok || !bytes.Equal(p.Data, a) || p.Timestamp != 5 {
		t.Fatalf("ReadChunk: ok=%v err=%v ts=%d", ok, err, p.Timestamp)
	}

	loader := NewBlockChunkLoader(-64, 384, nil)
	var got []string
	err = IterateChunks[*BlockChunk](r, loader, func(cx, cz int, c *BlockChunk, decodeErr error) error {
		if decodeErr != nil {
			t.Fatalf("decode %d,%d: %v", cx, cz, decodeErr)
		}
		got = append(got, c.BlockState(cx*16, -64, cz*16).Name)
		return nil
	})
	if err != nil {
		t.Fatalf("IterateChunks: %v", err)
	}
	if len(got) != 2 || got[0] != "minecraft:dirt" || got[1] != "minecraft:stone" {
		t.Fatalf("iteration order/content: %v", got)
	}

	stop := errors.New("stop")
	if err := r.IterateChunks(func(int, int, Payload, error) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("callback error should abort iteration, got %v", err)
	}
}

func TestLinear_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.linear")
	if err := os.WriteFile(path, bytes.Repeat([]byte{1}, 64), 0o644); err != nil {
		t.Fatal(err)
	}
	r, _ := NewRegistry(nil).Open(dir, 0, 0)
	if _, _, err := r.ReadChunk(0, 0); !errors.Is(err, ErrCorruptRegion) {
		t.Fatalf("expected ErrCorruptRegion, got %v", err)
	}
}
