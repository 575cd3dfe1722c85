package filestore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"voxelmap.ai/internal/storage"
)

func put(t *testing.T, s *Store, x, z int, data string) {
	t.Helper()
	w, err := s.Write(x, z)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func get(t *testing.T, s *Store, x, z int) (string, bool) {
	t.Helper()
	cr, err := s.Read(x, z)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cr == nil {
		return "", false
	}
	r, err := cr.Decompress()
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(b), true
}

func TestStore_WriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, storage.Zstd, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	put(t, s, -3, 7, "payload")
	if _, err := os.Stat(filepath.Join(dir, "x-3z7.bin.zst")); err != nil {
		t.Fatalf("expected zstd item file: %v", err)
	}
	got, ok := get(t, s, -3, 7)
	if !ok || got != "payload" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if err := s.Delete(-3, 7); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(-3, 7); ok {
		t.Fatalf("expected item to be gone")
	}
}

func TestStore_ReadsItemsOfOtherCompression(t *testing.T) {
	dir := t.TempDir()
	gz, _ := New(dir, storage.GZip, nil)
	put(t, gz, 1, 1, "old")

	zs, _ := New(dir, storage.Zstd, nil)
	got, ok := get(t, zs, 1, 1)
	if !ok || got != "old" {
		t.Fatalf("expected gzip item to be readable: got %q ok=%v", got, ok)
	}
	put(t, zs, 1, 1, "new")
	if _, err := os.Stat(filepath.Join(dir, "x1z1.bin.gz")); !os.IsNotExist(err) {
		t.Fatalf("stale gzip item should be removed, stat err=%v", err)
	}
	got, _ = get(t, zs, 1, 1)
	if got != "new" {
		t.Fatalf("got %q want new", got)
	}
}

func TestStore_StreamSkipsUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, storage.None, nil)
	put(t, s, 0, 0, "a")
	put(t, s, 5, -5, "b")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x99999999999z0.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got [][2]int
	if err := s.Stream(func(c storage.Cell) error {
		got = append(got, [2]int{c.X, c.Z})
		return nil
	}); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %v", got)
	}
}

func TestItem_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "settings.json")
	it := NewItem(p, storage.GZip)
	if ok, _ := it.Exists(); ok {
		t.Fatalf("fresh item should not exist")
	}
	w, err := it.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, _ = io.WriteString(w, `{"size":32}`)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(p + ".gz"); err != nil {
		t.Fatalf("expected gzip file: %v", err)
	}
	cr, err := it.Read()
	if err != nil || cr == nil {
		t.Fatalf("Read: %v", err)
	}
	r, _ := cr.Decompress()
	b, _ := io.ReadAll(r)
	_ = r.Close()
	if string(b) != `{"size":32}` {
		t.Fatalf("payload %q", b)
	}
	if err := it.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := it.Exists(); ok {
		t.Fatalf("item should be gone")
	}
}

func TestStore_AbortKeepsCommittedItem(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, storage.Zstd, nil)
	put(t, s, 2, 3, "committed")

	w, err := s.Write(2, 3)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, _ = io.WriteString(w, "partial")
	if err := storage.Abort(w); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after Abort: %v", err)
	}
	got, ok := get(t, s, 2, 3)
	if !ok || got != "committed" {
		t.Fatalf("abort replaced the item: %q ok=%v", got, ok)
	}
	temps, _ := filepath.Glob(filepath.Join(dir, ".item-*"))
	if len(temps) != 0 {
		t.Fatalf("abort left temp files: %v", temps)
	}
}

func TestItem_AbortKeepsCommittedItem(t *testing.T) {
	dir := t.TempDir()
	it := NewItem(filepath.Join(dir, "settings.json"), storage.None)
	w, _ := it.Write()
	_, _ = io.WriteString(w, "v1")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w, _ = it.Write()
	_, _ = io.WriteString(w, "v2-partial")
	if err := storage.Abort(w); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	cr, err := it.Read()
	if err != nil || cr == nil {
		t.Fatalf("Read: %v", err)
	}
	r, _ := cr.Decompress()
	b, _ := io.ReadAll(r)
	_ = r.Close()
	if string(b) != "v1" {
		t.Fatalf("abort replaced the item: %q", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("abort left extra files: %v", entries)
	}
}
