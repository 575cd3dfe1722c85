package sqlitestore

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelmap.ai/internal/storage"
)

// DB holds several named grids in one sqlite file.
type DB struct {
	db     *sql.DB
	logger *log.Logger
	closed atomic.Bool
}

func Open(path string, logger *log.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DB{db: db, logger: logger}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS grid_items (
			grid TEXT NOT NULL,
			item_key TEXT NOT NULL,
			compression TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (grid, item_key)
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			name TEXT PRIMARY KEY,
			compression TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}

// Grid returns the grid storage named name. Writes use compression.
func (d *DB) Grid(name string, compression storage.Compression) *Grid {
	return &Grid{d: d, name: name, compression: compression}
}

// Item returns a single named item storage.
func (d *DB) Item(name string, compression storage.Compression) *Item {
	return &Item{d: d, name: name, compression: compression}
}

type Grid struct {
	d           *DB
	name        string
	compression storage.Compression
}

func (g *Grid) Write(x, z int) (io.WriteCloser, error) {
	key := storage.FormatKey(x, z)
	return newBlobWriter(g.compression, func(data []byte) error {
		_, err := g.d.db.Exec(
			`INSERT INTO grid_items(grid,item_key,compression,data,updated_at) VALUES(?,?,?,?,?)
			 ON CONFLICT(grid,item_key) DO UPDATE SET compression=excluded.compression,data=excluded.data,updated_at=excluded.updated_at`,
			g.name, key, g.compression.ID, data, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

func (g *Grid) Read(x, z int) (*storage.CompressedReader, error) {
	var (
		comp string
		data []byte
	)
	err := g.d.db.QueryRow(`SELECT compression,data FROM grid_items WHERE grid=? AND item_key=?`, g.name, storage.FormatKey(x, z)).Scan(&comp, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blobReader(comp, data)
}

func (g *Grid) Delete(x, z int) error {
	_, err := g.d.db.Exec(`DELETE FROM grid_items WHERE grid=? AND item_key=?`, g.name, storage.FormatKey(x, z))
	return err
}

func (g *Grid) Exists(x, z int) (bool, error) {
	var n int
	err := g.d.db.QueryRow(`SELECT COUNT(1) FROM grid_items WHERE grid=? AND item_key=?`, g.name, storage.FormatKey(x, z)).Scan(&n)
	return n > 0, err
}

// Stream collects the keys first; the single connection cannot serve reads
// from fn while a result set is open.
func (g *Grid) Stream(fn func(cell storage.Cell) error) error {
	rows, err := g.d.db.Query(`SELECT item_key FROM grid_items WHERE grid=? ORDER BY item_key`, g.name)
	if err != nil {
		return err
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			_ = rows.Close()
			return err
		}
		keys = append(keys, k)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, k := range keys {
		x, z, err := storage.ParseKey(k)
		if err != nil {
			g.d.logger.Printf("warn: grid %s: skipping malformed key: %v", g.name, err)
			continue
		}
		if err := fn(storage.CellOf(g, x, z)); err != nil {
			if errors.Is(err, storage.SkipAll) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of items in the grid.
func (g *Grid) Count() (int, error) {
	var n int
	err := g.d.db.QueryRow(`SELECT COUNT(1) FROM grid_items WHERE grid=?`, g.name).Scan(&n)
	return n, err
}

type Item struct {
	d           *DB
	name        string
	compression storage.Compression
}

func (it *Item) Write() (io.WriteCloser, error) {
	return newBlobWriter(it.compression, func(data []byte) error {
		_, err := it.d.db.Exec(
			`INSERT INTO items(name,compression,data,updated_at) VALUES(?,?,?,?)
			 ON CONFLICT(name) DO UPDATE SET compression=excluded.compression,data=excluded.data,updated_at=excluded.updated_at`,
			it.name, it.compression.ID, data, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

func (it *Item) Read() (*storage.CompressedReader, error) {
	var (
		comp string
		data []byte
	)
	err := it.d.db.QueryRow(`SELECT compression,data FROM items WHERE name=?`, it.name).Scan(&comp, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blobReader(comp, data)
}

func (it *Item) Delete() error {
	_, err := it.d.db.Exec(`DELETE FROM items WHERE name=?`, it.name)
	return err
}

func (it *Item) Exists() (bool, error) {
	var n int
	err := it.d.db.QueryRow(`SELECT COUNT(1) FROM items WHERE name=?`, it.name).Scan(&n)
	return n > 0, err
}

func blobReader(comp string, data []byte) (*storage.CompressedReader, error) {
	c, err := storage.CompressionByID(comp)
	if err != nil {
		return nil, err
	}
	return &storage.CompressedReader{ReadCloser: io.NopCloser(bytes.NewReader(data)), Compression: c}, nil
}

type blobWriter struct {
	buf    bytes.Buffer
	cw     io.WriteCloser
	commit func([]byte) error
	err    error
	done   bool
}

func newBlobWriter(c storage.Compression, commit func([]byte) error) (*blobWriter, error) {
	w := &blobWriter{commit: commit}
	cw, err := c.Compress(&w.buf)
	if err != nil {
		return nil, err
	}
	w.cw = cw
	return w, nil
}

func (w *blobWriter) Write(p []byte) (int, error) {
	n, err := w.cw.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// Abort drops the buffered item without touching the stored row.
func (w *blobWriter) Abort() error {
	w.done = true
	return nil
}

func (w *blobWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if w.err != nil {
		return storage.NotCommitted(w.err)
	}
	if err := w.cw.Close(); err != nil {
		return err
	}
	data := w.buf.Bytes()
	if data == nil {
		// data is NOT NULL; a nil slice binds as NULL.
		data = []byte{}
	}
	return w.commit(data)
}
