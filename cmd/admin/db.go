package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"voxelmap.ai/internal/storage"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./map/map.sqlite", "sqlite map storage path")
	grid := fs.String("grid", "", "grid name filter (keys)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	q := "grids"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 50
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "grids":
		rows, err := db.Query(`SELECT grid,COUNT(1),COALESCE(SUM(LENGTH(data)),0),MAX(updated_at) FROM grid_items GROUP BY grid ORDER BY grid`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Grid      string `json:"grid"`
				Items     int    `json:"items"`
				Bytes     int64  `json:"bytes"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Grid, &r.Items, &r.Bytes, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "keys":
		if strings.TrimSpace(*grid) == "" {
			fmt.Fprintln(os.Stderr, "missing -grid")
			os.Exit(2)
		}
		rows, err := db.Query(`SELECT item_key,compression,LENGTH(data),updated_at FROM grid_items WHERE grid=? ORDER BY updated_at DESC LIMIT ?`, *grid, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Key         string `json:"key"`
				X           int    `json:"x"`
				Z           int    `json:"z"`
				Compression string `json:"compression"`
				Bytes       int    `json:"bytes"`
				UpdatedAt   string `json:"updated_at"`
				Malformed   bool   `json:"malformed,omitempty"`
			}
			if err := rows.Scan(&r.Key, &r.Compression, &r.Bytes, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			x, z, err := storage.ParseKey(r.Key)
			r.X, r.Z, r.Malformed = x, z, err != nil
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "items":
		rows, err := db.Query(`SELECT name,compression,LENGTH(data),updated_at FROM items ORDER BY name LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name        string `json:"name"`
				Compression string `json:"compression"`
				Bytes       int    `json:"bytes"`
				UpdatedAt   string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Compression, &r.Bytes, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-db PATH] [-grid NAME] [-limit N] grids|keys|items")
		os.Exit(2)
	}
}
