package main

import (
	"context"
	"errors"
	"testing"

	"voxelmap.ai/internal/storage"
)

func TestParseRegions(t *testing.T) {
	got, err := parseRegions(" 0,0; -1, 2 ")
	if err != nil {
		t.Fatalf("parseRegions: %v", err)
	}
	if len(got) != 2 || got[1] != [2]int{-1, 2} {
		t.Fatalf("got %v", got)
	}
	for _, bad := range []string{"1", "a,b", "1,2,3"} {
		if _, err := parseRegions(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	it := storage.NewMemoryItem(storage.None)
	if _, ok, err := readSettings(it); ok || err != nil {
		t.Fatalf("empty settings: ok=%v err=%v", ok, err)
	}
	want := mapSettings{World: "w#minecraft:overworld", TileSize: 32, OffsetX: 8}
	if err := writeSettings(it, want); err != nil {
		t.Fatalf("writeSettings: %v", err)
	}
	got, ok, err := readSettings(it)
	if err != nil || !ok || got != want {
		t.Fatalf("readSettings = %+v %v %v", got, ok, err)
	}
}

func TestCommitSettings(t *testing.T) {
	canceled := context.Canceled
	cases := []struct {
		name             string
		changed, partial bool
		runErr           error
		want             bool
	}{
		{"unchanged full run", false, false, nil, true},
		{"unchanged partial run", false, true, nil, true},
		{"changed full run", true, false, nil, true},
		{"changed partial run", true, true, nil, false},
		{"changed full run interrupted", true, false, canceled, false},
		{"unchanged run failed", false, false, errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := commitSettings(c.changed, c.partial, c.runErr); got != c.want {
			t.Fatalf("%s: commitSettings = %v, want %v", c.name, got, c.want)
		}
	}
}
