package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	in := RoomV1{
		Header: Header{Version: Version, RoomID: "lobby", Tick: 42, SavedAt: 1700000000000},
		Entities: []EntityV1{{
			ID:       "agent-1",
			Name:     "One",
			Skills:   []SkillV1{{ID: "map", Name: "Mapping"}},
			Pos:      [3]float64{10, 0, 5},
			Action:   "wave",
			Origin:   "local",
			JoinedAt: 1700000000000,
		}},
	}
	path := PathFor(dir, in.Header.Tick)
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header {
		t.Fatalf("header = %+v, want %+v", out.Header, in.Header)
	}
	if len(out.Entities) != 1 || out.Entities[0].Pos != in.Entities[0].Pos || out.Entities[0].Skills[0].Name != "Mapping" {
		t.Fatalf("entities = %+v", out.Entities)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if got := Latest(dir); got != "" {
		t.Fatalf("empty dir latest = %q", got)
	}
	for _, tick := range []uint64{9, 120, 33} {
		if err := WriteSnapshot(PathFor(dir, tick), RoomV1{Header: Header{Version: Version, Tick: tick}}); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	if got, want := Latest(dir), PathFor(dir, 120); got != want {
		t.Fatalf("latest = %q, want %q", got, want)
	}
}

func TestReadSnapshot_RejectsVersion(t *testing.T) {
	path := PathFor(t.TempDir(), 1)
	if err := WriteSnapshot(path, RoomV1{Header: Header{Version: 99, Tick: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
