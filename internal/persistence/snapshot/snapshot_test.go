package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"soulvan.game/internal/sim/blackboard"
	"soulvan.game/internal/sim/lineage"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rival := [3]float64{10, 0, 0}
	snap := SnapshotV1{
		Header:       Header{Version: 1, SessionID: "s1", Tick: 6000},
		Seed:         1337,
		TickRate:     20,
		NextEvalTick: 6009,
		Vehicles: []VehicleV1{
			{
				ID: "V1", Name: "van",
				Pos:            [3]float64{1, 2, 3},
				RivalPos:       &rival,
				SpeedKmh:       110,
				DamageFraction: 0.2,
				HasTelemetry:   true,
				Board: []blackboard.Slot{
					{Key: blackboard.KeyThreatLevel, Value: 0.13},
				},
				Motif: "STORM", Intensity: 0.478, PlayingTrack: "track_storm",
			},
		},
		LineageNodes:   []lineage.Node{{ID: "R1", ContributorID: "van"}},
		LineageRipples: []lineage.Ripple{{SourceID: "R1", Tier: lineage.TierLow, Radius: 12}},
		Counters:       CountersV1{NextVehicle: 1},
	}

	path := filepath.Join(dir, Filename(snap.Header.Tick))
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != snap.Header {
		t.Fatalf("header = %+v, want %+v", got.Header, snap.Header)
	}
	if got.NextEvalTick != 6009 || got.Counters.NextVehicle != 1 {
		t.Fatalf("counters not preserved: %+v", got)
	}
	if len(got.Vehicles) != 1 {
		t.Fatalf("vehicles = %d, want 1", len(got.Vehicles))
	}
	v := got.Vehicles[0]
	if v.ID != "V1" || v.RivalPos == nil || v.RivalPos[0] != 10 || v.PlayingTrack != "track_storm" {
		t.Fatalf("vehicle not preserved: %+v", v)
	}
	if len(got.LineageRipples) != 1 || got.LineageRipples[0].Radius != 12 {
		t.Fatalf("ripples not preserved: %+v", got.LineageRipples)
	}
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	snap := SnapshotV1{Header: Header{Version: 1, SessionID: "s1", Tick: 100}, Seed: 7, TickRate: 20}
	if err := WriteSnapshot(filepath.Join(dir, Filename(100)), snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	// A complete write leaves exactly the final file, no temp residue.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != Filename(100) {
		t.Fatalf("dir after write = %v, want only %s", entries, Filename(100))
	}

	// A crash between temp write and rename leaves only a temp file behind.
	// It must never shadow the last complete snapshot.
	torn := filepath.Join(dir, Filename(200)+".tmp-1234")
	if err := os.WriteFile(torn, []byte("partial bytes"), 0o644); err != nil {
		t.Fatalf("write torn temp: %v", err)
	}

	path, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(path) != Filename(100) {
		t.Fatalf("latest = %s, want %s", filepath.Base(path), Filename(100))
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read latest: %v", err)
	}
	if got.Header.Tick != 100 || got.Seed != 7 {
		t.Fatalf("snapshot = %+v, want tick 100 seed 7", got.Header)
	}
}

func TestLatestPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{100, 6000, 300} {
		snap := SnapshotV1{Header: Header{Version: 1, SessionID: "s1", Tick: tick}}
		if err := WriteSnapshot(filepath.Join(dir, Filename(tick)), snap); err != nil {
			t.Fatalf("write %d: %v", tick, err)
		}
	}
	path, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(path) != Filename(6000) {
		t.Fatalf("latest = %s, want %s", filepath.Base(path), Filename(6000))
	}
}

func TestLatestEmptyDir(t *testing.T) {
	path, err := Latest(t.TempDir())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if path != "" {
		t.Fatalf("latest = %q, want empty", path)
	}
}
