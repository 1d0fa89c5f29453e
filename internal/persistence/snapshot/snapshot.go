package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"soulvan.game/internal/sim/blackboard"
	"soulvan.game/internal/sim/lineage"
)

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Tick      uint64 `json:"tick"`
}

// SnapshotV1 captures resumable session state. Resume tokens are
// transport-level and deliberately excluded; the wallet cache is ephemeral
// stub data and is not carried either.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed         int64  `json:"seed"`
	TickRate     int    `json:"tick_rate_hz"`
	NextEvalTick uint64 `json:"next_eval_tick"`

	Vehicles []VehicleV1 `json:"vehicles"`

	LineageNodes   []lineage.Node   `json:"lineage_nodes,omitempty"`
	LineageRipples []lineage.Ripple `json:"lineage_ripples,omitempty"`

	Counters CountersV1 `json:"counters"`
}

type CountersV1 struct {
	NextVehicle uint64 `json:"next_vehicle"`
}

type VehicleV1 struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Pos            [3]float64  `json:"pos"`
	RivalPos       *[3]float64 `json:"rival_pos,omitempty"`
	PursuerPos     *[3]float64 `json:"pursuer_pos,omitempty"`
	SpeedKmh       float64     `json:"speed_kmh"`
	DamageFraction float64     `json:"damage_fraction"`
	HasTelemetry   bool        `json:"has_telemetry"`

	Board []blackboard.Slot `json:"board,omitempty"`

	Motif        string  `json:"motif"`
	Intensity    float64 `json:"intensity"`
	PlayingTrack string  `json:"playing_track,omitempty"`
}

// WriteSnapshot writes atomically: the bytes go to a temp file in the same
// directory and only a complete file is renamed to its final name, so a
// crash mid-write never leaves a truncated snap_*.zst for Latest to pick.
func WriteSnapshot(path string, snap SnapshotV1) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := encodeSnapshot(tmp, snap); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func encodeSnapshot(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line is informational; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Filename returns the canonical snapshot file name for a tick.
func Filename(tick uint64) string {
	return fmt.Sprintf("snap_%012d.zst", tick)
}

// Latest returns the path of the highest-tick snapshot in dir, or "" when
// none exist.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	type cand struct {
		tick uint64
		name string
	}
	var cands []cand
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "snap_") || !strings.HasSuffix(name, ".zst") {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(name, "snap_"), ".zst")
		tick, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{tick: tick, name: name})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick < cands[j].tick })
	return filepath.Join(dir, cands[len(cands)-1].name), nil
}
