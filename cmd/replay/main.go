package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"soulvan.game/internal/persistence/snapshot"
	"soulvan.game/internal/sim/session"
	"soulvan.game/internal/sim/threat"
	"soulvan.game/internal/sim/tuning"
)

// replay re-runs the threat evaluator over the recorded tick log and
// verifies every logged evaluation reproduces bit-identically. With a
// snapshot it also prints the resumable state summary.

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to snap_*.zst (optional)")
		ticksDir   = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (defaults used when empty)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d session=%s tick=%d seed=%d vehicles=%d lineage_nodes=%d ripples=%d\n",
			snap.Header.Version, snap.Header.SessionID, snap.Header.Tick, snap.Seed,
			len(snap.Vehicles), len(snap.LineageNodes), len(snap.LineageRipples))
	}

	if *ticksDir == "" {
		return
	}

	var tune tuning.Tuning
	if *tuningPath != "" {
		var err error
		tune, err = tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
	} else {
		tune = tuning.Defaults()
	}

	files, err := listTickFiles(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list tick logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick log files found in", *ticksDir)
		os.Exit(1)
	}

	var checked uint64
	for _, path := range files {
		if err := verifyFile(path, tune.Threat, *fromTick, *toTick, &checked); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: verified %d evaluations\n", checked)
}

func listTickFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "ticks-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func verifyFile(path string, w threat.Weights, fromTick, toTick uint64, checked *uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		var entry session.TickLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if fromTick != 0 && entry.Tick < fromTick {
			continue
		}
		if toTick != 0 && entry.Tick > toTick {
			return nil
		}
		for _, e := range entry.Evals {
			res := threat.Evaluate(evalInputs(e), w)
			if !same(res.ThreatLevel, e.ThreatLevel) {
				return fmt.Errorf("tick %d vehicle %s: threat got=%v want=%v", entry.Tick, e.VehicleID, res.ThreatLevel, e.ThreatLevel)
			}
			if !same(res.MotifIntensity, e.MotifIntensity) {
				return fmt.Errorf("tick %d vehicle %s: intensity got=%v want=%v", entry.Tick, e.VehicleID, res.MotifIntensity, e.MotifIntensity)
			}
			*checked++
		}
	}
	return sc.Err()
}

func evalInputs(e session.RecordedEval) threat.Inputs {
	in := threat.Inputs{
		SelfPos:        threat.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
		SpeedKmh:       e.SpeedKmh,
		DamageFraction: e.DamageFraction,
	}
	if e.RivalPos != nil {
		in.RivalPos = &threat.Vec3{X: e.RivalPos[0], Y: e.RivalPos[1], Z: e.RivalPos[2]}
	}
	if e.PursuerPos != nil {
		in.PursuerPos = &threat.Vec3{X: e.PursuerPos[0], Y: e.PursuerPos[1], Z: e.PursuerPos[2]}
	}
	return in
}

// same tolerates the float round trip through JSON.
func same(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12
}
