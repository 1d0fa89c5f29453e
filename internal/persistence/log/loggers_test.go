package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"soulvan.game/internal/sim/session"
)

func TestTickLoggerWritesCompressedJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)

	entries := []session.TickLogEntry{
		{Tick: 1, Joins: []session.RecordedJoin{{VehicleID: "V1", Name: "van"}}},
		{Tick: 10, Digest: "abc", Evals: []session.RecordedEval{
			{VehicleID: "V1", ThreatLevel: 0.13, MotifIntensity: 0.478, Motif: "STORM"},
		}},
	}
	for _, e := range entries {
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := os.ReadDir(filepath.Join(dir, "ticks"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	name := files[0].Name()
	if !strings.HasPrefix(name, "ticks-") || !strings.HasSuffix(name, ".jsonl.zst") {
		t.Fatalf("unexpected file name %s", name)
	}

	f, err := os.Open(filepath.Join(dir, "ticks", name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var got []session.TickLogEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e session.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[1].Tick != 10 || got[1].Digest != "abc" || len(got[1].Evals) != 1 {
		t.Fatalf("second entry = %+v", got[1])
	}
	if got[1].Evals[0].Motif != "STORM" {
		t.Fatalf("eval motif = %s", got[1].Evals[0].Motif)
	}
}

func TestAuditLoggerSeparateStream(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	if err := l.WriteAudit(session.AuditEntry{Tick: 5, VehicleID: "V1", Op: "SEND_TOKENS", TxHash: "0xdead"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := os.ReadDir(filepath.Join(dir, "audit"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "audit-") {
		t.Fatalf("unexpected audit files: %v", files)
	}
}
