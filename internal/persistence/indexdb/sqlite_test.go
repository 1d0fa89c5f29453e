package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"soulvan.game/internal/persistence/snapshot"
	"soulvan.game/internal/sim/session"
	"soulvan.game/internal/sim/tuning"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestWriteAfterCloseIsNoop(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := idx.WriteTick(session.TickLogEntry{Tick: 1}); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := idx.WriteAudit(session.AuditEntry{Tick: 1}); err != nil {
		t.Fatalf("audit after close: %v", err)
	}
}

func TestIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	entry := session.TickLogEntry{
		Tick:   10,
		Digest: "abc",
		Joins:  []session.RecordedJoin{{VehicleID: "V1", Name: "van"}},
		Evals: []session.RecordedEval{
			{VehicleID: "V1", ThreatLevel: 0.13, MotifIntensity: 0.478, Motif: "STORM"},
		},
	}
	if err := idx.WriteTick(entry); err != nil {
		t.Fatalf("write tick: %v", err)
	}
	if err := idx.WriteAudit(session.AuditEntry{Tick: 11, VehicleID: "V1", Op: "SEND_TOKENS", TxHash: "0xdead"}); err != nil {
		t.Fatalf("write audit: %v", err)
	}
	idx.RecordSnapshot("/tmp/snap_000000000100.zst", snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: 1, SessionID: "s", Tick: 100},
		Seed:     7,
		Vehicles: []snapshot.VehicleV1{{ID: "V1"}},
	})
	if err := idx.UpsertTuning(tuning.Tuning{TickRateHz: 20}); err != nil {
		t.Fatalf("upsert tuning: %v", err)
	}

	// Give the async writer a moment, then drain it via Close.
	time.Sleep(50 * time.Millisecond)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	var digest string
	var evals int
	row := idx2.db.QueryRow(`SELECT digest, evals FROM ticks WHERE tick = 10`)
	if err := row.Scan(&digest, &evals); err != nil {
		t.Fatalf("scan tick: %v", err)
	}
	if digest != "abc" || evals != 1 {
		t.Fatalf("tick row = (%s, %d), want (abc, 1)", digest, evals)
	}

	var motif string
	var threat float64
	row = idx2.db.QueryRow(`SELECT motif, threat_level FROM evals WHERE tick = 10 AND vehicle_id = 'V1'`)
	if err := row.Scan(&motif, &threat); err != nil {
		t.Fatalf("scan eval: %v", err)
	}
	if motif != "STORM" || threat != 0.13 {
		t.Fatalf("eval row = (%s, %v)", motif, threat)
	}

	var txHash string
	row = idx2.db.QueryRow(`SELECT tx_hash FROM wallet_audits WHERE tick = 11`)
	if err := row.Scan(&txHash); err != nil {
		t.Fatalf("scan audit: %v", err)
	}
	if txHash != "0xdead" {
		t.Fatalf("tx_hash = %s", txHash)
	}

	path2, tick, err := idx2.LatestSnapshot()
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if tick != 100 || path2 == "" {
		t.Fatalf("latest snapshot = (%s, %d)", path2, tick)
	}

	var tj string
	row = idx2.db.QueryRow(`SELECT value FROM meta WHERE key = 'tuning_digest'`)
	if err := row.Scan(&tj); err != nil {
		t.Fatalf("scan tuning digest: %v", err)
	}
	if tj == "" {
		t.Fatalf("empty tuning digest")
	}
}
