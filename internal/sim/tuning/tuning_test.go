package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_OverridesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := `
tick_rate_hz: 10
eval_interval_ticks: 5
eval_jitter_ticks: 1
threat:
  rival: 0.5
  pursuer: 0.3
  speed: 0.15
  damage: 0.05
  max_speed_kmh: 240
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tn, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tn.TickRateHz != 10 || tn.EvalIntervalTicks != 5 || tn.EvalJitterTicks != 1 {
		t.Fatalf("cadence = %d/%d/%d", tn.TickRateHz, tn.EvalIntervalTicks, tn.EvalJitterTicks)
	}
	if tn.Threat.Rival != 0.5 || tn.Threat.MaxSpeedKmh != 240 {
		t.Fatalf("threat weights = %+v", tn.Threat)
	}
	// Unspecified sections fall back to defaults.
	if tn.Wallet.MintTicks != 20 {
		t.Fatalf("wallet mint ticks = %d, want 2*tick_rate", tn.Wallet.MintTicks)
	}
	if tn.SnapshotEveryTicks != 6000 {
		t.Fatalf("snapshot cadence = %d", tn.SnapshotEveryTicks)
	}
}

func TestApplyDefaults_Cadence(t *testing.T) {
	var tn Tuning
	tn.ApplyDefaults()
	if tn.TickRateHz != 20 {
		t.Fatalf("tick rate = %d", tn.TickRateHz)
	}
	// 0.5s / 0.1s expressed in ticks at 20Hz.
	if tn.EvalIntervalTicks != 10 || tn.EvalJitterTicks != 2 {
		t.Fatalf("eval cadence = %d +/- %d, want 10 +/- 2", tn.EvalIntervalTicks, tn.EvalJitterTicks)
	}
	if tn.Threat.Rival != 0.45 {
		t.Fatalf("threat defaults not applied: %+v", tn.Threat)
	}

	// Jitter must stay below the interval.
	tn = Tuning{TickRateHz: 5, EvalIntervalTicks: 2, EvalJitterTicks: 7}
	tn.ApplyDefaults()
	if tn.EvalJitterTicks >= tn.EvalIntervalTicks {
		t.Fatalf("jitter %d not clamped below interval %d", tn.EvalJitterTicks, tn.EvalIntervalTicks)
	}
}
