package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"soulvan.game/internal/sim/threat"
)

// Tuning is the operator-editable load-time configuration.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	// Threat evaluation cadence: base interval in ticks, with a uniform
	// deviation of +/- EvalJitterTicks re-sampled each cycle.
	EvalIntervalTicks int `yaml:"eval_interval_ticks"`
	EvalJitterTicks   int `yaml:"eval_jitter_ticks"`

	DigestEveryTicks   int `yaml:"digest_every_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Threat threat.Weights `yaml:"threat"`

	Wallet WalletTuning `yaml:"wallet"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

// WalletTuning holds the simulated confirmation latencies of the stubbed
// chain operations, in ticks.
type WalletTuning struct {
	UnlockTicks int `yaml:"unlock_ticks"`
	QueryTicks  int `yaml:"query_ticks"`
	SendTicks   int `yaml:"send_ticks"`
	MintTicks   int `yaml:"mint_ticks"`
	VoteTicks   int `yaml:"vote_ticks"`
}

type RateLimits struct {
	TelemetryWindowTicks int `yaml:"telemetry_window_ticks"`
	TelemetryMax         int `yaml:"telemetry_max"`
	WalletOpWindowTicks  int `yaml:"wallet_op_window_ticks"`
	WalletOpMax          int `yaml:"wallet_op_max"`
}

// Defaults returns a Tuning with every field at its built-in default.
func Defaults() Tuning {
	var t Tuning
	t.ApplyDefaults()
	return t
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	return t, nil
}

func (t *Tuning) ApplyDefaults() {
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	// 0.5s +/- 0.1s at the configured tick rate.
	if t.EvalIntervalTicks <= 0 {
		t.EvalIntervalTicks = t.TickRateHz / 2
	}
	if t.EvalIntervalTicks <= 0 {
		t.EvalIntervalTicks = 1
	}
	if t.EvalJitterTicks <= 0 {
		t.EvalJitterTicks = t.TickRateHz / 10
	}
	if t.EvalJitterTicks >= t.EvalIntervalTicks {
		t.EvalJitterTicks = t.EvalIntervalTicks - 1
	}
	if t.DigestEveryTicks <= 0 {
		t.DigestEveryTicks = 100
	}
	if t.SnapshotEveryTicks <= 0 {
		t.SnapshotEveryTicks = 6000
	}

	t.Threat.ApplyDefaults()

	if t.Wallet.UnlockTicks <= 0 {
		t.Wallet.UnlockTicks = t.TickRateHz / 2
	}
	if t.Wallet.QueryTicks <= 0 {
		t.Wallet.QueryTicks = t.TickRateHz / 2
	}
	if t.Wallet.SendTicks <= 0 {
		t.Wallet.SendTicks = t.TickRateHz
	}
	if t.Wallet.MintTicks <= 0 {
		t.Wallet.MintTicks = 2 * t.TickRateHz
	}
	if t.Wallet.VoteTicks <= 0 {
		t.Wallet.VoteTicks = t.TickRateHz
	}

	if t.RateLimits.TelemetryWindowTicks <= 0 {
		t.RateLimits.TelemetryWindowTicks = t.TickRateHz
	}
	if t.RateLimits.TelemetryMax <= 0 {
		t.RateLimits.TelemetryMax = 2 * t.TickRateHz
	}
	if t.RateLimits.WalletOpWindowTicks <= 0 {
		t.RateLimits.WalletOpWindowTicks = 10 * t.TickRateHz
	}
	if t.RateLimits.WalletOpMax <= 0 {
		t.RateLimits.WalletOpMax = 20
	}
}
