package session

import (
	"soulvan.game/internal/sim/blackboard"
	"soulvan.game/internal/sim/motif"
	"soulvan.game/internal/sim/threat"
	"soulvan.game/internal/sim/wallet"
)

// Vehicle is one connected driver's AI-visible state: the latest world
// sample, its blackboard, its motif overlay state and its wallet facade.
type Vehicle struct {
	ID   string
	Name string

	// ResumeToken is a transport-level token used for reconnects.
	// It is intentionally NOT included in snapshots or digests.
	ResumeToken string

	// Latest telemetry, rebuilt into threat inputs each evaluation.
	Inputs       threat.Inputs
	HasTelemetry bool

	Board  *blackboard.Board
	Motif  *motif.Selector
	Wallet *wallet.Wallet

	// Rate limiting windows (per message kind).
	rl map[string]*rateWindow
}

type rateWindow struct {
	StartTick uint64
	Count     int
	Window    uint64
	Max       int
}

func (v *Vehicle) initDefaults() {
	if v.Board == nil {
		v.Board = blackboard.New()
	}
	if v.Motif == nil {
		v.Motif = motif.NewSelector()
	}
	if v.rl == nil {
		v.rl = map[string]*rateWindow{}
	}
}

func (v *Vehicle) RateLimitAllow(kind string, nowTick, window uint64, max int) (ok bool, cooldownTicks uint64) {
	w, ok := v.rl[kind]
	if !ok {
		w = &rateWindow{StartTick: nowTick, Window: window, Max: max}
		v.rl[kind] = w
	}
	w.Window = window
	w.Max = max
	// Defensive: treat invalid windows as "allow" rather than diverging.
	if w.Window == 0 || w.Max <= 0 {
		return true, 0
	}
	if nowTick-w.StartTick >= w.Window {
		w.StartTick = nowTick
		w.Count = 0
	}
	w.Count++
	if w.Count <= w.Max {
		return true, 0
	}
	return false, (w.StartTick + w.Window) - nowTick
}
