package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"soulvan.game/internal/sim/blackboard"
	"soulvan.game/internal/sim/lineage"
)

// digestState is the canonical view hashed into the tick-log digest.
// Resume tokens and client plumbing are excluded so reconnects don't
// change the digest.
type digestState struct {
	Tick         uint64           `json:"tick"`
	NextEvalTick uint64           `json:"next_eval_tick"`
	Vehicles     []digestVehicle  `json:"vehicles"`
	Lineage      []lineage.Node   `json:"lineage"`
	Ripples      []lineage.Ripple `json:"ripples"`
}

type digestVehicle struct {
	ID             string            `json:"id"`
	Pos            [3]float64        `json:"pos"`
	RivalPos       *[3]float64       `json:"rival_pos,omitempty"`
	PursuerPos     *[3]float64       `json:"pursuer_pos,omitempty"`
	SpeedKmh       float64           `json:"speed_kmh"`
	DamageFraction float64           `json:"damage_fraction"`
	Board          []blackboard.Slot `json:"board"`
	Motif          string            `json:"motif"`
	Intensity      float64           `json:"intensity"`
}

func (s *Session) stateDigest(tick uint64) string {
	st := digestState{
		Tick:         tick,
		NextEvalTick: s.nextEvalTick,
		Lineage:      s.lineage.Nodes(),
		Ripples:      s.lineage.ActiveRipples(),
	}
	for _, v := range s.sortedVehicles() {
		m, in := v.Motif.Current()
		dv := digestVehicle{
			ID:             v.ID,
			SpeedKmh:       v.Inputs.SpeedKmh,
			DamageFraction: v.Inputs.DamageFraction,
			Board:          v.Board.Snapshot(),
			Motif:          string(m),
			Intensity:      in,
		}
		dv.Pos = [3]float64{v.Inputs.SelfPos.X, v.Inputs.SelfPos.Y, v.Inputs.SelfPos.Z}
		if v.Inputs.RivalPos != nil {
			p := [3]float64{v.Inputs.RivalPos.X, v.Inputs.RivalPos.Y, v.Inputs.RivalPos.Z}
			dv.RivalPos = &p
		}
		if v.Inputs.PursuerPos != nil {
			p := [3]float64{v.Inputs.PursuerPos.X, v.Inputs.PursuerPos.Y, v.Inputs.PursuerPos.Z}
			dv.PursuerPos = &p
		}
		st.Vehicles = append(st.Vehicles, dv)
	}

	b, _ := json.Marshal(st)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
