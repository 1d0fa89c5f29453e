package session

import (
	"log"
	"math/rand"

	"soulvan.game/internal/persistence/snapshot"
	"soulvan.game/internal/protocol"
	"soulvan.game/internal/sim/motif"
	"soulvan.game/internal/sim/threat"
	"soulvan.game/internal/sim/wallet"
)

// Snapshot captures the session's resumable state. Clients, resume tokens
// and pending wallet completions are excluded: clients reconnect, tokens
// rotate, and the wallet stubs re-issue cleanly.
func (s *Session) Snapshot(tick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   1,
			SessionID: s.cfg.ID,
			Tick:      tick,
		},
		Seed:         s.cfg.Seed,
		TickRate:     s.cfg.TickRateHz,
		NextEvalTick: s.nextEvalTick,
		Counters:     snapshot.CountersV1{NextVehicle: s.nextVehicleNum.Load()},
	}
	snap.LineageNodes = s.lineage.Nodes()
	snap.LineageRipples = s.lineage.ActiveRipples()

	for _, v := range s.sortedVehicles() {
		m, intensity := v.Motif.Current()
		sv := snapshot.VehicleV1{
			ID:             v.ID,
			Name:           v.Name,
			SpeedKmh:       v.Inputs.SpeedKmh,
			DamageFraction: v.Inputs.DamageFraction,
			HasTelemetry:   v.HasTelemetry,
			Board:          v.Board.Snapshot(),
			Motif:          string(m),
			Intensity:      intensity,
			PlayingTrack:   v.Motif.PlayingTrack(),
		}
		sv.Pos = vecToArr(v.Inputs.SelfPos)
		if v.Inputs.RivalPos != nil {
			p := vecToArr(*v.Inputs.RivalPos)
			sv.RivalPos = &p
		}
		if v.Inputs.PursuerPos != nil {
			p := vecToArr(*v.Inputs.PursuerPos)
			sv.PursuerPos = &p
		}
		snap.Vehicles = append(snap.Vehicles, sv)
	}
	return snap
}

// NewFromSnapshot rebuilds a session from a snapshot. The rng is reseeded
// from (seed, tick) so two sessions restored from the same snapshot make
// identical jitter decisions from here on.
func NewFromSnapshot(cfg Config, snap snapshot.SnapshotV1, logger *log.Logger) *Session {
	cfg.ID = snap.Header.SessionID
	cfg.Seed = snap.Seed
	if snap.TickRate > 0 {
		cfg.TickRateHz = snap.TickRate
	}
	s := New(cfg, logger)

	s.tick.Store(snap.Header.Tick)
	s.nextEvalTick = snap.NextEvalTick
	s.nextVehicleNum.Store(snap.Counters.NextVehicle)
	s.rng = rand.New(rand.NewSource(snap.Seed ^ int64(snap.Header.Tick)))
	s.lineage.Restore(snap.LineageNodes, snap.LineageRipples)

	for _, sv := range snap.Vehicles {
		v := &Vehicle{ID: sv.ID, Name: sv.Name, HasTelemetry: sv.HasTelemetry}
		v.initDefaults()
		v.Inputs = threat.Inputs{
			SelfPos:        arrToVec(sv.Pos),
			SpeedKmh:       sv.SpeedKmh,
			DamageFraction: sv.DamageFraction,
		}
		if sv.RivalPos != nil {
			p := arrToVec(*sv.RivalPos)
			v.Inputs.RivalPos = &p
		}
		if sv.PursuerPos != nil {
			p := arrToVec(*sv.PursuerPos)
			v.Inputs.PursuerPos = &p
		}
		v.Board.Restore(sv.Board)
		v.Motif.Restore(motif.Motif(sv.Motif), sv.Intensity, sv.PlayingTrack)
		v.Wallet = wallet.New(s.cfg.Wallet, s, s.log)
		s.wireWalletEvents(v)
		s.vehicles[v.ID] = v
	}
	return s
}

func presentationMsg(p motif.Presentation) protocol.PresentationMsg {
	out := protocol.PresentationMsg{
		Motif:      string(p.Motif),
		Intensity:  p.Intensity,
		TrackID:    p.TrackID,
		StartTrack: p.StartTrack,
		Pitch:      p.Pitch,
		Volume:     p.Volume,
	}
	for _, o := range p.Overlays {
		out.Overlays = append(out.Overlays, protocol.OverlayMsg{
			Motif:        string(o.Motif),
			Active:       o.Active,
			EmissionRate: o.EmissionRate,
		})
	}
	return out
}
