package session

import (
	"encoding/json"
	"math"
	"testing"

	"soulvan.game/internal/protocol"
	"soulvan.game/internal/sim/blackboard"
)

func testConfig() Config {
	return Config{
		ID:                 "test",
		TickRateHz:         20,
		EvalIntervalTicks:  4,
		EvalJitterTicks:    1,
		DigestEveryTicks:   1000,
		SnapshotEveryTicks: 100000,
		Seed:               42,
	}
}

func joinOne(t *testing.T, s *Session, name string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	s.StepOnce([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil, nil)
	r := <-resp
	if r.Welcome.VehicleID == "" {
		t.Fatalf("join returned empty vehicle id")
	}
	return r.Welcome.VehicleID, out
}

func telemetry(id string, speed, damage float64, rival *[3]float64) TelemetryEnvelope {
	return TelemetryEnvelope{
		VehicleID: id,
		Msg: protocol.TelemetryMsg{
			Type:           protocol.TypeTelemetry,
			Pos:            [3]float64{0, 0, 0},
			RivalPos:       rival,
			SpeedKmh:       speed,
			DamageFraction: damage,
		},
	}
}

func drainStates(out chan []byte) []protocol.StateMsg {
	var states []protocol.StateMsg
	for {
		select {
		case b := <-out:
			var base protocol.BaseMessage
			if json.Unmarshal(b, &base) != nil {
				continue
			}
			if base.Type != protocol.TypeState {
				continue
			}
			var st protocol.StateMsg
			if json.Unmarshal(b, &st) == nil {
				states = append(states, st)
			}
		default:
			return states
		}
	}
}

func drainEvents(out chan []byte, wantType string) []map[string]any {
	var msgs []map[string]any
	for {
		select {
		case b := <-out:
			var m map[string]any
			if json.Unmarshal(b, &m) != nil {
				continue
			}
			if m["type"] == wantType {
				msgs = append(msgs, m)
			}
		default:
			return msgs
		}
	}
}

func TestEvaluationWritesBlackboardAndEmitsState(t *testing.T) {
	s := New(testConfig(), nil)
	id, out := joinOne(t, s, "van")

	rival := [3]float64{10, 0, 0}
	s.StepOnce(nil, nil, []TelemetryEnvelope{telemetry(id, 110, 0.2, &rival)}, nil)

	// Step until the first evaluation fires.
	var states []protocol.StateMsg
	for i := 0; i < 10 && len(states) == 0; i++ {
		s.StepOnce(nil, nil, nil, nil)
		states = drainStates(out)
	}
	if len(states) == 0 {
		t.Fatalf("no STATE message within 10 ticks")
	}
	st := states[0]

	v := s.vehicles[id]
	threatVal, ok := v.Board.Get(blackboard.KeyThreatLevel)
	if !ok {
		t.Fatalf("threat_level slot not written")
	}
	speedVal, ok := v.Board.Get(blackboard.KeySpeedKmh)
	if !ok {
		t.Fatalf("speed_kmh slot not written")
	}
	intensityVal, ok := v.Board.Get(blackboard.KeyMotifIntensity)
	if !ok {
		t.Fatalf("motif_intensity slot not written")
	}

	if speedVal != 110 {
		t.Fatalf("speed slot = %v, want 110", speedVal)
	}
	// rival at distance 10 -> proximity 0.1; 110/220 speed; 0.2 damage.
	wantThreat := 0.45*0.1 + 0.15*0.5 + 0.05*0.2
	if math.Abs(threatVal-wantThreat) > 1e-9 {
		t.Fatalf("threat = %v, want %v", threatVal, wantThreat)
	}
	wantIntensity := 0.4 + 0.6*wantThreat
	if math.Abs(intensityVal-wantIntensity) > 1e-9 {
		t.Fatalf("intensity = %v, want %v", intensityVal, wantIntensity)
	}

	if st.VehicleID != id {
		t.Fatalf("state vehicle = %s, want %s", st.VehicleID, id)
	}
	if math.Abs(st.MotifIntensity-wantIntensity) > 1e-9 {
		t.Fatalf("state intensity = %v, want %v", st.MotifIntensity, wantIntensity)
	}
	if st.Presentation.Motif != "STORM" {
		t.Fatalf("default motif = %s, want STORM", st.Presentation.Motif)
	}
	if len(st.Presentation.Overlays) != 4 {
		t.Fatalf("overlays = %d, want 4", len(st.Presentation.Overlays))
	}
}

func TestEvaluationCadenceStaysWithinJitterBounds(t *testing.T) {
	cfg := testConfig()
	cfg.EvalIntervalTicks = 10
	cfg.EvalJitterTicks = 2
	s := New(cfg, nil)
	id, out := joinOne(t, s, "van")
	s.StepOnce(nil, nil, []TelemetryEnvelope{telemetry(id, 50, 0, nil)}, nil)

	var evalTicks []uint64
	for i := 0; i < 200; i++ {
		tick, _ := s.StepOnce(nil, nil, nil, nil)
		for range drainStates(out) {
			evalTicks = append(evalTicks, tick)
		}
	}
	if len(evalTicks) < 10 {
		t.Fatalf("expected >=10 evaluations in 200 ticks, got %d", len(evalTicks))
	}
	for i := 1; i < len(evalTicks); i++ {
		gap := evalTicks[i] - evalTicks[i-1]
		if gap < 8 || gap > 12 {
			t.Fatalf("eval gap %d outside [8,12]", gap)
		}
	}
	// The jitter must actually vary the gaps.
	allSame := true
	for i := 2; i < len(evalTicks); i++ {
		if evalTicks[i]-evalTicks[i-1] != evalTicks[1]-evalTicks[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Fatalf("all eval gaps identical, jitter not applied")
	}
}

func TestSameSeedSameInputsSameDigests(t *testing.T) {
	run := func() []string {
		s := New(testConfig(), nil)
		id, _ := joinOne(t, s, "van")
		rival := [3]float64{5, 0, 0}
		s.StepOnce(nil, nil, []TelemetryEnvelope{telemetry(id, 80, 0.1, &rival)}, nil)
		var digests []string
		for i := 0; i < 50; i++ {
			_, d := s.StepOnce(nil, nil, nil, nil)
			digests = append(digests, d)
		}
		return digests
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("digest diverged at step %d:\n%s\n%s", i, a[i], b[i])
		}
	}
}

func TestWalletUnlockDeferredAndEventDelivered(t *testing.T) {
	cfg := testConfig()
	cfg.Wallet.UnlockTicks = 3
	s := New(cfg, nil)
	id, out := joinOne(t, s, "van")

	op := WalletOpEnvelope{VehicleID: id, Op: protocol.WalletOpMsg{Op: protocol.WalletOpUnlock, Passphrase: "stormchaser"}}
	s.StepOnce(nil, nil, nil, []WalletOpEnvelope{op})
	if s.vehicles[id].Wallet.Unlocked() {
		t.Fatalf("wallet unlocked immediately, want deferred")
	}

	var events []map[string]any
	for i := 0; i < 5 && len(events) == 0; i++ {
		s.StepOnce(nil, nil, nil, nil)
		events = drainEvents(out, protocol.TypeWalletEvent)
	}
	if len(events) == 0 {
		t.Fatalf("no WALLET_EVENT after unlock latency")
	}
	if events[0]["event"] != protocol.WalletEvUnlocked {
		t.Fatalf("event = %v, want %s", events[0]["event"], protocol.WalletEvUnlocked)
	}
	if events[0]["address"] != "0xSTOR...ASER" {
		t.Fatalf("address = %v", events[0]["address"])
	}
	if !s.vehicles[id].Wallet.Unlocked() {
		t.Fatalf("wallet still locked after latency elapsed")
	}
}

func TestLockedWalletOpReturnsWalletLockedError(t *testing.T) {
	s := New(testConfig(), nil)
	id, out := joinOne(t, s, "van")

	op := WalletOpEnvelope{VehicleID: id, Op: protocol.WalletOpMsg{Op: protocol.WalletOpSendTokens, ToAddress: "0xAB", Amount: 5}}
	s.StepOnce(nil, nil, nil, []WalletOpEnvelope{op})

	errs := drainEvents(out, protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	if errs[0]["code"] != protocol.ErrWalletLocked {
		t.Fatalf("code = %v, want %s", errs[0]["code"], protocol.ErrWalletLocked)
	}
}

func TestNftMintGrowsLineage(t *testing.T) {
	cfg := testConfig()
	cfg.Wallet.UnlockTicks = 1
	cfg.Wallet.MintTicks = 2
	s := New(cfg, nil)
	id, out := joinOne(t, s, "van")

	s.StepOnce(nil, nil, nil, []WalletOpEnvelope{{VehicleID: id, Op: protocol.WalletOpMsg{Op: protocol.WalletOpUnlock, Passphrase: "pass"}}})
	s.StepOnce(nil, nil, nil, nil) // unlock completes
	if !s.vehicles[id].Wallet.Unlocked() {
		t.Fatalf("wallet not unlocked")
	}

	s.StepOnce(nil, nil, nil, []WalletOpEnvelope{{VehicleID: id, Op: protocol.WalletOpMsg{Op: protocol.WalletOpMintNft, MetadataURI: "ipfs://skin1"}}})
	for i := 0; i < 3; i++ {
		s.StepOnce(nil, nil, nil, nil)
	}

	minted := false
	for _, ev := range drainEvents(out, protocol.TypeWalletEvent) {
		if ev["event"] == protocol.WalletEvNftMinted {
			minted = true
		}
	}
	if !minted {
		t.Fatalf("no NFT_MINTED event after mint latency")
	}
	if s.lineage.Len() != 1 {
		t.Fatalf("lineage nodes = %d, want 1", s.lineage.Len())
	}
	if len(s.lineage.ActiveRipples()) == 0 {
		t.Fatalf("mint did not trigger a lineage echo")
	}

	// A second mint links to the first as its remix parent.
	s.StepOnce(nil, nil, nil, []WalletOpEnvelope{{VehicleID: id, Op: protocol.WalletOpMsg{Op: protocol.WalletOpMintNft, MetadataURI: "ipfs://skin2"}}})
	for i := 0; i < 3; i++ {
		s.StepOnce(nil, nil, nil, nil)
	}
	if s.lineage.Len() != 2 {
		t.Fatalf("lineage nodes = %d, want 2", s.lineage.Len())
	}
	for _, n := range s.lineage.Nodes() {
		if n.ID == "NFT_"+id+"_2" && len(n.ParentIDs) != 1 {
			t.Fatalf("second mint parents = %v, want one", n.ParentIDs)
		}
	}
}

func TestTelemetryRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.TelemetryWindowTicks = 100
	cfg.TelemetryMax = 3
	s := New(cfg, nil)
	id, out := joinOne(t, s, "van")

	var batch []TelemetryEnvelope
	for i := 0; i < 5; i++ {
		batch = append(batch, telemetry(id, float64(50+i), 0, nil))
	}
	s.StepOnce(nil, nil, batch, nil)

	errs := drainEvents(out, protocol.TypeError)
	if len(errs) != 2 {
		t.Fatalf("rate-limit errors = %d, want 2", len(errs))
	}
	for _, e := range errs {
		if e["code"] != protocol.ErrRateLimit {
			t.Fatalf("code = %v, want %s", e["code"], protocol.ErrRateLimit)
		}
	}
	// The last accepted sample (third) sticks.
	if got := s.vehicles[id].Inputs.SpeedKmh; got != 52 {
		t.Fatalf("speed = %v, want 52 (third sample)", got)
	}
}

func TestSnapshotRestoreKeepsDigestsAligned(t *testing.T) {
	s := New(testConfig(), nil)
	id, _ := joinOne(t, s, "van")
	rival := [3]float64{4, 3, 0}
	s.StepOnce(nil, nil, []TelemetryEnvelope{telemetry(id, 120, 0.3, &rival)}, nil)
	for i := 0; i < 25; i++ {
		s.StepOnce(nil, nil, nil, nil)
	}

	snap := s.Snapshot(s.CurrentTick())
	r := NewFromSnapshot(testConfig(), snap, nil)

	if r.CurrentTick() != s.CurrentTick() {
		t.Fatalf("restored tick %d != %d", r.CurrentTick(), s.CurrentTick())
	}
	if d1, d2 := s.stateDigest(s.CurrentTick()), r.stateDigest(r.CurrentTick()); d1 != d2 {
		t.Fatalf("digest mismatch after restore:\n%s\n%s", d1, d2)
	}

	// Restored session re-joins keep the vehicle id sequence.
	out := make(chan []byte, 8)
	resp := make(chan JoinResponse, 1)
	r.StepOnce([]JoinRequest{{Name: "late", Out: out, Resp: resp}}, nil, nil, nil)
	if got := (<-resp).Welcome.VehicleID; got != "V2" {
		t.Fatalf("restored join id = %s, want V2", got)
	}
}

func TestAttachRotatesResumeToken(t *testing.T) {
	s := New(testConfig(), nil)
	out := make(chan []byte, 8)
	resp := make(chan JoinResponse, 1)
	s.StepOnce([]JoinRequest{{Name: "van", Out: out, Resp: resp}}, nil, nil, nil)
	welcome := (<-resp).Welcome

	out2 := make(chan []byte, 8)
	resp2 := make(chan JoinResponse, 1)
	s.handleAttach(AttachRequest{ResumeToken: welcome.ResumeToken, Out: out2, Resp: resp2})
	w2 := (<-resp2).Welcome
	if w2.VehicleID != welcome.VehicleID {
		t.Fatalf("attach vehicle = %s, want %s", w2.VehicleID, welcome.VehicleID)
	}
	if w2.ResumeToken == welcome.ResumeToken {
		t.Fatalf("resume token not rotated on attach")
	}

	// Old token is dead.
	resp3 := make(chan JoinResponse, 1)
	s.handleAttach(AttachRequest{ResumeToken: welcome.ResumeToken, Out: out, Resp: resp3})
	if got := (<-resp3).Welcome.VehicleID; got != "" {
		t.Fatalf("stale token attached to %s", got)
	}
}
