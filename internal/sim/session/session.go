package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"soulvan.game/internal/persistence/snapshot"
	"soulvan.game/internal/protocol"
	"soulvan.game/internal/sim/blackboard"
	"soulvan.game/internal/sim/lineage"
	"soulvan.game/internal/sim/motif"
	"soulvan.game/internal/sim/threat"
	"soulvan.game/internal/sim/wallet"
)

type Config struct {
	ID                 string
	TickRateHz         int
	EvalIntervalTicks  int
	EvalJitterTicks    int
	DigestEveryTicks   int
	SnapshotEveryTicks int
	Seed               int64

	Weights threat.Weights
	Wallet  wallet.Config

	TelemetryWindowTicks int
	TelemetryMax         int
	WalletOpWindowTicks  int
	WalletOpMax          int
}

func (c *Config) applyDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.EvalIntervalTicks <= 0 {
		c.EvalIntervalTicks = c.TickRateHz / 2
	}
	if c.EvalIntervalTicks <= 0 {
		c.EvalIntervalTicks = 1
	}
	if c.EvalJitterTicks < 0 {
		c.EvalJitterTicks = 0
	}
	if c.EvalJitterTicks >= c.EvalIntervalTicks {
		c.EvalJitterTicks = c.EvalIntervalTicks - 1
	}
	if c.DigestEveryTicks <= 0 {
		c.DigestEveryTicks = 100
	}
	if c.SnapshotEveryTicks <= 0 {
		c.SnapshotEveryTicks = 6000
	}
	c.Weights.ApplyDefaults()
	if c.Wallet.UnlockTicks <= 0 {
		c.Wallet.UnlockTicks = c.TickRateHz / 2
	}
	if c.Wallet.QueryTicks <= 0 {
		c.Wallet.QueryTicks = c.TickRateHz / 2
	}
	if c.Wallet.SendTicks <= 0 {
		c.Wallet.SendTicks = c.TickRateHz
	}
	if c.Wallet.MintTicks <= 0 {
		c.Wallet.MintTicks = 2 * c.TickRateHz
	}
	if c.Wallet.VoteTicks <= 0 {
		c.Wallet.VoteTicks = c.TickRateHz
	}
	if c.TelemetryWindowTicks <= 0 {
		c.TelemetryWindowTicks = c.TickRateHz
	}
	if c.TelemetryMax <= 0 {
		c.TelemetryMax = 2 * c.TickRateHz
	}
	if c.WalletOpWindowTicks <= 0 {
		c.WalletOpWindowTicks = 10 * c.TickRateHz
	}
	if c.WalletOpMax <= 0 {
		c.WalletOpMax = 20
	}
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type AttachRequest struct {
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type TelemetryEnvelope struct {
	VehicleID string
	Msg       protocol.TelemetryMsg
}

type WalletOpEnvelope struct {
	VehicleID string
	Op        protocol.WalletOpMsg
}

type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
}

type RecordedJoin struct {
	VehicleID string `json:"vehicle_id"`
	Name      string `json:"name"`
}

// RecordedEval captures one threat evaluation: the exact inputs plus the
// produced outputs, enough for cmd/replay to re-run the evaluator offline
// and verify.
type RecordedEval struct {
	VehicleID      string      `json:"vehicle_id"`
	Pos            [3]float64  `json:"pos"`
	RivalPos       *[3]float64 `json:"rival_pos,omitempty"`
	PursuerPos     *[3]float64 `json:"pursuer_pos,omitempty"`
	SpeedKmh       float64     `json:"speed_kmh"`
	DamageFraction float64     `json:"damage_fraction"`

	ThreatLevel    float64 `json:"threat_level"`
	MotifIntensity float64 `json:"motif_intensity"`
	Motif          string  `json:"motif"`
}

type TickLogEntry struct {
	Tick   uint64         `json:"tick"`
	Joins  []RecordedJoin `json:"joins,omitempty"`
	Leaves []string       `json:"leaves,omitempty"`
	Evals  []RecordedEval `json:"evals,omitempty"`
	Digest string         `json:"digest,omitempty"`
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	VehicleID string `json:"vehicle_id"`
	Op        string `json:"op"` // e.g. "SEND_TOKENS"
	TxHash    string `json:"tx_hash,omitempty"`
	Code      string `json:"code,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type clientState struct {
	Out chan []byte
}

// Session is the single-threaded authoritative host loop. All state must
// be accessed only from the session goroutine.
type Session struct {
	cfg Config
	log *log.Logger

	tick atomic.Uint64

	vehicles  map[string]*Vehicle
	clients   map[string]*clientState
	observers map[string]chan []byte

	// lastMint remembers each vehicle's most recent mint node so the next
	// mint links to it as a remix parent.
	lastMint map[string]string

	lineage *lineage.Graph
	tasks   taskQueue

	// Threat evaluation cadence: jitter is re-sampled from rng after every
	// evaluation pass so the cadence never locks step with other periodic
	// systems.
	rng          *rand.Rand
	nextEvalTick uint64

	inbox     chan TelemetryEnvelope
	walletOps chan WalletOpEnvelope
	join      chan JoinRequest
	attach    chan AttachRequest
	leave     chan string
	obsJoin   chan ObserverJoinRequest
	obsLeave  chan string
	stop      chan struct{}

	nextVehicleNum atomic.Uint64

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing is off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics metricsAtomics
}

func New(cfg Config, logger *log.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{
		cfg:       cfg,
		log:       logger,
		vehicles:  map[string]*Vehicle{},
		clients:   map[string]*clientState{},
		observers: map[string]chan []byte{},
		lastMint:  map[string]string{},
		lineage:   lineage.NewGraph(),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		inbox:     make(chan TelemetryEnvelope, 1024),
		walletOps: make(chan WalletOpEnvelope, 256),
		join:      make(chan JoinRequest, 16),
		attach:    make(chan AttachRequest, 16),
		leave:     make(chan string, 16),
		obsJoin:   make(chan ObserverJoinRequest, 16),
		obsLeave:  make(chan string, 16),
		stop:      make(chan struct{}),
	}
	s.nextEvalTick = uint64(cfg.EvalIntervalTicks)
	return s
}

func (s *Session) SetTickLogger(l TickLogger)                    { s.tickLogger = l }
func (s *Session) SetAuditLogger(l AuditLogger)                  { s.auditLogger = l }
func (s *Session) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

func (s *Session) Inbox() chan<- TelemetryEnvelope          { return s.inbox }
func (s *Session) WalletOps() chan<- WalletOpEnvelope       { return s.walletOps }
func (s *Session) Join() chan<- JoinRequest                 { return s.join }
func (s *Session) Attach() chan<- AttachRequest             { return s.attach }
func (s *Session) Leave() chan<- string                     { return s.leave }
func (s *Session) ObserverJoin() chan<- ObserverJoinRequest { return s.obsJoin }
func (s *Session) ObserverLeave() chan<- string             { return s.obsLeave }

func (s *Session) CurrentTick() uint64 { return s.tick.Load() }
func (s *Session) Config() Config      { return s.cfg }

// After implements wallet.Scheduler on the session's deferred task queue.
func (s *Session) After(delayTicks int, fn func(tick uint64)) {
	s.tasks.schedule(s.tick.Load(), delayTicks, fn)
}

func (s *Session) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingTelemetry []TelemetryEnvelope
	var pendingWalletOps []WalletOpEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-s.attach:
			s.handleAttach(req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-s.inbox:
			pendingTelemetry = append(pendingTelemetry, env)
		case env := <-s.walletOps:
			pendingWalletOps = append(pendingWalletOps, env)
		case req := <-s.obsJoin:
			s.observers[req.SessionID] = req.Out
		case id := <-s.obsLeave:
			delete(s.observers, id)
		case <-ticker.C:
			s.step(pendingJoins, pendingLeaves, pendingTelemetry, pendingWalletOps)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingTelemetry = pendingTelemetry[:0]
			pendingWalletOps = pendingWalletOps[:0]
		}
	}
}

func (s *Session) Stop() { close(s.stop) }

// StepOnce advances the session exactly one tick with the given batched
// input. Exposed for tests and offline tooling; Run uses the same path.
func (s *Session) StepOnce(joins []JoinRequest, leaves []string, telemetry []TelemetryEnvelope, walletOps []WalletOpEnvelope) (tick uint64, digest string) {
	s.step(joins, leaves, telemetry, walletOps)
	t := s.tick.Load()
	return t, s.stateDigest(t)
}

func (s *Session) step(joins []JoinRequest, leaves []string, telemetry []TelemetryEnvelope, walletOps []WalletOpEnvelope) {
	stepStart := time.Now()
	tick := s.tick.Add(1)

	entry := TickLogEntry{Tick: tick}

	for _, id := range leaves {
		if _, ok := s.clients[id]; ok {
			delete(s.clients, id)
			entry.Leaves = append(entry.Leaves, id)
		}
	}
	for _, req := range joins {
		resp := s.joinVehicle(req.Name, req.Out)
		entry.Joins = append(entry.Joins, RecordedJoin{VehicleID: resp.Welcome.VehicleID, Name: req.Name})
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	for _, env := range telemetry {
		s.applyTelemetry(tick, env)
	}
	for _, env := range walletOps {
		s.applyWalletOp(tick, env)
	}

	if tick >= s.nextEvalTick {
		entry.Evals = s.evaluate(tick)
		s.armNextEval(tick)
	}

	s.tasks.runDue(tick)

	if frames := s.lineage.Step(); len(frames) > 0 {
		s.broadcastRipples(tick, frames)
	}

	if s.cfg.DigestEveryTicks > 0 && tick%uint64(s.cfg.DigestEveryTicks) == 0 {
		entry.Digest = s.stateDigest(tick)
	}
	if s.tickLogger != nil && (entry.Digest != "" || len(entry.Joins) > 0 || len(entry.Leaves) > 0 || len(entry.Evals) > 0) {
		if err := s.tickLogger.WriteTick(entry); err != nil {
			s.log.Printf("[session] tick log: %v", err)
		}
	}

	if s.snapshotSink != nil && s.cfg.SnapshotEveryTicks > 0 && tick%uint64(s.cfg.SnapshotEveryTicks) == 0 {
		select {
		case s.snapshotSink <- s.Snapshot(tick):
		default:
			s.log.Printf("[session] snapshot sink busy, skipping tick %d", tick)
		}
	}

	s.publishMetrics(time.Since(stepStart).Microseconds())
}

// armNextEval re-samples the jittered deadline: base interval plus a
// uniform deviation in [-jitter, +jitter].
func (s *Session) armNextEval(tick uint64) {
	next := int64(tick) + int64(s.cfg.EvalIntervalTicks)
	if j := s.cfg.EvalJitterTicks; j > 0 {
		next += int64(s.rng.Intn(2*j+1) - j)
	}
	if next <= int64(tick) {
		next = int64(tick) + 1
	}
	s.nextEvalTick = uint64(next)
}

func (s *Session) evaluate(tick uint64) []RecordedEval {
	var evals []RecordedEval
	for _, v := range s.sortedVehicles() {
		if !v.HasTelemetry {
			continue
		}
		res := threat.Evaluate(v.Inputs, s.cfg.Weights)

		v.Board.Set(blackboard.KeyThreatLevel, res.ThreatLevel)
		v.Board.Set(blackboard.KeySpeedKmh, res.SpeedKmh)
		v.Board.Set(blackboard.KeyMotifIntensity, res.MotifIntensity)

		// Intensity follows threat; the motif itself only changes when a
		// caller asks for it (wallet/story triggers), so keep the current one.
		cur, _ := v.Motif.Current()
		pres, err := v.Motif.SetMotif(cur, res.MotifIntensity)
		if err != nil {
			s.log.Printf("[session] motif %s: %v", cur, err)
			continue
		}

		re := RecordedEval{
			VehicleID:      v.ID,
			SpeedKmh:       v.Inputs.SpeedKmh,
			DamageFraction: v.Inputs.DamageFraction,
			ThreatLevel:    res.ThreatLevel,
			MotifIntensity: res.MotifIntensity,
			Motif:          string(cur),
		}
		re.Pos = [3]float64{v.Inputs.SelfPos.X, v.Inputs.SelfPos.Y, v.Inputs.SelfPos.Z}
		if v.Inputs.RivalPos != nil {
			p := vecToArr(*v.Inputs.RivalPos)
			re.RivalPos = &p
		}
		if v.Inputs.PursuerPos != nil {
			p := vecToArr(*v.Inputs.PursuerPos)
			re.PursuerPos = &p
		}
		evals = append(evals, re)

		state := protocol.StateMsg{
			Type:            protocol.TypeState,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			VehicleID:       v.ID,
			ThreatLevel:     res.ThreatLevel,
			SpeedKmh:        res.SpeedKmh,
			MotifIntensity:  res.MotifIntensity,
			Presentation:    presentationMsg(pres),
		}
		b, err := json.Marshal(state)
		if err != nil {
			continue
		}
		s.sendToClient(v.ID, b)
		s.broadcastToObservers(b)
	}
	return evals
}

// SetVehicleMotif switches a vehicle's motif at the stored intensity.
// Used by story/wallet triggers; returns the fresh presentation.
func (s *Session) SetVehicleMotif(vehicleID string, m motif.Motif) (motif.Presentation, error) {
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return motif.Presentation{}, fmt.Errorf("unknown vehicle %s", vehicleID)
	}
	_, intensity := v.Motif.Current()
	return v.Motif.SetMotif(m, intensity)
}

func (s *Session) applyTelemetry(tick uint64, env TelemetryEnvelope) {
	v, ok := s.vehicles[env.VehicleID]
	if !ok {
		return
	}
	if ok, cooldown := v.RateLimitAllow("telemetry", tick, uint64(s.cfg.TelemetryWindowTicks), s.cfg.TelemetryMax); !ok {
		s.sendError(env.VehicleID, protocol.ErrRateLimit, fmt.Sprintf("telemetry rate limited for %d ticks", cooldown))
		return
	}

	m := env.Msg
	v.Inputs = threat.Inputs{
		SelfPos:        arrToVec(m.Pos),
		SpeedKmh:       m.SpeedKmh,
		DamageFraction: m.DamageFraction,
	}
	if m.RivalPos != nil {
		p := arrToVec(*m.RivalPos)
		v.Inputs.RivalPos = &p
	}
	// A zero pursuer position means "unset", matching the blackboard
	// convention the AI service inherited.
	if m.PursuerPos != nil && *m.PursuerPos != [3]float64{} {
		p := arrToVec(*m.PursuerPos)
		v.Inputs.PursuerPos = &p
	}
	v.HasTelemetry = true
}

func (s *Session) applyWalletOp(tick uint64, env WalletOpEnvelope) {
	v, ok := s.vehicles[env.VehicleID]
	if !ok {
		return
	}
	if ok, cooldown := v.RateLimitAllow("wallet_op", tick, uint64(s.cfg.WalletOpWindowTicks), s.cfg.WalletOpMax); !ok {
		s.sendError(env.VehicleID, protocol.ErrRateLimit, fmt.Sprintf("wallet ops rate limited for %d ticks", cooldown))
		return
	}

	op := env.Op
	var err error
	switch op.Op {
	case protocol.WalletOpUnlock:
		v.Wallet.Unlock(op.Passphrase)
	case protocol.WalletOpLock:
		v.Wallet.Lock()
	case protocol.WalletOpSendTokens:
		err = v.Wallet.SendTokens(op.ToAddress, op.Amount, op.MaxFee)
	case protocol.WalletOpGetBalances:
		err = v.Wallet.Balances(func(b protocol.BalanceState) {
			s.sendWalletEvent(v.ID, protocol.WalletEventMsg{Event: protocol.WalletEvBalances, Balances: &b})
		})
	case protocol.WalletOpMintNft:
		err = v.Wallet.MintNft(op.MetadataURI)
	case protocol.WalletOpTransferNft:
		err = v.Wallet.TransferNft(op.TokenID, op.ToAddress)
	case protocol.WalletOpGetNfts:
		err = v.Wallet.Nfts(func(nfts []protocol.NftData) {
			s.sendWalletEvent(v.ID, protocol.WalletEventMsg{Event: protocol.WalletEvNfts, Nfts: nfts})
		})
	case protocol.WalletOpVote:
		err = v.Wallet.VoteOnProposal(op.ProposalID, op.Choice)
	case protocol.WalletOpSubmitProposal:
		err = v.Wallet.SubmitProposal(op.Description)
	case protocol.WalletOpGetProposals:
		err = v.Wallet.Proposals(func(ps []protocol.ProposalData) {
			s.sendWalletEvent(v.ID, protocol.WalletEventMsg{Event: protocol.WalletEvProposals, Proposals: ps})
		})
	case protocol.WalletOpGetChronicle:
		err = v.Wallet.ChronicleEntries(func(items []protocol.ChronicleItem) {
			s.sendWalletEvent(v.ID, protocol.WalletEventMsg{Event: protocol.WalletEvChronicle, Entries: items})
		})
	default:
		s.sendError(v.ID, protocol.ErrBadRequest, fmt.Sprintf("unknown wallet op %q", op.Op))
		return
	}

	if err == wallet.ErrLocked {
		s.auditWallet(tick, v.ID, op.Op, "", protocol.ErrWalletLocked)
		s.sendError(v.ID, protocol.ErrWalletLocked, "wallet is locked")
		return
	}
	if err != nil {
		s.auditWallet(tick, v.ID, op.Op, "", protocol.ErrInvalidTarget)
		s.sendError(v.ID, protocol.ErrInvalidTarget, err.Error())
	}
}

func (s *Session) joinVehicle(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "vehicle"
	}

	idNum := s.nextVehicleNum.Add(1)
	vehicleID := fmt.Sprintf("V%d", idNum)

	v := &Vehicle{ID: vehicleID, Name: name}
	v.initDefaults()
	v.Wallet = wallet.New(s.cfg.Wallet, s, s.log)
	s.wireWalletEvents(v)

	s.vehicles[vehicleID] = v
	if out != nil {
		s.clients[vehicleID] = &clientState{Out: out}
	}

	token := fmt.Sprintf("resume_%s_%d", s.cfg.ID, time.Now().UnixNano())
	v.ResumeToken = token

	return JoinResponse{Welcome: s.welcomeFor(v)}
}

func (s *Session) welcomeFor(v *Vehicle) protocol.WelcomeMsg {
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		VehicleID:       v.ID,
		ResumeToken:     v.ResumeToken,
		SessionParams: protocol.SessionParams{
			TickRateHz:        s.cfg.TickRateHz,
			EvalIntervalTicks: s.cfg.EvalIntervalTicks,
			EvalJitterTicks:   s.cfg.EvalJitterTicks,
			MaxSpeedKmh:       s.cfg.Weights.MaxSpeedKmh,
			Seed:              s.cfg.Seed,
		},
	}
}

func (s *Session) handleAttach(req AttachRequest) {
	if req.ResumeToken == "" || req.Out == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	ids := make([]string, 0, len(s.vehicles))
	for id := range s.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var v *Vehicle
	for _, id := range ids {
		vv := s.vehicles[id]
		if vv != nil && vv.ResumeToken == req.ResumeToken {
			v = vv
			break
		}
	}
	if v == nil {
		if req.Resp != nil {
			req.Resp <- JoinResponse{}
		}
		return
	}

	s.clients[v.ID] = &clientState{Out: req.Out}

	// Rotate token on successful resume.
	v.ResumeToken = fmt.Sprintf("resume_%s_%d", s.cfg.ID, time.Now().UnixNano())

	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: s.welcomeFor(v)}
	}
}

// wireWalletEvents forwards the wallet's typed events to the vehicle's
// client as WALLET_EVENT messages, writes the audit log, and feeds mints
// into the remix lineage graph.
func (s *Session) wireWalletEvents(v *Vehicle) {
	id := v.ID
	v.Wallet.Events.OnUnlocked(func(addr string) {
		s.sendWalletEvent(id, protocol.WalletEventMsg{Event: protocol.WalletEvUnlocked, Address: addr})
	})
	v.Wallet.Events.OnLocked(func() {
		s.sendWalletEvent(id, protocol.WalletEventMsg{Event: protocol.WalletEvLocked})
	})
	v.Wallet.Events.OnTransactionComplete(func(txHash string, success bool) {
		ok := success
		s.sendWalletEvent(id, protocol.WalletEventMsg{Event: protocol.WalletEvTxComplete, TxHash: txHash, Success: &ok})
		s.auditWallet(s.tick.Load(), id, "TX", txHash, "")
	})
	v.Wallet.Events.OnNftMinted(func(tokenID, metadataURI string) {
		s.sendWalletEvent(id, protocol.WalletEventMsg{Event: protocol.WalletEvNftMinted, TokenID: tokenID, MetadataURI: metadataURI})

		// A fresh mint is a remix of the vehicle's most recent work: grow
		// the lineage graph and let the echo ripple out.
		nodeID := fmt.Sprintf("NFT_%s_%s", id, tokenID)
		var parents []string
		if prev, ok := s.lastMint[id]; ok {
			parents = []string{prev}
		}
		if err := s.lineage.AddRemix(nodeID, v.Name, parents...); err == nil {
			s.lastMint[id] = nodeID
			_ = s.lineage.TriggerEcho(nodeID, lineage.TierMedium)
		}
	})
	v.Wallet.Events.OnVoteCast(func(proposalID string, choice int) {
		s.sendWalletEvent(id, protocol.WalletEventMsg{Event: protocol.WalletEvVoteCast, ProposalID: proposalID, Choice: choice})
	})
}

func (s *Session) auditWallet(tick uint64, vehicleID, op, txHash, code string) {
	if s.auditLogger == nil {
		return
	}
	if err := s.auditLogger.WriteAudit(AuditEntry{Tick: tick, VehicleID: vehicleID, Op: op, TxHash: txHash, Code: code}); err != nil {
		s.log.Printf("[session] audit log: %v", err)
	}
}

func (s *Session) sendWalletEvent(vehicleID string, msg protocol.WalletEventMsg) {
	msg.Type = protocol.TypeWalletEvent
	msg.ProtocolVersion = protocol.Version
	msg.Tick = s.tick.Load()
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.sendToClient(vehicleID, b)
}

func (s *Session) sendError(vehicleID, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	if err != nil {
		return
	}
	s.sendToClient(vehicleID, b)
}

func (s *Session) sendToClient(vehicleID string, b []byte) {
	c, ok := s.clients[vehicleID]
	if !ok || c.Out == nil {
		return
	}
	select {
	case c.Out <- b:
	default:
		// Slow client: drop rather than stall the loop.
	}
}

func (s *Session) broadcastToObservers(b []byte) {
	for _, out := range s.observers {
		select {
		case out <- b:
		default:
		}
	}
}

func (s *Session) broadcastRipples(tick uint64, frames []lineage.RippleFrame) {
	payload := struct {
		Type            string                `json:"type"`
		ProtocolVersion string                `json:"protocol_version"`
		Tick            uint64                `json:"tick"`
		Ripples         []lineage.RippleFrame `json:"ripples"`
	}{
		Type:            "LINEAGE_RIPPLES",
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Ripples:         frames,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.broadcastToObservers(b)
}

func (s *Session) sortedVehicles() []*Vehicle {
	ids := make([]string, 0, len(s.vehicles))
	for id := range s.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Vehicle, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.vehicles[id])
	}
	return out
}

func vecToArr(v threat.Vec3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
func arrToVec(a [3]float64) threat.Vec3 { return threat.Vec3{X: a[0], Y: a[1], Z: a[2]} }
