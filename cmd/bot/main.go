package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"soulvan.game/internal/protocol"
)

// bot drives a synthetic vehicle: it streams telemetry shaped like a chase
// (a rival closing in and backing off, speed oscillating, damage creeping
// up) and logs the STATE updates the server evaluates from it.

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "vehicle name")
		hz     = flag.Int("hz", 10, "telemetry send rate")
		unlock = flag.Bool("unlock", false, "unlock the wallet and mint a skin while driving")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		VehicleName:     *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	go readLoop(conn, logger)

	if *unlock {
		_ = conn.WriteJSON(protocol.WalletOpMsg{
			Type:            protocol.TypeWalletOp,
			ProtocolVersion: protocol.Version,
			Op:              protocol.WalletOpUnlock,
			Passphrase:      "stormchaser",
		})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	interval := time.Second / time.Duration(*hz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var t float64
	damage := 0.0
	minted := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t += interval.Seconds()
		// Rival orbits between 5 and 55 units away; speed swings 60..180.
		rivalDist := 30 + 25*math.Sin(t/7)
		speed := 120 + 60*math.Sin(t/11)
		if rng.Float64() < 0.01 {
			damage += 0.05 * rng.Float64()
		}
		if damage > 1 {
			damage = 1
		}

		rival := [3]float64{rivalDist, 0, 0}
		tm := protocol.TelemetryMsg{
			Type:            protocol.TypeTelemetry,
			ProtocolVersion: protocol.Version,
			Pos:             [3]float64{0, 0, 0},
			RivalPos:        &rival,
			SpeedKmh:        speed,
			DamageFraction:  damage,
		}
		if err := conn.WriteJSON(tm); err != nil {
			logger.Printf("send telemetry: %v", err)
			return
		}

		if *unlock && !minted && t > 5 {
			minted = true
			_ = conn.WriteJSON(protocol.WalletOpMsg{
				Type:            protocol.TypeWalletOp,
				ProtocolVersion: protocol.Version,
				Op:              protocol.WalletOpMintNft,
				MetadataURI:     "ipfs://bot-skin",
			})
		}
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME vehicle_id=%s tick_rate=%d eval_interval=%d max_speed=%.0f",
				w.VehicleID, w.SessionParams.TickRateHz, w.SessionParams.EvalIntervalTicks, w.SessionParams.MaxSpeedKmh)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			logger.Printf("STATE tick=%d threat=%.3f intensity=%.3f motif=%s track=%s start=%v",
				st.Tick, st.ThreatLevel, st.MotifIntensity, st.Presentation.Motif, st.Presentation.TrackID, st.Presentation.StartTrack)

		case protocol.TypeWalletEvent:
			var ev protocol.WalletEventMsg
			if err := json.Unmarshal(msg, &ev); err != nil {
				continue
			}
			logger.Printf("WALLET_EVENT %s tick=%d tx=%s token=%s", ev.Event, ev.Tick, ev.TxHash, ev.TokenID)

		case protocol.TypeError:
			var em protocol.ErrorMsg
			if err := json.Unmarshal(msg, &em); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", em.Code, em.Message)
		}
	}
}
