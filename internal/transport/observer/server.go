package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"soulvan.game/internal/observerproto"
	"soulvan.game/internal/sim/motif"
	"soulvan.game/internal/sim/session"
)

// Server is the loopback-only observer feed. It mirrors every STATE
// broadcast plus lineage ripple frames to local tooling.
type Server struct {
	sess *session.Session
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(sess *session.Session, logger *log.Logger) *Server {
	return &Server{
		sess: sess,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.sess.Config()
		motifs := make([]string, 0, len(motif.All))
		for _, m := range motif.All {
			motifs = append(motifs, string(m))
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			SessionID:       cfg.ID,
			Tick:            s.sess.CurrentTick(),
			SessionParams: observerproto.SessionParams{
				TickRateHz:        cfg.TickRateHz,
				EvalIntervalTicks: cfg.EvalIntervalTicks,
				EvalJitterTicks:   cfg.EvalJitterTicks,
				MaxSpeedKmh:       cfg.Weights.MaxSpeedKmh,
				Seed:              cfg.Seed,
			},
			Motifs: motifs,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		var subPtr atomic.Pointer[observerproto.SubscribeMsg]
		subPtr.Store(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 4096)

		select {
		case s.sess.ObserverJoin() <- session.ObserverJoinRequest{SessionID: sid, Out: out}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.sess.ObserverLeave() <- sid:
			default:
				// Session loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					if drop(*subPtr.Load(), b) {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != "SUBSCRIBE" || upd.ProtocolVersion != observerproto.Version {
				continue
			}
			subPtr.Store(&upd)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// drop applies the subscription filter to an outgoing frame.
func drop(sub observerproto.SubscribeMsg, b []byte) bool {
	if sub.FocusVehicleID == "" && !sub.SkipRipples {
		return false
	}
	var head struct {
		Type      string `json:"type"`
		VehicleID string `json:"vehicle_id"`
	}
	if json.Unmarshal(b, &head) != nil {
		return false
	}
	if sub.SkipRipples && head.Type == "LINEAGE_RIPPLES" {
		return true
	}
	if sub.FocusVehicleID != "" && head.VehicleID != "" && head.VehicleID != sub.FocusVehicleID {
		return true
	}
	return false
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
