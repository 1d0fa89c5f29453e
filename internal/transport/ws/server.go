package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"soulvan.game/internal/protocol"
	"soulvan.game/internal/sim/session"
)

type Server struct {
	sess *session.Session
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sess *session.Session, logger *log.Logger) *Server {
	s := &Server{
		sess: sess,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		vehicleID, out := s.handshake(conn)
		if vehicleID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeTelemetry:
				var tm protocol.TelemetryMsg
				if err := json.Unmarshal(msg, &tm); err != nil {
					continue
				}
				if tm.ProtocolVersion != protocol.Version {
					continue
				}
				s.sess.Inbox() <- session.TelemetryEnvelope{VehicleID: vehicleID, Msg: tm}
			case protocol.TypeWalletOp:
				var op protocol.WalletOpMsg
				if err := json.Unmarshal(msg, &op); err != nil {
					continue
				}
				if op.ProtocolVersion != protocol.Version {
					continue
				}
				s.sess.WalletOps() <- session.WalletOpEnvelope{VehicleID: vehicleID, Op: op}
			}
		}

		// Cleanup.
		select {
		case s.sess.Leave() <- vehicleID:
		default:
			// Session loop is stopping; nothing else to do.
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (vehicleID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.VehicleName == "" {
		hello.VehicleName = "vehicle"
	}

	out = make(chan []byte, 64)

	// Optional: resume an existing vehicle (reconnect).
	resumeToken := ""
	if hello.Auth != nil {
		resumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	var resp session.JoinResponse
	if resumeToken != "" {
		respCh := make(chan session.JoinResponse, 1)
		s.sess.Attach() <- session.AttachRequest{
			ResumeToken: resumeToken,
			Out:         out,
			Resp:        respCh,
		}
		resp = <-respCh
	}
	if resp.Welcome.VehicleID == "" {
		// Fresh join.
		respCh := make(chan session.JoinResponse, 1)
		s.sess.Join() <- session.JoinRequest{
			Name: hello.VehicleName,
			Out:  out,
			Resp: respCh,
		}
		resp = <-respCh
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}

	return resp.Welcome.VehicleID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
