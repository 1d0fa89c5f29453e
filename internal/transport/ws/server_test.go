package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"soulvan.game/internal/protocol"
	"soulvan.game/internal/sim/session"
)

// A client disconnecting after the session loop has stopped must not leave
// the handler goroutine stuck on the departure queue.
func TestDisconnectAfterSessionStopDoesNotHang(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	sess := session.New(session.Config{ID: "s1", Seed: 1}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = sess.Run(ctx)
		close(runDone)
	}()

	srv := httptest.NewServer(NewServer(sess, logger).Handler())

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	hb, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		VehicleName:     "van",
	})
	if err := conn.WriteMessage(websocket.TextMessage, hb); err != nil {
		t.Fatalf("hello: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.VehicleID == "" {
		t.Fatalf("welcome = %s, err %v", msg, err)
	}

	// Stop the loop, then stuff the departure queue so nothing drains it.
	cancel()
	<-runDone
filling:
	for {
		select {
		case sess.Leave() <- "V999":
		default:
			break filling
		}
	}

	_ = conn.Close()

	// srv.Close waits for the handler goroutine to return.
	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("handler did not exit after client disconnect")
	}
}
