package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"soulvan.game/internal/persistence/indexdb"
	persistlog "soulvan.game/internal/persistence/log"
	"soulvan.game/internal/persistence/snapshot"
	"soulvan.game/internal/sim/session"
	"soulvan.game/internal/sim/tuning"
	"soulvan.game/internal/sim/wallet"
	"soulvan.game/internal/transport/observer"
	"soulvan.game/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sessionID  = flag.String("session", "session_1", "session id")
		seed       = flag.Int64("seed", 1337, "session seed (used only when starting fresh)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	sessionDir := filepath.Join(*dataDir, "sessions", *sessionID)
	_ = os.MkdirAll(sessionDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if p, err := snapshot.Latest(filepath.Join(sessionDir, "snapshots")); err == nil {
			snapshotToLoad = p
		}
	}

	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	// Optional: read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(sessionDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	cfg := sessionConfig(*sessionID, *seed, tune)

	var sess *session.Session
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.SessionID != "" && snap.Header.SessionID != *sessionID {
			logger.Fatalf("snapshot session id mismatch: flag=%s snap=%s", *sessionID, snap.Header.SessionID)
		}
		sess = session.NewFromSnapshot(cfg, snap, logger)
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), sess.CurrentTick())
	} else {
		sess = session.New(cfg, logger)
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(sessionDir)
	auditLog := persistlog.NewAuditLogger(sessionDir)
	defer tickLog.Close()
	defer auditLog.Close()
	sess.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	sess.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	sess.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(sessionDir, "snapshots", snapshot.Filename(snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := sess.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("session stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := sess.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP soulvan_session_tick Current session tick.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_tick gauge\n")
		fmt.Fprintf(rw, "soulvan_session_tick{session=%q} %d\n", *sessionID, m.Tick)

		fmt.Fprintf(rw, "# HELP soulvan_session_vehicles Current number of vehicles.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_vehicles gauge\n")
		fmt.Fprintf(rw, "soulvan_session_vehicles{session=%q} %d\n", *sessionID, m.Vehicles)

		fmt.Fprintf(rw, "# HELP soulvan_session_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_clients gauge\n")
		fmt.Fprintf(rw, "soulvan_session_clients{session=%q} %d\n", *sessionID, m.Clients)

		fmt.Fprintf(rw, "# HELP soulvan_session_observers Current number of observers.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_observers gauge\n")
		fmt.Fprintf(rw, "soulvan_session_observers{session=%q} %d\n", *sessionID, m.Observers)

		fmt.Fprintf(rw, "# HELP soulvan_session_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_queue_depth gauge\n")
		fmt.Fprintf(rw, "soulvan_session_queue_depth{session=%q,queue=%q} %d\n", *sessionID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "soulvan_session_queue_depth{session=%q,queue=%q} %d\n", *sessionID, "wallet_ops", m.QueueDepths.WalletOps)
		fmt.Fprintf(rw, "soulvan_session_queue_depth{session=%q,queue=%q} %d\n", *sessionID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "soulvan_session_queue_depth{session=%q,queue=%q} %d\n", *sessionID, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP soulvan_session_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE soulvan_session_step_ms gauge\n")
		fmt.Fprintf(rw, "soulvan_session_step_ms{session=%q} %.3f\n", *sessionID, m.StepMS)
	})

	enablePprofHTTP := envBool("SV_ENABLE_PPROF_HTTP", false)
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (SV_ENABLE_PPROF_HTTP=false)")
	}

	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			SessionID string          `json:"session_id"`
			Tick      uint64          `json:"tick"`
			Metrics   session.Metrics `json:"metrics"`
		}{
			SessionID: *sessionID,
			Tick:      sess.CurrentTick(),
			Metrics:   sess.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})

	obsSrv := observer.NewServer(sess, logger)
	mux.HandleFunc("/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obsSrv.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(sess, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func sessionConfig(id string, seed int64, tune tuning.Tuning) session.Config {
	return session.Config{
		ID:                 id,
		TickRateHz:         tune.TickRateHz,
		EvalIntervalTicks:  tune.EvalIntervalTicks,
		EvalJitterTicks:    tune.EvalJitterTicks,
		DigestEveryTicks:   tune.DigestEveryTicks,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		Seed:               seed,
		Weights:            tune.Threat,
		Wallet: wallet.Config{
			UnlockTicks: tune.Wallet.UnlockTicks,
			QueryTicks:  tune.Wallet.QueryTicks,
			SendTicks:   tune.Wallet.SendTicks,
			MintTicks:   tune.Wallet.MintTicks,
			VoteTicks:   tune.Wallet.VoteTicks,
		},
		TelemetryWindowTicks: tune.RateLimits.TelemetryWindowTicks,
		TelemetryMax:         tune.RateLimits.TelemetryMax,
		WalletOpWindowTicks:  tune.RateLimits.WalletOpWindowTicks,
		WalletOpMax:          tune.RateLimits.WalletOpMax,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

type multiTickLogger struct {
	a session.TickLogger
	b session.TickLogger
}

func (m multiTickLogger) WriteTick(entry session.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a session.AuditLogger
	b session.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry session.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
