package session

import "sync/atomic"

// Metrics are read from the HTTP handlers while the loop runs, so they
// live in atomics updated at the end of each step.
type Metrics struct {
	Tick      uint64  `json:"tick"`
	Vehicles  int     `json:"vehicles"`
	Clients   int     `json:"clients"`
	Observers int     `json:"observers"`
	StepMS    float64 `json:"step_ms"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Inbox     int `json:"inbox"`
	WalletOps int `json:"wallet_ops"`
	Join      int `json:"join"`
	Leave     int `json:"leave"`
}

type metricsAtomics struct {
	vehicles   atomic.Int64
	clients    atomic.Int64
	observers  atomic.Int64
	stepMicros atomic.Int64
}

func (s *Session) publishMetrics(stepMicros int64) {
	s.metrics.vehicles.Store(int64(len(s.vehicles)))
	s.metrics.clients.Store(int64(len(s.clients)))
	s.metrics.observers.Store(int64(len(s.observers)))
	s.metrics.stepMicros.Store(stepMicros)
}

func (s *Session) Metrics() Metrics {
	return Metrics{
		Tick:      s.tick.Load(),
		Vehicles:  int(s.metrics.vehicles.Load()),
		Clients:   int(s.metrics.clients.Load()),
		Observers: int(s.metrics.observers.Load()),
		StepMS:    float64(s.metrics.stepMicros.Load()) / 1000.0,
		QueueDepths: QueueDepths{
			Inbox:     len(s.inbox),
			WalletOps: len(s.walletOps),
			Join:      len(s.join),
			Leave:     len(s.leave),
		},
	}
}
