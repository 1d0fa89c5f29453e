package observerproto

// Version is the observer protocol version (separate from the vehicle WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only forward state for one vehicle. Empty means all.
	FocusVehicleID string `json:"focus_vehicle_id,omitempty"`

	// Lineage ripple frames are on by default; set to skip them.
	SkipRipples bool `json:"skip_ripples,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Tick            uint64        `json:"tick"`
	SessionParams   SessionParams `json:"session_params"`
	Motifs          []string      `json:"motifs"`
}

type SessionParams struct {
	TickRateHz        int     `json:"tick_rate_hz"`
	EvalIntervalTicks int     `json:"eval_interval_ticks"`
	EvalJitterTicks   int     `json:"eval_jitter_ticks"`
	MaxSpeedKmh       float64 `json:"max_speed_kmh"`
	Seed              int64   `json:"seed"`
}
