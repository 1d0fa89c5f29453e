package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"soulvan.game/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	telemetrySchema := compile("telemetry.schema.json")
	stateSchema := compile("state.schema.json")
	walletOpSchema := compile("wallet_op.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "vehicle_name":"van1",
	  "auth":{"token":"resume_s1_42"}
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "vehicle_id":"V1",
	  "resume_token":"resume_s1_43",
	  "session_params":{
	    "tick_rate_hz":20,
	    "eval_interval_ticks":10,
	    "eval_jitter_ticks":2,
	    "max_speed_kmh":220,
	    "seed":1337
	  }
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var telemetry any
	_ = json.Unmarshal([]byte(`{
	  "type":"TELEMETRY",
	  "protocol_version":"1.0",
	  "pos":[0,0,0],
	  "rival_pos":[10,0,0],
	  "speed_kmh":110,
	  "damage_fraction":0.2
	}`), &telemetry)
	validate(telemetrySchema, telemetry)

	var walletOp any
	_ = json.Unmarshal([]byte(`{
	  "type":"WALLET_OP",
	  "protocol_version":"1.0",
	  "op":"SEND_TOKENS",
	  "to_address":"0xAB...CD",
	  "amount":25,
	  "max_fee":0.01
	}`), &walletOp)
	validate(walletOpSchema, walletOp)

	// STATE samples are produced by marshalling the real message type, so
	// the schema keeps tracking the Go structs.
	state := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            120,
		VehicleID:       "V1",
		ThreatLevel:     0.13,
		SpeedKmh:        110,
		MotifIntensity:  0.478,
		Presentation: protocol.PresentationMsg{
			Motif:     "STORM",
			Intensity: 0.478,
			Overlays: []protocol.OverlayMsg{
				{Motif: "STORM", Active: true, EmissionRate: 100.82},
				{Motif: "CALM", EmissionRate: 50.41},
				{Motif: "COSMIC", EmissionRate: 80.656},
				{Motif: "ORACLE", EmissionRate: 60.492},
			},
			TrackID:    "track_storm",
			StartTrack: true,
			Pitch:      1.012,
			Volume:     0.791,
		},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	var stateAny any
	_ = json.Unmarshal(raw, &stateAny)
	validate(stateSchema, stateAny)
}

func TestDecodeBase_RoutesByType(t *testing.T) {
	base, err := protocol.DecodeBase([]byte(`{"type":"TELEMETRY","protocol_version":"1.0"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if base.Type != protocol.TypeTelemetry || base.ProtocolVersion != protocol.Version {
		t.Fatalf("base = %+v", base)
	}
}

func TestIsKnownCode(t *testing.T) {
	for _, code := range []string{"", protocol.ErrRateLimit, protocol.ErrWalletLocked} {
		if !protocol.IsKnownCode(code) {
			t.Fatalf("code %q should be known", code)
		}
	}
	if protocol.IsKnownCode("E_MADE_UP") {
		t.Fatal("unknown code accepted")
	}
}
