package motif

import "fmt"

// Motif is one of four mutually exclusive presentation modes.
type Motif string

const (
	Storm  Motif = "STORM"
	Calm   Motif = "CALM"
	Cosmic Motif = "COSMIC"
	Oracle Motif = "ORACLE"
)

// All lists the closed motif set in stable order.
var All = []Motif{Storm, Calm, Cosmic, Oracle}

// params is the per-motif configuration record. One table drives both the
// overlay emission scaling and the track choice; extending the motif set
// means extending this table, not N switch sites.
type params struct {
	EmissionScale float64
	TrackID       string
}

var table = map[Motif]params{
	Storm:  {EmissionScale: 1.0, TrackID: "track_storm"},
	Calm:   {EmissionScale: 0.5, TrackID: "track_calm"},
	Cosmic: {EmissionScale: 0.8, TrackID: "track_cosmic"},
	Oracle: {EmissionScale: 0.6, TrackID: "track_oracle"},
}

// Overlay is one of the four simultaneously-existing effect channels.
// Exactly one is active per presentation; inactive channels still carry a
// computed emission rate.
type Overlay struct {
	Motif        Motif   `json:"motif"`
	Active       bool    `json:"active"`
	EmissionRate float64 `json:"emission_rate"`
}

// Presentation is the full visual/audio parameter set derived from
// (motif, intensity). Every SetMotif call yields a fresh one.
type Presentation struct {
	Motif     Motif     `json:"motif"`
	Intensity float64   `json:"intensity"`
	Overlays  []Overlay `json:"overlays"`

	TrackID    string  `json:"track_id"`
	StartTrack bool    `json:"start_track"` // false when the track is already playing
	Pitch      float64 `json:"pitch"`
	Volume     float64 `json:"volume"`
}

// Selector owns the active motif state. Single game-logic goroutine only;
// no internal locking.
type Selector struct {
	current   Motif
	intensity float64

	playingTrack string

	// onTrackStart, when set, is invoked once per actual track swap.
	onTrackStart func(trackID string)
}

func NewSelector() *Selector {
	return &Selector{current: Storm, intensity: 0.5}
}

func (s *Selector) Current() (Motif, float64) { return s.current, s.intensity }

// PlayingTrack reports the track id last started, or "" before any start.
func (s *Selector) PlayingTrack() string { return s.playingTrack }

// Restore rebuilds selector state from a snapshot without signaling a
// track start.
func (s *Selector) Restore(m Motif, intensity float64, playingTrack string) {
	s.current = m
	s.intensity = clamp01(intensity)
	s.playingTrack = playingTrack
}

// OnTrackStart registers the presentation collaborator's track-start hook.
func (s *Selector) OnTrackStart(fn func(trackID string)) { s.onTrackStart = fn }

// SetMotif stores the new motif with intensity clamped to [0,1] and returns
// the recomputed presentation. No-op calls are not special-cased: the full
// parameter set is recomputed every time, but a track start is only signaled
// when the selected track id differs from the one already playing.
func (s *Selector) SetMotif(m Motif, intensity float64) (Presentation, error) {
	p, ok := table[m]
	if !ok {
		return Presentation{}, fmt.Errorf("motif %q not in presentation table", m)
	}

	s.current = m
	s.intensity = clamp01(intensity)

	base := lerp(10, 200, s.intensity)
	overlays := make([]Overlay, 0, len(All))
	for _, kind := range All {
		overlays = append(overlays, Overlay{
			Motif:        kind,
			Active:       kind == m,
			EmissionRate: base * table[kind].EmissionScale,
		})
	}

	start := p.TrackID != s.playingTrack
	if start {
		s.playingTrack = p.TrackID
		if s.onTrackStart != nil {
			s.onTrackStart(p.TrackID)
		}
	}

	return Presentation{
		Motif:      m,
		Intensity:  s.intensity,
		Overlays:   overlays,
		TrackID:    p.TrackID,
		StartTrack: start,
		Pitch:      lerp(0.95, 1.08, s.intensity),
		Volume:     lerp(0.6, 1.0, s.intensity),
	}, nil
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
