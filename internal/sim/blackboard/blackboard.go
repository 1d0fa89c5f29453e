package blackboard

import "sort"

// Well-known slots written by the threat evaluation pass.
const (
	KeyThreatLevel    = "threat_level"
	KeySpeedKmh       = "speed_kmh"
	KeyMotifIntensity = "motif_intensity"
)

// Board is a named-slot float store shared between the AI pass and its
// consumers. Owned by the session loop goroutine; no locking.
type Board struct {
	slots map[string]float64
}

func New() *Board {
	return &Board{slots: map[string]float64{}}
}

func (b *Board) Set(key string, v float64) {
	b.slots[key] = v
}

func (b *Board) Get(key string) (float64, bool) {
	v, ok := b.slots[key]
	return v, ok
}

// GetOr returns the slot value or def when the slot was never written.
func (b *Board) GetOr(key string, def float64) float64 {
	if v, ok := b.slots[key]; ok {
		return v
	}
	return def
}

type Slot struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Snapshot returns all slots sorted by key for digests and persistence.
func (b *Board) Snapshot() []Slot {
	out := make([]Slot, 0, len(b.slots))
	for k, v := range b.slots {
		out = append(out, Slot{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore replaces the board contents from a snapshot.
func (b *Board) Restore(slots []Slot) {
	b.slots = make(map[string]float64, len(slots))
	for _, s := range slots {
		b.slots[s.Key] = s.Value
	}
}
