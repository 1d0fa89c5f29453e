package threat

import "math"

// Vec3 is a world-space position in engine units.
// The evaluator only ever needs distances between positions.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func Distance(a, b Vec3) float64 {
	return a.Sub(b).Magnitude()
}

// Inputs is rebuilt from world state for every evaluation.
// A nil optional position contributes a proximity score of exactly 0.
type Inputs struct {
	SelfPos        Vec3
	RivalPos       *Vec3
	PursuerPos     *Vec3 // last known pursuer position
	SpeedKmh       float64
	DamageFraction float64 // expected in [0,1]; clamped, not rejected
}

// Weights is load-time configuration, immutable per evaluator.
// Weights are not required to sum to 1; the composite is clamped instead.
type Weights struct {
	Rival       float64 `yaml:"rival"`
	Pursuer     float64 `yaml:"pursuer"`
	Speed       float64 `yaml:"speed"`
	Damage      float64 `yaml:"damage"`
	MaxSpeedKmh float64 `yaml:"max_speed_kmh"`
}

func (w *Weights) ApplyDefaults() {
	if w.Rival == 0 && w.Pursuer == 0 && w.Speed == 0 && w.Damage == 0 {
		w.Rival = 0.45
		w.Pursuer = 0.35
		w.Speed = 0.15
		w.Damage = 0.05
	}
	if w.MaxSpeedKmh <= 0 {
		w.MaxSpeedKmh = 220
	}
}

type Result struct {
	ThreatLevel    float64 // [0,1]
	SpeedKmh       float64 // pass-through, unclamped
	MotifIntensity float64 // clamp(0.4 + 0.6*threat, 0, 1)
}

// Evaluate computes the normalized threat score. Pure function: no state,
// no side effects. Out-of-range inputs degrade by clamping rather than
// erroring; non-finite inputs are not guarded (caller resolves entities
// and units before calling in).
func Evaluate(in Inputs, w Weights) Result {
	rivalProx := proximity(in.SelfPos, in.RivalPos)
	pursuerProx := proximity(in.SelfPos, in.PursuerPos)

	maxSpeed := w.MaxSpeedKmh
	if maxSpeed <= 0 {
		maxSpeed = 220
	}
	speedRisk := clamp01(in.SpeedKmh / maxSpeed)
	damageRisk := clamp01(in.DamageFraction)

	level := clamp01(w.Rival*rivalProx +
		w.Pursuer*pursuerProx +
		w.Speed*speedRisk +
		w.Damage*damageRisk)

	return Result{
		ThreatLevel:    level,
		SpeedKmh:       in.SpeedKmh,
		MotifIntensity: clamp01(0.4 + level*0.6),
	}
}

// proximity is inverse distance saturating at 1 for distances <= 1 unit.
// max(1, d) caps the score and avoids the singularity at zero distance.
func proximity(self Vec3, other *Vec3) float64 {
	if other == nil {
		return 0
	}
	return 1 / math.Max(1, Distance(self, *other))
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
