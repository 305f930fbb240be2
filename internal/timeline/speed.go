package timeline

import "math"

// DefaultTolerance is the half-width of the band around 1.0 inside which a
// clip is used without time-stretching.
const DefaultTolerance = 0.20

const (
	minAtempo = 0.5
	maxAtempo = 2.0
)

// Sync is the speed decision for one synthesized clip.
type Sync struct {
	// Target is synthDuration / window.
	Target float64
	// Factor is the tempo multiplier to apply; 1 when the clip is used as-is.
	Factor float64
	// Stretch reports whether the clip must be time-stretched.
	Stretch bool
}

// EffectiveDuration returns the clip length after applying the decision.
func (s Sync) EffectiveDuration(synthDuration float64) float64 {
	if !s.Stretch || s.Factor <= 0 {
		return synthDuration
	}
	return synthDuration / s.Factor
}

// SpeedSync decides whether a clip of synthDuration seconds fits a window of
// window seconds. Inside [1-tolerance, 1+tolerance] the clip is left alone;
// outside it is sped up or slowed down by Target so its duration equals the
// window.
func SpeedSync(synthDuration, window, tolerance float64) Sync {
	if tolerance <= 0 || tolerance >= 1 {
		tolerance = DefaultTolerance
	}
	if window <= 0 || synthDuration <= 0 {
		return Sync{Target: 1, Factor: 1}
	}
	target := synthDuration / window
	// Compare with a little slack so exact band edges are treated as inside.
	const eps = 1e-9
	if target >= 1-tolerance-eps && target <= 1+tolerance+eps {
		return Sync{Target: target, Factor: 1}
	}
	return Sync{Target: target, Factor: target, Stretch: true}
}

// AtempoChain splits factor into ffmpeg atempo stages, each within the range
// the filter accepts.
func AtempoChain(factor float64) []float64 {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil
	}
	var chain []float64
	for factor > maxAtempo {
		chain = append(chain, maxAtempo)
		factor /= maxAtempo
	}
	for factor < minAtempo {
		chain = append(chain, minAtempo)
		factor /= minAtempo
	}
	return append(chain, factor)
}
