package pattern

import (
	"math"
	"strings"
)

type Waveform string

const (
	Sine     Waveform = "sine"
	Saw      Waveform = "saw"
	Square   Waveform = "square"
	Triangle Waveform = "triangle"
)

// ParseWaveform maps a document value to a Waveform. Empty or unknown
// values fall back to Sine.
func ParseWaveform(s string) Waveform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "saw", "sawtooth":
		return Saw
	case "square":
		return Square
	case "triangle":
		return Triangle
	default:
		return Sine
	}
}

const (
	DefaultTempo    = 120.0
	MaxFilterCutoff = 30000.0
	MaxCurveLength  = 10
	curveValueLimit = 1.0
)

// DefaultCurve is used when the waveshaper is enabled without a curve.
var DefaultCurve = []float64{0, 1, 0}

// SynthConfig holds the per-synth playback parameters.
type SynthConfig struct {
	TempoBPM          float64
	Waveform          Waveform
	FilterCutoffHz    float64 // 0 = no filter
	GlidePercent      int
	DelayPercent      int
	WaveshaperEnabled bool
	WaveshaperCurve   []float64
}

func DefaultSynthConfig() SynthConfig {
	return SynthConfig{TempoBPM: DefaultTempo, Waveform: Sine}
}

// Normalize substitutes safe defaults for missing or out-of-range values.
// The returned config owns its curve slice.
func (c SynthConfig) Normalize() SynthConfig {
	if c.TempoBPM <= 0 || math.IsNaN(c.TempoBPM) || math.IsInf(c.TempoBPM, 0) {
		c.TempoBPM = DefaultTempo
	}
	c.Waveform = ParseWaveform(string(c.Waveform))
	if c.FilterCutoffHz < 0 || math.IsNaN(c.FilterCutoffHz) {
		c.FilterCutoffHz = 0
	}
	if c.FilterCutoffHz > MaxFilterCutoff {
		c.FilterCutoffHz = MaxFilterCutoff
	}
	c.GlidePercent = clampInt(c.GlidePercent, 0, 100)
	c.DelayPercent = clampInt(c.DelayPercent, 0, 100)

	curve := c.WaveshaperCurve
	if len(curve) > MaxCurveLength {
		curve = curve[:MaxCurveLength]
	}
	if c.WaveshaperEnabled && len(curve) == 0 {
		curve = DefaultCurve
	}
	out := make([]float64, len(curve))
	for i, v := range curve {
		if math.IsNaN(v) {
			v = 0
		}
		out[i] = math.Max(-curveValueLimit, math.Min(curveValueLimit, v))
	}
	c.WaveshaperCurve = out
	return c
}

// HasFilter reports whether a low-pass stage should be inserted.
func (c SynthConfig) HasFilter() bool {
	return c.FilterCutoffHz > 0
}
