package dsp

import "math"

type Shape int

const (
	ShapeSine Shape = iota
	ShapeSaw
	ShapeSquare
	ShapeTriangle
)

// Oscillator is a phase accumulator. Saw and square are band-limited with
// polyBLEP; the frequency may change every sample.
type Oscillator struct {
	shape Shape
	phase float64
}

func NewOscillator(shape Shape) *Oscillator {
	return &Oscillator{shape: shape}
}

func (o *Oscillator) Shape() Shape { return o.shape }

// Next returns the current sample and advances the phase by freq/sampleRate.
func (o *Oscillator) Next(freq, sampleRate float64) float64 {
	dt := freq / sampleRate
	if dt < 0 {
		dt = -dt
	}
	var out float64
	switch o.shape {
	case ShapeSaw:
		out = 2*o.phase - 1
		out -= polyBLEP(o.phase, dt)
	case ShapeSquare:
		out = -1.0
		if o.phase < 0.5 {
			out = 1
		}
		out += polyBLEP(o.phase, dt)
		out -= polyBLEP(math.Mod(o.phase+0.5, 1), dt)
	case ShapeTriangle:
		out = 1 - 4*math.Abs(o.phase-0.5)
	default:
		out = math.Sin(2 * math.Pi * o.phase)
	}
	o.phase += dt
	for o.phase >= 1 {
		o.phase -= 1
	}
	return out
}

func (o *Oscillator) Reset() { o.phase = 0 }

// polyBLEP reduces aliasing at waveform discontinuities.
// t is the phase position [0,1), dt is the phase increment per sample.
func polyBLEP(t, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}
