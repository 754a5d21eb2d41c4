package dsp

import "math"

// Lowpass is a second-order Butterworth low-pass biquad (Q = 1/sqrt2).
type Lowpass struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
	sampleRate         float64
	cutoff             float64
}

func NewLowpass(cutoffHz float64, sampleRate int) *Lowpass {
	lp := &Lowpass{sampleRate: float64(sampleRate)}
	lp.SetCutoff(cutoffHz)
	return lp
}

// SetCutoff recomputes coefficients. The cutoff is clamped below Nyquist.
func (lp *Lowpass) SetCutoff(cutoffHz float64) {
	nyquist := lp.sampleRate / 2
	cutoffHz = math.Max(10, math.Min(cutoffHz, nyquist*0.99))
	if cutoffHz == lp.cutoff {
		return
	}
	lp.cutoff = cutoffHz

	wc := 2 * math.Pi * cutoffHz / lp.sampleRate
	cosw := math.Cos(wc)
	alpha := math.Sin(wc) / math.Sqrt2 // sin(wc) / 2Q

	a0 := 1 + alpha
	lp.b0 = (1 - cosw) / 2 / a0
	lp.b1 = (1 - cosw) / a0
	lp.b2 = (1 - cosw) / 2 / a0
	lp.a1 = -2 * cosw / a0
	lp.a2 = (1 - alpha) / a0
}

func (lp *Lowpass) Cutoff() float64 { return lp.cutoff }

func (lp *Lowpass) Process(x float64) float64 {
	y := lp.b0*x + lp.b1*lp.x1 + lp.b2*lp.x2 - lp.a1*lp.y1 - lp.a2*lp.y2
	lp.x2 = lp.x1
	lp.x1 = x
	lp.y2 = lp.y1
	lp.y1 = y
	return y
}

func (lp *Lowpass) Reset() {
	lp.x1, lp.x2, lp.y1, lp.y2 = 0, 0, 0, 0
}
