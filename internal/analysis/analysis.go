// Package analysis measures rendered audio: level and dominant pitch.
package analysis

import (
	"math"
	"math/cmplx"

	"github.com/maddyblue/go-dsp/fft"
	"github.com/maddyblue/go-dsp/window"
)

// Mono takes the left channel of interleaved stereo. Output is mirrored, so
// no information is lost.
func Mono(stereo []float32) []float64 {
	out := make([]float64, len(stereo)/2)
	for i := range out {
		out[i] = float64(stereo[i*2])
	}
	return out
}

// Segment slices interleaved stereo between two times and returns it as mono.
func Segment(stereo []float32, sampleRate int, from, to float64) []float64 {
	frames := len(stereo) / 2
	a := clampFrame(int(math.Round(from*float64(sampleRate))), frames)
	b := clampFrame(int(math.Round(to*float64(sampleRate))), frames)
	if b < a {
		b = a
	}
	return Mono(stereo[a*2 : b*2])
}

func clampFrame(f, frames int) int {
	if f < 0 {
		return 0
	}
	if f > frames {
		return frames
	}
	return f
}

func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func Peak(x []float64) float64 {
	var p float64
	for _, v := range x {
		if a := math.Abs(v); a > p {
			p = a
		}
	}
	return p
}

// DominantFrequency returns the strongest frequency in x, in Hz, using a
// Hann-windowed FFT with quadratic interpolation around the peak bin. It
// returns 0 for silence or fewer than 4 samples.
func DominantFrequency(x []float64, sampleRate int) float64 {
	n := len(x)
	if n < 4 || sampleRate <= 0 {
		return 0
	}
	buf := make([]float64, n)
	copy(buf, x)
	window.Apply(buf, window.Hann)
	bins := fft.FFTReal(buf)

	mags := make([]float64, n/2+1)
	best := 0
	for k := 1; k < len(mags); k++ {
		mags[k] = cmplx.Abs(bins[k])
		if mags[k] > mags[best] {
			best = k
		}
	}
	if best == 0 || mags[best] == 0 {
		return 0
	}
	bin := float64(best)
	if best > 1 && best < len(mags)-1 {
		a, b, c := logMag(mags[best-1]), logMag(mags[best]), logMag(mags[best+1])
		if d := a - 2*b + c; d != 0 {
			bin += 0.5 * (a - c) / d
		}
	}
	return bin * float64(sampleRate) / float64(n)
}

func logMag(m float64) float64 {
	return math.Log(m + 1e-12)
}
