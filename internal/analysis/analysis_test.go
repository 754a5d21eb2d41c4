package analysis

import (
	"math"
	"testing"
)

func sine(freq float64, sr, n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr))
	}
	return out
}

func TestDominantFrequency(t *testing.T) {
	for _, freq := range []float64{261, 329, 440, 698} {
		got := DominantFrequency(sine(freq, 8000, 4000, 0.8), 8000)
		if math.Abs(got-freq) > 1 {
			t.Errorf("DominantFrequency(%v Hz sine) = %v", freq, got)
		}
	}
}

func TestDominantFrequencySilence(t *testing.T) {
	if got := DominantFrequency(make([]float64, 1024), 8000); got != 0 {
		t.Fatalf("silence = %v, want 0", got)
	}
	if got := DominantFrequency([]float64{1, 2}, 8000); got != 0 {
		t.Fatalf("short input = %v, want 0", got)
	}
}

func TestRMSAndPeak(t *testing.T) {
	x := sine(100, 8000, 8000, 0.5)
	if got, want := RMS(x), 0.5/math.Sqrt2; math.Abs(got-want) > 1e-3 {
		t.Fatalf("RMS = %v, want %v", got, want)
	}
	if got := Peak(x); math.Abs(got-0.5) > 1e-3 {
		t.Fatalf("Peak = %v, want 0.5", got)
	}
	if RMS(nil) != 0 {
		t.Fatalf("RMS(nil) != 0")
	}
}

func TestSegment(t *testing.T) {
	stereo := make([]float32, 2*100)
	for i := 0; i < 100; i++ {
		stereo[i*2] = float32(i)
		stereo[i*2+1] = float32(i)
	}
	got := Segment(stereo, 100, 0.25, 0.5)
	if len(got) != 25 || got[0] != 25 || got[24] != 49 {
		t.Fatalf("segment = %v", got)
	}
	if got := Segment(stereo, 100, 0.9, 5); len(got) != 10 {
		t.Fatalf("clamped segment length = %d, want 10", len(got))
	}
	if got := Segment(stereo, 100, 0.5, 0.1); len(got) != 0 {
		t.Fatalf("reversed segment length = %d, want 0", len(got))
	}
}
