package synthseq

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/wav"

	"github.com/cbegin/synthseq-go/internal/analysis"
	intpat "github.com/cbegin/synthseq-go/internal/pattern"
)

func twoNotes() *intpat.Pattern {
	return intpat.Of(intpat.NewNote("C4", 100, 50), intpat.NewNote("E4", 80, 100))
}

func assertPitch(t *testing.T, samples []float32, from, to, want float64) {
	t.Helper()
	got := analysis.DominantFrequency(analysis.Segment(samples, testRate, from, to), testRate)
	if math.Abs(got-want) > 3 {
		t.Errorf("pitch in [%v,%v) = %.1f Hz, want %v", from, to, got, want)
	}
}

func TestRenderSamplesPitches(t *testing.T) {
	samples, err := RenderSamples(twoNotes(), intpat.SynthConfig{TempoBPM: 120}, testRate, 1.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := len(samples), int(1.5*testRate)*2; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
	assertPitch(t, samples, 0.02, 0.24, 261)
	assertPitch(t, samples, 0.52, 0.98, 329)

	if peak := analysis.Peak(analysis.Segment(samples, testRate, 1.2, 1.5)); peak > 1e-4 {
		t.Fatalf("tail after release should be silent, peak %v", peak)
	}
	if peak := analysis.Peak(analysis.Segment(samples, testRate, 0.31, 0.45)); peak > 1e-4 {
		t.Fatalf("gap between notes should be silent, peak %v", peak)
	}
}

func TestRenderSamplesVelocityScalesLevel(t *testing.T) {
	samples, err := RenderSamples(twoNotes(), intpat.SynthConfig{TempoBPM: 120}, testRate, 1)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	loud := analysis.Peak(analysis.Segment(samples, testRate, 0.05, 0.2))
	soft := analysis.Peak(analysis.Segment(samples, testRate, 0.55, 0.9))
	if math.Abs(soft/loud-0.8) > 0.02 {
		t.Fatalf("level ratio = %v, want 0.8", soft/loud)
	}
}

func TestRenderLoopRepeats(t *testing.T) {
	p := intpat.Of(intpat.NewNote("C4", 100, 50))
	samples, err := RenderLoop(p, intpat.SynthConfig{TempoBPM: 120}, testRate, 2)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got, want := len(samples), 2*testRate*2; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
	for _, start := range []float64{0, 0.5, 1, 1.5} {
		assertPitch(t, samples, start+0.02, start+0.24, 261)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	if _, err := RenderSamples(twoNotes(), intpat.SynthConfig{}, 0, 1); err == nil {
		t.Fatalf("expected error for sample rate 0")
	}
	samples, err := RenderSamples(twoNotes(), intpat.SynthConfig{}, testRate, 0)
	if err != nil || len(samples) != 0 {
		t.Fatalf("zero seconds = %d samples, %v", len(samples), err)
	}
}

func TestPreviewMelody(t *testing.T) {
	p := intpat.Of(
		intpat.NewNote("C4", 100, 100),
		intpat.NewNote("D4", 100, 0),
		intpat.NewNote("E4", 100, 50),
	)
	samples, err := PreviewMelody(p, 120, testRate)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if got, want := len(samples), int(0.75*testRate)*2; got != want {
		t.Fatalf("len = %d, want %d", got, want)
	}
	assertPitch(t, samples, 0.05, 0.45, 261)
	assertPitch(t, samples, 0.55, 0.72, 329)
}

func TestWriteWAV(t *testing.T) {
	samples, err := RenderSamples(twoNotes(), intpat.SynthConfig{TempoBPM: 120}, testRate, 0.5)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteWAV(f, samples, testRate); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header")
	}
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	defer s.Close()
	if int(format.SampleRate) != testRate || format.NumChannels != 2 || format.Precision != 2 {
		t.Fatalf("format = %+v", format)
	}
	if got := s.Len(); got != len(samples)/2 {
		t.Fatalf("frames = %d, want %d", got, len(samples)/2)
	}
}
