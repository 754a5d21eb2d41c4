package synthseq

import (
	"context"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/pkg/errors"

	intenv "github.com/cbegin/synthseq-go/internal/envelope"
	intgraph "github.com/cbegin/synthseq-go/internal/graph"
	intpat "github.com/cbegin/synthseq-go/internal/pattern"
	intpitch "github.com/cbegin/synthseq-go/internal/pitch"
	intseq "github.com/cbegin/synthseq-go/internal/sequencer"
)

// RenderSamples plays p once with cfg and returns exactly seconds of
// interleaved stereo audio. Playback that ends early is followed by its
// release tails and then silence.
func RenderSamples(p *intpat.Pattern, cfg intpat.SynthConfig, sampleRate int, seconds float64) ([]float32, error) {
	return render(p, cfg, sampleRate, seconds, false)
}

// RenderLoop is RenderSamples with the pattern repeating until seconds
// have been rendered.
func RenderLoop(p *intpat.Pattern, cfg intpat.SynthConfig, sampleRate int, seconds float64) ([]float32, error) {
	return render(p, cfg, sampleRate, seconds, true)
}

func render(p *intpat.Pattern, cfg intpat.SynthConfig, sampleRate int, seconds float64, loop bool) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	frames := int(float64(sampleRate) * seconds)
	if frames <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rendered := 0
	out, err := intseq.NewOfflineOutput(sampleRate, intseq.WithCapture(), intseq.WithTap(func(buf []float32) {
		rendered += len(buf) / 2
		if rendered >= frames {
			cancel()
		}
	}))
	if err != nil {
		return nil, err
	}
	sched := intseq.New(func() (intseq.Output, error) { return out, nil }, intseq.Options{Loop: loop})
	defer sched.Close()
	sched.SetProgram(p, cfg)
	if err := sched.Play(ctx); err != nil {
		return nil, err
	}
	sched.Wait()
	if remaining := frames - int(out.Context().Frame()); remaining > 0 {
		out.Advance(remaining)
	}
	samples := out.Samples()
	return samples[:frames*2], nil
}

// PreviewMelody renders p with plain sine oscillators and no envelope. Each
// note lasts its gate fraction of a beat and starts when the previous one
// ends.
func PreviewMelody(p *intpat.Pattern, tempo float64, sampleRate int) ([]float32, error) {
	g, err := intgraph.NewContext(sampleRate)
	if err != nil {
		return nil, err
	}
	defer g.Close()
	beat := intenv.BeatDuration(tempo)

	start := 0.0
	for _, n := range p.Notes() {
		dur := float64(n.Gate) / 100 * beat
		if dur <= 0 {
			continue
		}
		osc := g.NewOscillator(intgraph.OscSine)
		osc.Frequency.SetValueAtTime(intpitch.Resolve(n.Pitch), start)
		if err := osc.Start(start); err != nil {
			return nil, err
		}
		osc.Stop(start + dur)
		if err := osc.Connect(g.Destination()); err != nil {
			return nil, err
		}
		g.ReleaseAt(start+dur, osc)
		start += dur
	}
	return g.Render(int(start * float64(sampleRate))), nil
}

// sampleStreamer streams interleaved stereo float32 samples.
type sampleStreamer struct {
	samples []float32
	pos     int
}

func (s *sampleStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos+1 < len(s.samples) {
		buf[n][0] = float64(s.samples[s.pos])
		buf[n][1] = float64(s.samples[s.pos+1])
		s.pos += 2
		n++
	}
	return n, true
}

func (s *sampleStreamer) Err() error { return nil }

// WriteWAV encodes interleaved stereo samples as 16-bit PCM WAV.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return errors.New("sampleRate must be positive")
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 2,
		Precision:   2,
	}
	if err := wav.Encode(w, &sampleStreamer{samples: samples}, format); err != nil {
		return errors.Wrap(err, "encode wav")
	}
	return nil
}
