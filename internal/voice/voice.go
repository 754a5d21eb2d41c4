// Package voice builds the per-note signal graph:
//
//	oscillator -> [lowpass] -> gain -> [waveshaper] -> destination
//	                            \-> [delay] -> destination
//
// Every node is owned by one note for its trigger-to-teardown lifetime and
// is released exactly once, on schedule or when forced.
package voice

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cbegin/synthseq-go/internal/envelope"
	"github.com/cbegin/synthseq-go/internal/graph"
	"github.com/cbegin/synthseq-go/internal/pattern"
	"github.com/cbegin/synthseq-go/internal/pitch"
)

// Trigger describes one note onset.
type Trigger struct {
	Note  pattern.Note
	Synth pattern.SynthConfig // normalized
	At    float64             // onset on the context clock, seconds
	Glide float64             // previous note's frequency; 0 = none
}

// Handle is the live graph of one note.
type Handle struct {
	ctx        *graph.Context
	Note       pattern.Note
	Frequency  float64
	Onset      float64
	Plan       envelope.Plan
	Oscillator *graph.OscillatorNode
	Filter     *graph.LowpassNode
	Gain       *graph.GainNode
	Shaper     *graph.WaveShaperNode
	Delay      *graph.DelayNode

	once  sync.Once
	nodes []graph.Node
}

func oscillatorType(w pattern.Waveform) graph.OscillatorType {
	switch w {
	case pattern.Saw:
		return graph.OscSawtooth
	case pattern.Square:
		return graph.OscSquare
	case pattern.Triangle:
		return graph.OscTriangle
	default:
		return graph.OscSine
	}
}

// Build constructs and schedules the graph for one note. On error nothing
// built for the note stays connected.
func Build(ctx *graph.Context, tr Trigger) (*Handle, error) {
	if ctx == nil {
		return nil, errors.New("voice: nil context")
	}
	now := ctx.CurrentTime()
	at := tr.At
	if at < now {
		at = now
	}
	plan := envelope.NewPlan(tr.Note, tr.Synth)
	h := &Handle{
		ctx:       ctx,
		Note:      tr.Note,
		Frequency: pitch.Resolve(tr.Note.Pitch),
		Onset:     at,
		Plan:      plan,
	}

	h.Oscillator = ctx.NewOscillator(oscillatorType(tr.Synth.Waveform))
	h.nodes = append(h.nodes, h.Oscillator)
	h.Gain = ctx.NewGain()
	h.nodes = append(h.nodes, h.Gain)
	if tr.Synth.HasFilter() {
		h.Filter = ctx.NewLowpass(tr.Synth.FilterCutoffHz)
		h.nodes = append(h.nodes, h.Filter)
	}
	if tr.Synth.WaveshaperEnabled {
		h.Shaper = ctx.NewWaveShaper(tr.Synth.WaveshaperCurve)
		h.nodes = append(h.nodes, h.Shaper)
	}
	if plan.DelayTime > 0 {
		h.Delay = ctx.NewDelay(plan.DelayTime)
		h.nodes = append(h.nodes, h.Delay)
	}

	if err := h.schedule(tr.Glide); err != nil {
		h.Release()
		return nil, err
	}
	if err := h.wire(); err != nil {
		h.Release()
		return nil, err
	}
	ctx.ReleaseAt(at+plan.TeardownAt(), h.nodes...)
	return h, nil
}

func (h *Handle) schedule(glideFrom float64) error {
	at, plan := h.Onset, h.Plan

	freq := h.Oscillator.Frequency
	if plan.GlideDuration > 0 {
		from := glideFrom
		if from <= 0 {
			from = graph.DefaultFrequency
		}
		freq.SetValueAtTime(from, at)
		freq.LinearRampToValueAtTime(h.Frequency, at+plan.GlideDuration)
	} else {
		freq.SetValueAtTime(h.Frequency, at)
	}

	gain := h.Gain.Gain
	gain.SetValueAtTime(0, 0)
	if plan.Shaped {
		attack, _ := plan.At(envelope.AttackEnd)
		gain.SetValueAtTime(envelope.Floor, at)
		gain.LinearRampToValueAtTime(plan.Gain, at+attack)
	} else {
		gain.SetValueAtTime(plan.Gain, at)
	}
	off := at + plan.NoteDuration
	end, _ := plan.At(envelope.ReleaseEnd)
	if plan.Gain > envelope.Floor {
		gain.SetValueAtTime(plan.Gain, off)
		if err := gain.ExponentialRampToValueAtTime(envelope.Floor, at+end); err != nil {
			return errors.Wrap(err, "voice: release ramp")
		}
	}

	if err := h.Oscillator.Start(at); err != nil {
		return errors.Wrap(err, "voice: start oscillator")
	}
	h.Oscillator.Stop(at + plan.TeardownAt())
	return nil
}

// wire connects the chain, attaching to the shared destination last so the
// renderer never sees a partial graph.
func (h *Handle) wire() error {
	dest := h.ctx.Destination()
	var prev graph.Node = h.Oscillator
	if h.Filter != nil {
		if err := prev.Connect(h.Filter); err != nil {
			return errors.Wrap(err, "voice: connect filter")
		}
		prev = h.Filter
	}
	if err := prev.Connect(h.Gain); err != nil {
		return errors.Wrap(err, "voice: connect gain")
	}
	prev = h.Gain
	if h.Shaper != nil {
		if err := prev.Connect(h.Shaper); err != nil {
			return errors.Wrap(err, "voice: connect waveshaper")
		}
		prev = h.Shaper
	}
	if h.Delay != nil {
		if err := h.Gain.Connect(h.Delay); err != nil {
			return errors.Wrap(err, "voice: connect delay")
		}
		if err := h.Delay.Connect(dest); err != nil {
			return errors.Wrap(err, "voice: connect delay output")
		}
	}
	if err := prev.Connect(dest); err != nil {
		return errors.Wrap(err, "voice: connect output")
	}
	return nil
}

// Nodes lists every node owned by the note.
func (h *Handle) Nodes() []graph.Node {
	out := make([]graph.Node, len(h.nodes))
	copy(out, h.nodes)
	return out
}

// TeardownAt is the context time at which the note's nodes are released.
func (h *Handle) TeardownAt() float64 {
	return h.Onset + h.Plan.TeardownAt()
}

// Done reports whether every node of the note has been released.
func (h *Handle) Done() bool {
	for _, n := range h.nodes {
		if !n.Released() {
			return false
		}
	}
	return true
}

// Release disconnects the note immediately. It is safe to call more than once
// and after the scheduled teardown.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.ctx.ReleaseNow(h.nodes...)
	})
}
