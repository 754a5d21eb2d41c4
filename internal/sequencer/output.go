package sequencer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cbegin/synthseq-go/internal/graph"
)

// Clock is the output's sample clock. Step times are absolute positions on
// it, so waiting never accumulates drift.
type Clock interface {
	// Now is the current render position in seconds.
	Now() float64
	// WaitUntil blocks until Now() >= t or ctx is done.
	WaitUntil(ctx context.Context, t float64) error
}

// Output is an audio output context shared by every note of a session.
type Output interface {
	Context() *graph.Context
	Clock() Clock
	// Ready blocks until the output is consuming samples.
	Ready(ctx context.Context) error
	Close() error
}

// OutputFactory creates the output lazily on the first play request.
type OutputFactory func() (Output, error)

// pollInterval bounds how late a device clock wakes up after its target.
const pollInterval = 2 * time.Millisecond

type sampleClock struct {
	g *graph.Context
}

// NewSampleClock returns a Clock that follows a graph rendered by someone
// else, typically an audio device pulling samples.
func NewSampleClock(g *graph.Context) Clock {
	return sampleClock{g: g}
}

func (c sampleClock) Now() float64 { return c.g.CurrentTime() }

func (c sampleClock) WaitUntil(ctx context.Context, t float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := t - c.g.CurrentTime()
		if remaining <= 0 {
			return nil
		}
		d := time.Duration(remaining * float64(time.Second))
		if d > pollInterval {
			d = pollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// OfflineOutput renders its graph on demand: waiting for a time renders up
// to it. Playback against it is deterministic and runs faster than real time.
type OfflineOutput struct {
	mu      sync.Mutex
	g       *graph.Context
	capture bool
	samples []float32
	tap     func([]float32)
	buf     []float32
}

type OfflineOption func(*OfflineOutput)

// WithCapture keeps every rendered stereo frame for Samples.
func WithCapture() OfflineOption {
	return func(o *OfflineOutput) { o.capture = true }
}

// WithTap installs a callback invoked with each rendered stereo chunk.
func WithTap(tap func([]float32)) OfflineOption {
	return func(o *OfflineOutput) { o.tap = tap }
}

func NewOfflineOutput(sampleRate int, opts ...OfflineOption) (*OfflineOutput, error) {
	g, err := graph.NewContext(sampleRate)
	if err != nil {
		return nil, err
	}
	o := &OfflineOutput{g: g}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *OfflineOutput) Context() *graph.Context { return o.g }

func (o *OfflineOutput) Clock() Clock { return o }

func (o *OfflineOutput) Ready(ctx context.Context) error { return ctx.Err() }

func (o *OfflineOutput) Close() error { return o.g.Close() }

func (o *OfflineOutput) Now() float64 { return o.g.CurrentTime() }

// WaitUntil renders up to t in render-quantum sized chunks, checking ctx
// between chunks.
func (o *OfflineOutput) WaitUntil(ctx context.Context, t float64) error {
	target := int64(math.Ceil(t*float64(o.g.SampleRate()) - 1e-9))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := target - o.g.Frame()
		if n <= 0 {
			return nil
		}
		if n > 8*graph.RenderQuantum {
			n = 8 * graph.RenderQuantum
		}
		o.Advance(int(n))
	}
}

// Advance renders frames unconditionally, e.g. to let release tails finish
// after playback stopped.
func (o *OfflineOutput) Advance(frames int) {
	if frames <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if cap(o.buf) < frames*2 {
		o.buf = make([]float32, frames*2)
	}
	buf := o.buf[:frames*2]
	o.g.Process(buf)
	if o.capture {
		o.samples = append(o.samples, buf...)
	}
	if o.tap != nil {
		o.tap(buf)
	}
}

// Samples returns a copy of the captured interleaved stereo frames.
func (o *OfflineOutput) Samples() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float32, len(o.samples))
	copy(out, o.samples)
	return out
}
