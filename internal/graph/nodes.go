package graph

import "github.com/cbegin/synthseq-go/internal/dsp"

// OscillatorType names a periodic waveform.
type OscillatorType string

const (
	OscSine     OscillatorType = "sine"
	OscSawtooth OscillatorType = "sawtooth"
	OscSquare   OscillatorType = "square"
	OscTriangle OscillatorType = "triangle"
)

func (t OscillatorType) shape() dsp.Shape {
	switch t {
	case OscSawtooth:
		return dsp.ShapeSaw
	case OscSquare:
		return dsp.ShapeSquare
	case OscTriangle:
		return dsp.ShapeTriangle
	default:
		return dsp.ShapeSine
	}
}

// DefaultFrequency is the initial oscillator frequency.
const DefaultFrequency = 440.0

// OscillatorNode produces silence until Start and after Stop.
type OscillatorNode struct {
	node
	Frequency  *Param
	typ        OscillatorType
	osc        *dsp.Oscillator
	startFrame int64
	stopFrame  int64
}

func (c *Context) NewOscillator(typ OscillatorType) *OscillatorNode {
	o := &OscillatorNode{
		Frequency:  newParam(c, DefaultFrequency),
		typ:        typ,
		osc:        dsp.NewOscillator(typ.shape()),
		startFrame: -1,
		stopFrame:  -1,
	}
	o.init(c, o, "oscillator", o.process)
	o.source = true
	c.register(&o.node)
	return o
}

func (o *OscillatorNode) Type() OscillatorType { return o.typ }

// Start schedules the oscillator at t seconds. Past times start immediately.
func (o *OscillatorNode) Start(t float64) error {
	c := o.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.released {
		return ErrReleased
	}
	if o.startFrame >= 0 {
		return ErrStarted
	}
	f := c.frameAt(t)
	if f < c.frame {
		f = c.frame
	}
	o.startFrame = f
	return nil
}

// Stop schedules silence from t seconds.
func (o *OscillatorNode) Stop(t float64) {
	c := o.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frameAt(t)
	if f < c.frame {
		f = c.frame
	}
	o.stopFrame = f
}

func (o *OscillatorNode) process(_, out []float64, start int64) {
	freq := o.Frequency.fill(len(out), start)
	sr := float64(o.ctx.sampleRate)
	for i := range out {
		f := start + int64(i)
		if o.startFrame < 0 || f < o.startFrame || (o.stopFrame >= 0 && f >= o.stopFrame) {
			out[i] = 0
			continue
		}
		out[i] = o.osc.Next(freq[i], sr)
	}
}

// GainNode scales its input by Gain.
type GainNode struct {
	node
	Gain *Param
}

func (c *Context) NewGain() *GainNode {
	g := &GainNode{Gain: newParam(c, 1)}
	g.init(c, g, "gain", g.process)
	c.register(&g.node)
	return g
}

func (g *GainNode) process(in, out []float64, start int64) {
	gain := g.Gain.fill(len(out), start)
	for i := range out {
		out[i] = in[i] * gain[i]
	}
}

// LowpassNode is a biquad low-pass filter. Frequency is read once per render
// quantum.
type LowpassNode struct {
	node
	Frequency *Param
	lp        *dsp.Lowpass
}

func (c *Context) NewLowpass(cutoffHz float64) *LowpassNode {
	f := &LowpassNode{
		Frequency: newParam(c, cutoffHz),
		lp:        dsp.NewLowpass(cutoffHz, c.sampleRate),
	}
	f.init(c, f, "lowpass", f.process)
	c.register(&f.node)
	return f
}

func (f *LowpassNode) process(in, out []float64, start int64) {
	f.lp.SetCutoff(f.Frequency.valueAt(f.ctx.timeAt(start)))
	for i := range out {
		out[i] = f.lp.Process(in[i])
	}
}

// WaveShaperNode applies a fixed transfer curve.
type WaveShaperNode struct {
	node
	shaper *dsp.Shaper
}

func (c *Context) NewWaveShaper(curve []float64) *WaveShaperNode {
	w := &WaveShaperNode{shaper: dsp.NewShaper(curve)}
	w.init(c, w, "waveshaper", w.process)
	c.register(&w.node)
	return w
}

func (w *WaveShaperNode) Curve() []float64 { return w.shaper.Curve() }

func (w *WaveShaperNode) process(in, out []float64, _ int64) {
	for i := range out {
		out[i] = w.shaper.Process(in[i])
	}
}

// DelayNode is a fixed, feedback-free delay line.
type DelayNode struct {
	node
	delayTime float64
	line      *dsp.DelayLine
}

func (c *Context) NewDelay(seconds float64) *DelayNode {
	if seconds < 0 {
		seconds = 0
	}
	d := &DelayNode{
		delayTime: seconds,
		line:      dsp.NewDelayLine(dsp.DelaySamples(seconds, c.sampleRate)),
	}
	d.init(c, d, "delay", d.process)
	c.register(&d.node)
	return d
}

func (d *DelayNode) DelayTime() float64 { return d.delayTime }

func (d *DelayNode) process(in, out []float64, _ int64) {
	for i := range out {
		out[i] = d.line.Process(in[i])
	}
}

// Destination sums everything connected to it. It is never released.
type Destination struct {
	node
}

func (d *Destination) process(in, out []float64, _ int64) {
	copy(out, in)
}

// Inputs reports how many nodes feed the destination.
func (d *Destination) Inputs() int {
	d.ctx.mu.Lock()
	defer d.ctx.mu.Unlock()
	return len(d.inputs)
}
