package dsp

// DelayLine is a fixed, feedback-free mono delay.
type DelayLine struct {
	buf []float64
	pos int
}

// NewDelayLine creates a delay of the given number of samples. A delay of
// zero samples passes input straight through.
func NewDelayLine(samples int) *DelayLine {
	if samples < 0 {
		samples = 0
	}
	return &DelayLine{buf: make([]float64, samples)}
}

// DelaySamples converts seconds to a whole number of samples.
func DelaySamples(seconds float64, sampleRate int) int {
	n := int(seconds*float64(sampleRate) + 0.5)
	if n < 0 {
		return 0
	}
	return n
}

func (d *DelayLine) Len() int { return len(d.buf) }

func (d *DelayLine) Process(x float64) float64 {
	if len(d.buf) == 0 {
		return x
	}
	out := d.buf[d.pos]
	d.buf[d.pos] = x
	d.pos++
	if d.pos >= len(d.buf) {
		d.pos = 0
	}
	return out
}

func (d *DelayLine) Reset() {
	for i := range d.buf {
		d.buf[i] = 0
	}
	d.pos = 0
}
