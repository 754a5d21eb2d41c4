package graph

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

type automation int

const (
	setValue automation = iota
	linearRamp
	exponentialRamp
)

type paramEvent struct {
	kind  automation
	time  float64
	value float64
}

// Param is an automatable value evaluated per sample. Events follow the
// familiar setValueAtTime / linearRamp / exponentialRamp model: a ramp runs
// from the previous event's time and value to its own.
type Param struct {
	ctx    *Context
	value  float64
	events []paramEvent
	buf    []float64
}

func newParam(c *Context, v float64) *Param {
	return &Param{ctx: c, value: v}
}

// SetValue sets the value immediately and cancels pending automation.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.value = v
	p.events = nil
}

// Value is the value at the context's current time.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.timeAt(p.ctx.frame))
}

func (p *Param) SetValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insert(paramEvent{setValue, t, v})
}

func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insertRamp(paramEvent{linearRamp, t, v})
}

// ExponentialRampToValueAtTime requires a strictly positive target.
func (p *Param) ExponentialRampToValueAtTime(v, t float64) error {
	if v <= 0 || math.IsNaN(v) {
		return errors.Errorf("graph: exponential ramp target must be positive, got %v", v)
	}
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.insertRamp(paramEvent{exponentialRamp, t, v})
	return nil
}

// CancelScheduledValues drops every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	p.events = p.events[:i]
}

// ValueAt evaluates the automation at t seconds.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

func (p *Param) insert(ev paramEvent) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > ev.time })
	p.events = append(p.events, paramEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

// insertRamp anchors a ramp that has no earlier event at the current value
// and time, so it starts where the parameter is now.
func (p *Param) insertRamp(ev paramEvent) {
	if len(p.events) == 0 || p.events[0].time > ev.time {
		now := p.ctx.timeAt(p.ctx.frame)
		if now > ev.time {
			now = ev.time
		}
		p.insert(paramEvent{setValue, now, p.valueAt(now)})
	}
	p.insert(ev)
}

func (p *Param) valueAt(t float64) float64 {
	if len(p.events) == 0 {
		return p.value
	}
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t }) - 1
	if i+1 < len(p.events) && p.events[i+1].kind != setValue && i >= 0 {
		prev, next := p.events[i], p.events[i+1]
		span := next.time - prev.time
		if span <= 0 {
			return next.value
		}
		frac := (t - prev.time) / span
		if next.kind == linearRamp {
			return prev.value + (next.value-prev.value)*frac
		}
		if prev.value*next.value <= 0 {
			return prev.value
		}
		return prev.value * math.Pow(next.value/prev.value, frac)
	}
	if i >= 0 {
		return p.events[i].value
	}
	return p.value
}

// fill writes per-sample values for frames starting at start. Events that
// can no longer affect output are dropped first.
func (p *Param) fill(frames int, start int64) []float64 {
	p.buf = grow(p.buf, frames)
	t0 := p.ctx.timeAt(start)
	p.compact(t0)
	if len(p.events) == 0 {
		for i := range p.buf {
			p.buf[i] = p.value
		}
		return p.buf
	}
	for i := range p.buf {
		p.buf[i] = p.valueAt(p.ctx.timeAt(start + int64(i)))
	}
	return p.buf
}

func (p *Param) compact(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t }) - 1
	if i <= 0 {
		return
	}
	p.events = p.events[i:]
	if len(p.events) == 1 {
		p.value = p.events[0].value
		p.events = nil
	}
}
