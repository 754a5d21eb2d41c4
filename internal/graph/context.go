// Package graph is a small pull-based audio processing graph: a Context owns
// a sample clock, a shared Destination, and every node created on it. Nodes
// are wired into directed chains, parameters are automated against the
// sample clock, and node release can be scheduled at a future time so that
// teardown happens on the render side at the exact sample.
//
// All node and parameter methods are safe for concurrent use with Process.
package graph

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// RenderQuantum is the maximum number of frames rendered between timer checks.
const RenderQuantum = 128

var (
	ErrClosed      = errors.New("graph: context closed")
	ErrReleased    = errors.New("graph: node released")
	ErrForeignNode = errors.New("graph: node belongs to another context")
	ErrCycle       = errors.New("graph: connection would create a cycle")
	ErrStarted     = errors.New("graph: oscillator already started")
)

type timer struct {
	frame int64
	fn    func()
}

// Stats counts node lifetimes on a context.
type Stats struct {
	Created  int
	Released int
	Live     int
}

type Context struct {
	mu         sync.Mutex
	sampleRate int
	frame      int64
	pass       uint64
	dest       *Destination
	live       map[*node]struct{}
	created    int
	released   int
	timers     []timer
	closed     bool
}

func NewContext(sampleRate int) (*Context, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	c := &Context{
		sampleRate: sampleRate,
		live:       make(map[*node]struct{}),
	}
	c.dest = &Destination{}
	c.dest.init(c, c.dest, "destination", c.dest.process)
	c.dest.sink = true
	return c, nil
}

func (c *Context) SampleRate() int { return c.sampleRate }

func (c *Context) Destination() *Destination { return c.dest }

// CurrentTime is the render position in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeAt(c.frame)
}

// Frame is the render position in frames.
func (c *Context) Frame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *Context) LiveNodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Created: c.created, Released: c.released, Live: len(c.live)}
}

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Process renders len(dst)/2 interleaved stereo frames. It satisfies the
// sample source contract of the audio backend.
func (c *Context) Process(dst []float32) {
	frames := len(dst) / 2
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	done := 0
	for done < frames {
		c.fireTimersLocked()
		n := frames - done
		if n > RenderQuantum {
			n = RenderQuantum
		}
		// split the quantum so scheduled releases land on their sample
		if len(c.timers) > 0 {
			if gap := c.timers[0].frame - c.frame; gap > 0 && gap < int64(n) {
				n = int(gap)
			}
		}
		c.pass++
		out := c.dest.pull(n, c.frame)
		for i, v := range out {
			s := float32(math.Max(-1, math.Min(1, v)))
			dst[(done+i)*2] = s
			dst[(done+i)*2+1] = s
		}
		c.frame += int64(n)
		done += n
	}
	c.fireTimersLocked()
}

// Render is a convenience for offline use.
func (c *Context) Render(frames int) []float32 {
	out := make([]float32, frames*2)
	c.Process(out)
	return out
}

// ReleaseAt disconnects and releases nodes once rendering reaches t seconds.
// Times at or before the current position release immediately.
func (c *Context) ReleaseAt(t float64, nodes ...Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frameAt(t)
	if c.closed || f <= c.frame {
		c.releaseLocked(nodes)
		return
	}
	cores := make([]*node, 0, len(nodes))
	for _, n := range nodes {
		cores = append(cores, n.core())
	}
	tm := timer{frame: f, fn: func() {
		for _, n := range cores {
			n.releaseLocked()
		}
	}}
	i := sort.Search(len(c.timers), func(i int) bool { return c.timers[i].frame > f })
	c.timers = append(c.timers, timer{})
	copy(c.timers[i+1:], c.timers[i:])
	c.timers[i] = tm
}

// ReleaseNow disconnects and releases nodes immediately. Releasing a node
// twice is a no-op.
func (c *Context) ReleaseNow(nodes ...Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(nodes)
}

// Close releases every live node and silences the context.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.timers = nil
	for n := range c.live {
		n.releaseLocked()
	}
	return nil
}

func (c *Context) releaseLocked(nodes []Node) {
	for _, n := range nodes {
		n.core().releaseLocked()
	}
}

func (c *Context) fireTimersLocked() {
	for len(c.timers) > 0 && c.timers[0].frame <= c.frame {
		tm := c.timers[0]
		c.timers = c.timers[1:]
		tm.fn()
	}
}

func (c *Context) register(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	if c.closed {
		n.released = true
		c.released++
		return
	}
	c.live[n] = struct{}{}
}

func (c *Context) frameAt(t float64) int64 {
	return int64(math.Ceil(t*float64(c.sampleRate) - 1e-9))
}

func (c *Context) timeAt(frame int64) float64 {
	return float64(frame) / float64(c.sampleRate)
}
