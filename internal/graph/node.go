package graph

import "github.com/pkg/errors"

// Node is a processing stage. Outputs of a node are summed into the input of
// every node it connects to.
type Node interface {
	Connect(dst Node) error
	// Disconnect removes every outgoing connection.
	Disconnect()
	Released() bool
	Kind() string
	Outputs() []Node
	core() *node
}

type node struct {
	ctx      *Context
	self     Node
	kind     string
	inputs   []*node
	outputs  []*node
	released bool
	source   bool // accepts no input
	sink     bool // has no output
	pass     uint64
	buf      []float64
	in       []float64
	proc     func(in, out []float64, start int64)
}

func (n *node) init(c *Context, self Node, kind string, proc func(in, out []float64, start int64)) {
	n.ctx = c
	n.self = self
	n.kind = kind
	n.proc = proc
}

func (n *node) core() *node { return n }

func (n *node) Kind() string { return n.kind }

func (n *node) Released() bool {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return n.released
}

func (n *node) Connect(dst Node) error {
	if dst == nil {
		return errors.New("graph: nil destination node")
	}
	d := dst.core()
	c := n.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case d.ctx != c:
		return ErrForeignNode
	case n.released || d.released:
		return ErrReleased
	case n.sink:
		return errors.Errorf("graph: %s has no output", n.kind)
	case d.source:
		return errors.Errorf("graph: %s accepts no input", d.kind)
	case n == d || d.reaches(n):
		return ErrCycle
	}
	for _, o := range n.outputs {
		if o == d {
			return nil
		}
	}
	n.outputs = append(n.outputs, d)
	d.inputs = append(d.inputs, n)
	return nil
}

func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	n.disconnectOutputsLocked()
}

func (n *node) Outputs() []Node {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	out := make([]Node, 0, len(n.outputs))
	for _, o := range n.outputs {
		out = append(out, o.self)
	}
	return out
}

// reaches reports whether target is downstream of n.
func (n *node) reaches(target *node) bool {
	for _, o := range n.outputs {
		if o == target || o.reaches(target) {
			return true
		}
	}
	return false
}

func (n *node) disconnectOutputsLocked() {
	for _, o := range n.outputs {
		o.inputs = removeNode(o.inputs, n)
	}
	n.outputs = nil
}

func (n *node) releaseLocked() {
	if n.released || n.sink {
		return
	}
	n.disconnectOutputsLocked()
	for _, in := range n.inputs {
		in.outputs = removeNode(in.outputs, n)
	}
	n.inputs = nil
	n.released = true
	n.buf = nil
	n.in = nil
	delete(n.ctx.live, n)
	n.ctx.released++
}

// pull renders this node for the current pass, reusing the cached buffer
// when the node feeds more than one downstream stage.
func (n *node) pull(frames int, start int64) []float64 {
	if n.pass == n.ctx.pass && len(n.buf) == frames {
		return n.buf
	}
	n.pass = n.ctx.pass
	n.buf = grow(n.buf, frames)
	n.in = grow(n.in, frames)
	for i := range n.in {
		n.in[i] = 0
	}
	for _, up := range n.inputs {
		src := up.pull(frames, start)
		for i, v := range src {
			n.in[i] += v
		}
	}
	n.proc(n.in, n.buf, start)
	return n.buf
}

func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}

func removeNode(list []*node, n *node) []*node {
	out := list[:0]
	for _, x := range list {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}
