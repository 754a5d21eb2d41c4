// Package midi requests access to the host's MIDI ports. Nothing is routed
// to them; a failure here never affects synthesis.
package midi

import (
	"context"
	"io"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

var (
	ErrNoDevices = errors.New("midi: no ports available")
	ErrTimeout   = errors.New("midi: port enumeration timed out")
)

// DefaultTimeout bounds port enumeration; some backends hang.
const DefaultTimeout = 3 * time.Second

// Access lists the port names visible when access was granted.
type Access struct {
	Inputs  []string
	Outputs []string
}

type Prober struct {
	Timeout time.Duration
	Log     logging.LeveledLogger
	ports   func() (in, out []string)
}

func NewProber(log logging.LeveledLogger) *Prober {
	if log == nil {
		log = logging.NewDefaultLeveledLoggerForScope("midi", logging.LogLevelDisabled, io.Discard)
	}
	return &Prober{Timeout: DefaultTimeout, Log: log, ports: driverPorts}
}

func driverPorts() (in, out []string) {
	var ins []drivers.In = gomidi.GetInPorts()
	var outs []drivers.Out = gomidi.GetOutPorts()
	for _, p := range ins {
		in = append(in, p.String())
	}
	for _, p := range outs {
		out = append(out, p.String())
	}
	return in, out
}

// RequestAccess enumerates ports. Failures are logged at warn level and
// returned for the caller to ignore.
func (p *Prober) RequestAccess(ctx context.Context) (Access, error) {
	type result struct{ in, out []string }
	ch := make(chan result, 1)
	go func() {
		in, out := p.ports()
		ch <- result{in, out}
	}()

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	select {
	case r := <-ch:
		if len(r.in) == 0 && len(r.out) == 0 {
			p.Log.Warn("midi access: no ports")
			return Access{}, ErrNoDevices
		}
		p.Log.Infof("midi access: %d inputs, %d outputs", len(r.in), len(r.out))
		return Access{Inputs: r.in, Outputs: r.out}, nil
	case <-time.After(timeout):
		p.Log.Warnf("midi access: no answer after %s", timeout)
		return Access{}, ErrTimeout
	case <-ctx.Done():
		return Access{}, ctx.Err()
	}
}

func RequestAccess(ctx context.Context, log logging.LeveledLogger) (Access, error) {
	return NewProber(log).RequestAccess(ctx)
}
