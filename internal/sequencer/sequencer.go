// Package sequencer steps through a pattern on an output's sample clock and
// builds one voice per step. A Scheduler owns at most one playback session at
// a time; state and step index are published together so observers never
// see a stale index after a stop.
package sequencer

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/cbegin/synthseq-go/internal/envelope"
	"github.com/cbegin/synthseq-go/internal/pattern"
	"github.com/cbegin/synthseq-go/internal/voice"
)

var (
	ErrClosed   = errors.New("sequencer: closed")
	ErrNoOutput = errors.New("sequencer: no output available")

	errStopped = errors.New("sequencer: stopped")
)

type State uint32

const (
	Idle State = iota
	Starting
	Playing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// status packs a State and a step index into one word. The index is stored
// offset by one so that -1 (no step) is zero.
type status uint64

func pack(s State, index int) status {
	return status(uint64(s)<<32 | uint64(uint32(index+1)))
}

func (w status) state() State { return State(w >> 32) }
func (w status) index() int   { return int(uint32(w)) - 1 }

// EventKind identifies sequencer lifecycle events.
type EventKind int

const (
	EventLoopCompleted EventKind = iota
	EventPlaybackEnded
	EventStep
)

func (k EventKind) String() string {
	switch k {
	case EventLoopCompleted:
		return "loop-completed"
	case EventPlaybackEnded:
		return "playback-ended"
	case EventStep:
		return "step"
	}
	return "unknown"
}

// Event is delivered to Options.OnEvent on the playback goroutine.
type Event struct {
	Kind         EventKind
	Step         int     // EventStep only
	At           float64 // output clock time of the onset or end
	Note         pattern.Note
	Frequency    float64
	NoteDuration float64
	Err          error // EventPlaybackEnded after a failed start
}

// Program is what plays: a pattern and the synth config applied to it.
type Program struct {
	Pattern *pattern.Pattern
	Synth   pattern.SynthConfig
}

type Options struct {
	// Loop repeats the pattern until stopped.
	Loop bool
	// Lookahead schedules each step this many seconds before its onset.
	// Real-time outputs need it to cover device buffering; offline outputs
	// can leave it at zero.
	Lookahead float64
	// OnEvent runs on the playback goroutine and must not call Stop or Close.
	OnEvent func(Event)
	Logger  logging.LeveledLogger
}

type Scheduler struct {
	mu      sync.Mutex
	factory OutputFactory
	out     Output
	sess    *Session
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	status  atomic.Uint64
	program atomic.Pointer[Program]

	loop      bool
	lookahead float64
	onEvent   func(Event)
	log       logging.LeveledLogger
}

func New(factory OutputFactory, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefaultLeveledLoggerForScope("sequencer", logging.LogLevelDisabled, io.Discard)
	}
	lookahead := opts.Lookahead
	if lookahead < 0 {
		lookahead = 0
	}
	s := &Scheduler{
		factory:   factory,
		loop:      opts.Loop,
		lookahead: lookahead,
		onEvent:   opts.OnEvent,
		log:       log,
	}
	s.status.Store(uint64(pack(Idle, -1)))
	s.program.Store(&Program{Synth: pattern.DefaultSynthConfig()})
	return s
}

func (s *Scheduler) load() status { return status(s.status.Load()) }

func (s *Scheduler) cas(old, new status) bool {
	return s.status.CompareAndSwap(uint64(old), uint64(new))
}

func (s *Scheduler) State() State { return s.load().state() }

// CurrentStep is the index of the step last triggered, or -1 when stopped.
func (s *Scheduler) CurrentStep() int { return s.load().index() }

func (s *Scheduler) IsPlaying() bool {
	st := s.State()
	return st == Starting || st == Playing
}

// SetProgram replaces what plays. A running session picks it up at the next
// step; notes already triggered are unaffected.
func (s *Scheduler) SetProgram(p *pattern.Pattern, cfg pattern.SynthConfig) {
	s.program.Store(&Program{Pattern: p, Synth: cfg.Normalize()})
}

func (s *Scheduler) Program() Program { return *s.program.Load() }

// Play starts a session. It is a no-op while a session is starting, playing
// or stopping. The output is created on first use; a creation failure is
// returned and leaves the scheduler Idle. The session ends when the pattern
// finishes (unless looping), on Stop, or when ctx is done.
func (s *Scheduler) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.cas(pack(Idle, -1), pack(Starting, -1)) {
		s.log.Debugf("play ignored in state %s", s.State())
		return nil
	}
	if s.out == nil {
		if s.factory == nil {
			s.status.Store(uint64(pack(Idle, -1)))
			return ErrNoOutput
		}
		out, err := s.factory()
		if err != nil {
			s.status.Store(uint64(pack(Idle, -1)))
			s.log.Errorf("output unavailable: %v", err)
			return errors.Wrap(err, "sequencer: create output")
		}
		s.out = out
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sess := newSession(s.out)
	s.cancel, s.done, s.sess = cancel, done, sess
	s.log.Debug("starting")
	go s.run(runCtx, cancel, sess, done)
	return nil
}

// Stop ends the session. It returns once the playback goroutine has exited;
// notes already triggered keep sounding through their release.
func (s *Scheduler) Stop() {
	for {
		w := s.load()
		if st := w.state(); st == Idle || st == Stopping {
			return
		}
		if s.cas(w, pack(Stopping, -1)) {
			break
		}
	}
	s.log.Debug("stopping")
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.status.Store(uint64(pack(Idle, -1)))
	s.log.Debug("idle")
}

// Wait blocks until the current session, if any, has ended.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ActiveVoices counts notes of the current or last session that still own
// graph nodes.
func (s *Scheduler) ActiveVoices() int {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.Active()
}

// Output returns the output, or nil before the first successful Play.
func (s *Scheduler) Output() Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

// Close stops playback, releases every voice and closes the output.
func (s *Scheduler) Close() error {
	s.Stop()
	s.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sess != nil {
		s.sess.Release()
	}
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out = nil
	return err
}

func (s *Scheduler) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, sess *Session, done chan struct{}) {
	defer close(done)
	defer cancel()

	err := s.play(ctx, sess)
	ended := Event{Kind: EventPlaybackEnded, At: sess.out.Clock().Now()}
	if err != nil && err != errStopped && ctx.Err() == nil {
		s.log.Errorf("playback failed: %v", err)
		ended.Err = err
	}
	// a concurrent Stop owns the transition to Idle
	for {
		w := s.load()
		if st := w.state(); st != Starting && st != Playing {
			break
		}
		if s.cas(w, pack(Idle, -1)) {
			s.log.Debug("idle")
			break
		}
	}
	s.emit(ended)
}

func (s *Scheduler) play(ctx context.Context, sess *Session) error {
	if err := sess.out.Ready(ctx); err != nil {
		return errors.Wrap(err, "sequencer: output not ready")
	}
	if !s.cas(pack(Starting, -1), pack(Playing, -1)) {
		return nil
	}
	s.log.Debug("playing")

	clock := sess.out.Clock()
	t := clock.Now() + s.lookahead
	for {
		steps, err := s.pass(ctx, sess, t)
		t = steps
		if err != nil {
			return err
		}
		if !s.loop {
			// the last step still occupies its beat
			return clock.WaitUntil(ctx, t)
		}
		s.emit(Event{Kind: EventLoopCompleted, At: t})
	}
}

// pass plays the pattern once starting at t and returns the time the next
// pass starts. The program is re-read before every step.
func (s *Scheduler) pass(ctx context.Context, sess *Session, t float64) (float64, error) {
	clock := sess.out.Clock()
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		prog := s.program.Load()
		if i >= prog.Pattern.Len() {
			if i == 0 && s.loop {
				// an empty looping pattern idles one beat per pass
				t += envelope.BeatDuration(prog.Synth.TempoBPM)
				if err := clock.WaitUntil(ctx, t-s.lookahead); err != nil {
					return t, err
				}
			}
			return t, nil
		}
		if err := clock.WaitUntil(ctx, t-s.lookahead); err != nil {
			return t, err
		}
		note, _ := prog.Pattern.At(i)
		if !s.advance(i) {
			return t, errStopped
		}
		h, err := sess.Trigger(note, prog.Synth, t)
		if err != nil {
			// a note that cannot be built is skipped, not fatal
			s.log.Warnf("step %d: %v", i, err)
		} else {
			s.log.Tracef("step %d %s %.2fHz at %.3fs", i, note.Pitch, h.Frequency, h.Onset)
			s.emit(Event{
				Kind:         EventStep,
				Step:         i,
				At:           h.Onset,
				Note:         note,
				Frequency:    h.Frequency,
				NoteDuration: h.Plan.NoteDuration,
			})
		}
		t += envelope.BeatDuration(prog.Synth.TempoBPM)
	}
}

// advance publishes the step index unless the session is no longer playing.
func (s *Scheduler) advance(i int) bool {
	for {
		w := s.load()
		if w.state() != Playing {
			return false
		}
		if s.cas(w, pack(Playing, i)) {
			return true
		}
	}
}

// Session owns the voices triggered by one play request.
type Session struct {
	out Output

	mu       sync.Mutex
	voices   []*voice.Handle
	lastFreq float64
}

func newSession(out Output) *Session {
	return &Session{out: out}
}

// Trigger builds the voice for one step. Glide starts from the previous
// note of the session.
func (s *Session) Trigger(n pattern.Note, cfg pattern.SynthConfig, at float64) (*voice.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := voice.Build(s.out.Context(), voice.Trigger{Note: n, Synth: cfg, At: at, Glide: s.lastFreq})
	if err != nil {
		return nil, err
	}
	s.lastFreq = h.Frequency
	s.pruneLocked()
	s.voices = append(s.voices, h)
	return h, nil
}

func (s *Session) pruneLocked() {
	live := s.voices[:0]
	for _, h := range s.voices {
		if !h.Done() {
			live = append(live, h)
		}
	}
	for i := len(live); i < len(s.voices); i++ {
		s.voices[i] = nil
	}
	s.voices = live
}

// Active counts voices that still own graph nodes.
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.voices)
}

// Release disconnects every voice immediately.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.voices {
		h.Release()
	}
	s.voices = nil
}
