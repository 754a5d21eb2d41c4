package synthseq

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	intaudio "github.com/cbegin/synthseq-go/internal/audio"
	intpat "github.com/cbegin/synthseq-go/internal/pattern"
	intseq "github.com/cbegin/synthseq-go/internal/sequencer"
	intstore "github.com/cbegin/synthseq-go/internal/store"
)

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind      int // EventLoopCompleted, EventPlaybackEnded, or EventStep
	Step      int
	Pitch     string
	Frequency float64
	At        float64 // seconds on the output clock
	Err       error
}

const (
	EventLoopCompleted int = iota
	EventPlaybackEnded
	EventStep
)

// defaultLookahead covers the device buffer twice.
const defaultLookahead = 2 * intaudio.BufferSize

type PlayerOption func(*playerConfig)

type playerConfig struct {
	loopPlayback  bool
	sampleTap     func([]float32)
	factory       intseq.OutputFactory
	loggerFactory logging.LoggerFactory
	lookahead     float64
	lookaheadSet  bool
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{loggerFactory: logging.NewDefaultLoggerFactory()}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// WithOutputFactory replaces the system audio device, e.g. with an offline
// output for rendering or tests.
func WithOutputFactory(f intseq.OutputFactory) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.factory = f
	}
}

func WithLoggerFactory(f logging.LoggerFactory) PlayerOption {
	return func(cfg *playerConfig) {
		if f != nil {
			cfg.loggerFactory = f
		}
	}
}

// WithLookahead sets how far ahead of the output clock steps are scheduled.
func WithLookahead(seconds float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.lookahead = seconds
		cfg.lookaheadSet = true
	}
}

// Player is the transport: one pattern, one synth config, at most one
// playback session at a time.
type Player struct {
	mu         sync.Mutex // serializes program updates
	sampleRate int
	sched      *intseq.Scheduler
	log        logging.LeveledLogger
	storeLog   logging.LeveledLogger
	eventCh    chan PlaybackEvent
	eventChMu  sync.Mutex
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := cfg.factory
	if factory == nil {
		factory = intaudio.Factory(sampleRate, cfg.sampleTap)
		if !cfg.lookaheadSet {
			cfg.lookahead = defaultLookahead.Seconds()
		}
	}
	p := &Player{
		sampleRate: sampleRate,
		log:        cfg.loggerFactory.NewLogger("player"),
		storeLog:   cfg.loggerFactory.NewLogger("store"),
	}
	p.sched = intseq.New(factory, intseq.Options{
		Loop:      cfg.loopPlayback,
		Lookahead: cfg.lookahead,
		OnEvent:   p.onEvent,
		Logger:    cfg.loggerFactory.NewLogger("sequencer"),
	})
	return p, nil
}

func (p *Player) SampleRate() int { return p.sampleRate }

func (p *Player) onEvent(ev intseq.Event) {
	out := PlaybackEvent{Kind: int(ev.Kind), Step: -1, At: ev.At, Err: ev.Err}
	if ev.Kind == intseq.EventStep {
		out.Step = ev.Step
		out.Pitch = ev.Note.Pitch
		out.Frequency = ev.Frequency
	}
	p.sendEvent(out)
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

// SetPattern replaces the notes. A running session switches at the next
// step.
func (p *Player) SetPattern(pat *intpat.Pattern) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prog := p.sched.Program()
	p.sched.SetProgram(pat, prog.Synth)
}

// SetSynth replaces the synth settings. Tempo and sound changes apply from
// the next step; notes already sounding keep their settings.
func (p *Player) SetSynth(cfg intpat.SynthConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prog := p.sched.Program()
	p.sched.SetProgram(prog.Pattern, cfg)
}

func (p *Player) Pattern() *intpat.Pattern { return p.sched.Program().Pattern }

func (p *Player) Synth() intpat.SynthConfig { return p.sched.Program().Synth }

// Load resolves a synth document against st and installs its pattern and
// settings. The patterns are a snapshot; later store changes are not seen.
func (p *Player) Load(ctx context.Context, st intstore.Store, doc intstore.SynthDocument) error {
	pat, err := intstore.Resolve(ctx, st, doc)
	if err != nil {
		p.storeLog.Errorf("load %s: %v", doc.Name, err)
		return err
	}
	p.mu.Lock()
	p.sched.SetProgram(pat, doc.Config())
	p.mu.Unlock()
	p.storeLog.Debugf("loaded %s: %d steps from %d references", doc.Name, pat.Len(), len(doc.Patterns))
	return nil
}

// Play starts playback. It is a no-op while already playing. An unavailable
// audio output is returned as an error and leaves the player stopped.
func (p *Player) Play(ctx context.Context) error {
	if err := p.sched.Play(ctx); err != nil {
		p.log.Errorf("play: %v", err)
		return err
	}
	return nil
}

// Stop ends playback; sounding notes finish their release.
func (p *Player) Stop() {
	p.sched.Stop()
}

// CurrentStep is the index of the playing step, or -1 when stopped.
func (p *Player) CurrentStep() int { return p.sched.CurrentStep() }

func (p *Player) IsPlaying() bool { return p.sched.IsPlaying() }

func (p *Player) State() intseq.State { return p.sched.State() }

// ActiveVoices counts notes still owning graph nodes, including release tails.
func (p *Player) ActiveVoices() int { return p.sched.ActiveVoices() }

// Wait blocks until the current playback ends. When loop playback is enabled,
// Wait blocks until Stop (use Watch for loop-counting instead).
// Wait returns immediately if no playback is active.
func (p *Player) Wait() {
	p.sched.Wait()
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventStep: a step was triggered (Step, Pitch, Frequency, At set)
//   - EventLoopCompleted: a pattern pass finished (when looping)
//   - EventPlaybackEnded: playback finished or was stopped
//
// The channel is buffered (cap 64); receive in a goroutine to avoid dropping
// events. Only the most recent Watch() channel receives events; call Watch
// before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 64)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// Close stops playback and releases the audio output.
func (p *Player) Close() error {
	return p.sched.Close()
}
