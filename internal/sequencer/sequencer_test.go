package sequencer

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"

	"github.com/cbegin/synthseq-go/internal/pattern"
)

const testRate = 8000

func newOffline(t *testing.T, opts ...OfflineOption) *OfflineOutput {
	t.Helper()
	out, err := NewOfflineOutput(testRate, opts...)
	if err != nil {
		t.Fatalf("new offline output: %v", err)
	}
	return out
}

func factoryFor(out Output) OutputFactory {
	return func() (Output, error) { return out, nil }
}

// gatedOutput only lets the clock advance when the test sends a tick.
type gatedOutput struct {
	*OfflineOutput
	ticks chan struct{}
}

func (g *gatedOutput) Clock() Clock { return gatedClock{g} }

type gatedClock struct{ g *gatedOutput }

func (c gatedClock) Now() float64 { return c.g.OfflineOutput.Now() }

func (c gatedClock) WaitUntil(ctx context.Context, t float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.g.ticks:
	}
	return c.g.OfflineOutput.WaitUntil(ctx, t)
}

// stalledOutput never becomes ready.
type stalledOutput struct {
	*OfflineOutput
}

func (s stalledOutput) Ready(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	steps  chan Event
}

func newRecorder() *recorder {
	return &recorder{steps: make(chan Event, 1024)}
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind == EventStep {
		select {
		case r.steps <- ev:
		default:
		}
	}
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) nextStep(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.steps:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a step")
	}
	return Event{}
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("playback did not finish")
	}
}

type stepTrace struct {
	Step      int
	At        float64
	Pitch     string
	Velocity  int
	Frequency float64
	Duration  float64
}

func traces(events []Event) []stepTrace {
	var out []stepTrace
	for _, ev := range events {
		out = append(out, stepTrace{ev.Step, ev.At, ev.Note.Pitch, ev.Note.Velocity, ev.Frequency, ev.NoteDuration})
	}
	return out
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestTwoNoteScenario(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	s.SetProgram(pattern.Of(
		pattern.NewNote("C4", 100, 50),
		pattern.NewNote("E4", 80, 100),
	), pattern.SynthConfig{TempoBPM: 120})

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)

	want := []stepTrace{
		{0, 0, "C4", 100, 261, 0.25},
		{1, 0.5, "E4", 80, 329, 0.5},
	}
	if diff := cmp.Diff(want, traces(rec.of(EventStep)), approx); diff != "" {
		t.Fatalf("steps (-want +got):\n%s", diff)
	}
	ended := rec.of(EventPlaybackEnded)
	if len(ended) != 1 || math.Abs(ended[0].At-1) > 1e-9 || ended[0].Err != nil {
		t.Fatalf("playback ended = %+v, want one event at 1s", ended)
	}
	if s.State() != Idle || s.CurrentStep() != -1 || s.IsPlaying() {
		t.Fatalf("after playback: state=%s step=%d", s.State(), s.CurrentStep())
	}
}

func TestUnknownPitchScenario(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	s.SetProgram(pattern.Of(pattern.NewNote("Z9", 100, 50)), pattern.SynthConfig{TempoBPM: 60})
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)

	want := []stepTrace{{0, 0, "Z9", 100, 440, 0.5}}
	if diff := cmp.Diff(want, traces(rec.of(EventStep)), approx); diff != "" {
		t.Fatalf("steps (-want +got):\n%s", diff)
	}
}

func TestMissingTempoDefaults(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	notes := []pattern.Note{pattern.NewNote("D4", 100, 100), pattern.NewNote("F4", 100, 100)}
	s.SetProgram(pattern.Of(notes...), pattern.SynthConfig{})
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)
	steps := rec.of(EventStep)
	if len(steps) != 2 || math.Abs(steps[1].At-0.5) > 1e-9 {
		t.Fatalf("steps = %+v, want second step at 0.5s", traces(steps))
	}
}

func TestPlayWhilePlayingIsNoop(t *testing.T) {
	out := &gatedOutput{OfflineOutput: newOffline(t), ticks: make(chan struct{})}
	rec := newRecorder()
	s := New(factoryFor(out), Options{Loop: true, OnEvent: rec.OnEvent})
	s.SetProgram(pattern.Of(
		pattern.NewNote("C4", 100, 50),
		pattern.NewNote("D4", 100, 50),
	), pattern.DefaultSynthConfig())

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	out.ticks <- struct{}{}
	if ev := rec.nextStep(t); ev.Step != 0 {
		t.Fatalf("first step = %d, want 0", ev.Step)
	}
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("second play: %v", err)
	}
	if s.State() != Playing || s.CurrentStep() != 0 {
		t.Fatalf("second play changed state: state=%s step=%d", s.State(), s.CurrentStep())
	}

	s.Stop()
	if s.IsPlaying() || s.CurrentStep() != -1 || s.State() != Idle {
		t.Fatalf("after stop: state=%s step=%d", s.State(), s.CurrentStep())
	}
	if got := len(rec.of(EventStep)); got != 1 {
		t.Fatalf("steps after stop = %d, want 1", got)
	}
	// stopping twice is harmless
	s.Stop()
}

func TestStopWhileStarting(t *testing.T) {
	out := stalledOutput{newOffline(t)}
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	s.SetProgram(pattern.Of(pattern.NewNote("C4", 100, 50)), pattern.DefaultSynthConfig())
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if s.State() != Starting || !s.IsPlaying() {
		t.Fatalf("state = %s, want starting", s.State())
	}
	s.Stop()
	if s.State() != Idle {
		t.Fatalf("state = %s, want idle", s.State())
	}
	if got := len(rec.of(EventStep)); got != 0 {
		t.Fatalf("steps = %d, want none", got)
	}
	if ended := rec.of(EventPlaybackEnded); len(ended) != 1 || ended[0].Err != nil {
		t.Fatalf("ended = %+v, want one clean end", ended)
	}
}

func TestCancelledContextEndsSession(t *testing.T) {
	out := stalledOutput{newOffline(t)}
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	cancel()
	waitDone(t, s)
	if s.State() != Idle || s.CurrentStep() != -1 {
		t.Fatalf("after cancel: state=%s step=%d", s.State(), s.CurrentStep())
	}
}

func TestOutputFailureLeavesIdle(t *testing.T) {
	out := newOffline(t)
	calls := 0
	s := New(func() (Output, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no audio device")
		}
		return out, nil
	}, Options{})
	s.SetProgram(pattern.Of(pattern.NewNote("C4", 100, 50)), pattern.DefaultSynthConfig())

	if err := s.Play(context.Background()); err == nil {
		t.Fatalf("expected output creation error")
	}
	if s.State() != Idle || s.CurrentStep() != -1 || s.Output() != nil {
		t.Fatalf("failed play left state=%s step=%d", s.State(), s.CurrentStep())
	}
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("retry play: %v", err)
	}
	waitDone(t, s)
	if calls != 2 {
		t.Fatalf("factory calls = %d, want 2", calls)
	}
}

func TestNilFactory(t *testing.T) {
	s := New(nil, Options{})
	if err := s.Play(context.Background()); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("play = %v, want ErrNoOutput", err)
	}
	if s.State() != Idle {
		t.Fatalf("state = %s, want idle", s.State())
	}
}

func TestPlayAfterClose(t *testing.T) {
	out := newOffline(t)
	s := New(factoryFor(out), Options{})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Play(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("play after close = %v, want ErrClosed", err)
	}
}

func TestEmptyPatternEndsImmediately(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)
	if got := len(rec.of(EventStep)); got != 0 {
		t.Fatalf("steps = %d, want 0", got)
	}
	if got := len(rec.of(EventPlaybackEnded)); got != 1 {
		t.Fatalf("ended events = %d, want 1", got)
	}
}

func TestTempoChangeTakesEffectNextStep(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	var s *Scheduler
	notes := pattern.Of(
		pattern.NewNote("C4", 100, 100),
		pattern.NewNote("D4", 100, 100),
		pattern.NewNote("E4", 100, 100),
	)
	s = New(factoryFor(out), Options{OnEvent: func(ev Event) {
		rec.OnEvent(ev)
		if ev.Kind == EventStep && ev.Step == 0 {
			s.SetProgram(notes, pattern.SynthConfig{TempoBPM: 60})
		}
	}})
	s.SetProgram(notes, pattern.SynthConfig{TempoBPM: 120})
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)

	want := []stepTrace{
		{0, 0, "C4", 100, 261, 0.5},
		{1, 0.5, "D4", 100, 293, 1},
		{2, 1.5, "E4", 100, 329, 1},
	}
	if diff := cmp.Diff(want, traces(rec.of(EventStep)), approx); diff != "" {
		t.Fatalf("steps (-want +got):\n%s", diff)
	}
}

func TestGlideFollowsPreviousStep(t *testing.T) {
	out := newOffline(t)
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	cfg := pattern.DefaultSynthConfig()
	cfg.GlidePercent = 100
	s.SetProgram(pattern.Of(pattern.NewNote("C4", 100, 100), pattern.NewNote("C5", 100, 100)), cfg)
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitDone(t, s)
	if got := len(rec.of(EventStep)); got != 2 {
		t.Fatalf("steps = %d, want 2", got)
	}
	if got := s.sess.lastFreq; got != 523 {
		t.Fatalf("session glide source = %v, want 523", got)
	}
}

func TestLoopingSoakReleasesEverything(t *testing.T) {
	out := newOffline(t)
	const target = 200
	reached := make(chan struct{})
	var once sync.Once
	steps, loops := 0, 0
	var mu sync.Mutex
	s := New(factoryFor(out), Options{Loop: true, OnEvent: func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case EventStep:
			steps++
			if steps >= target {
				once.Do(func() { close(reached) })
			}
		case EventLoopCompleted:
			loops++
		}
	}})
	cfg := pattern.SynthConfig{
		TempoBPM:          600,
		Waveform:          pattern.Saw,
		FilterCutoffHz:    1200,
		GlidePercent:      30,
		DelayPercent:      80,
		WaveshaperEnabled: true,
	}
	s.SetProgram(pattern.Of(
		pattern.NewNote("C4", 100, 100),
		pattern.NewNote("E4", 90, 50),
		pattern.NewNote("Q7", 70, 25),
		pattern.NewNote("F5", 0, 100),
	), cfg)

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	select {
	case <-reached:
	case <-time.After(30 * time.Second):
		t.Fatalf("soak did not reach %d steps", target)
	}
	s.Stop()
	if s.CurrentStep() != -1 || s.IsPlaying() {
		t.Fatalf("after stop: state=%s step=%d", s.State(), s.CurrentStep())
	}

	// tails finish on their own after stop
	out.Advance(testRate)
	g := out.Context()
	if live := g.LiveNodes(); live != 0 {
		t.Fatalf("live nodes after soak = %d, want 0", live)
	}
	mu.Lock()
	defer mu.Unlock()
	st := g.Stats()
	if st.Created != st.Released || st.Created != 5*steps {
		t.Fatalf("stats = %+v after %d steps, want %d created and released", st, steps, 5*steps)
	}
	if loops < target/4-1 {
		t.Fatalf("loops = %d, want at least %d", loops, target/4-1)
	}
	if got := s.ActiveVoices(); got != 0 {
		t.Fatalf("active voices = %d, want 0", got)
	}
}

func TestCloseReleasesVoices(t *testing.T) {
	out := &gatedOutput{OfflineOutput: newOffline(t), ticks: make(chan struct{})}
	rec := newRecorder()
	s := New(factoryFor(out), Options{OnEvent: rec.OnEvent})
	s.SetProgram(pattern.Of(pattern.NewNote("C4", 100, 100), pattern.NewNote("D4", 100, 100)), pattern.DefaultSynthConfig())
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	out.ticks <- struct{}{}
	rec.nextStep(t)
	if got := s.ActiveVoices(); got != 1 {
		t.Fatalf("active voices = %d, want 1", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if live := out.Context().LiveNodes(); live != 0 {
		t.Fatalf("live nodes after close = %d", live)
	}
	if got := s.ActiveVoices(); got != 0 {
		t.Fatalf("active voices after close = %d", got)
	}
}

func TestStatusPacking(t *testing.T) {
	for _, tc := range []struct {
		state State
		index int
	}{
		{Idle, -1},
		{Starting, -1},
		{Playing, 0},
		{Playing, 1 << 20},
		{Stopping, -1},
	} {
		w := pack(tc.state, tc.index)
		if w.state() != tc.state || w.index() != tc.index {
			t.Errorf("pack(%s, %d) round-trips to (%s, %d)", tc.state, tc.index, w.state(), w.index())
		}
	}
	if pack(Idle, -1) != 0 {
		t.Errorf("idle word should be zero")
	}
}
