package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/pkg/errors"

	"github.com/cbegin/synthseq-go/internal/graph"
	"github.com/cbegin/synthseq-go/internal/sequencer"
)

type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the float32 little-endian stereo
// stream the device player reads.
type StreamReader struct {
	mu      sync.Mutex
	source  SampleSource
	tap     func([]float32)
	buf     []float32
	started chan struct{}
	once    sync.Once
}

func NewStreamReader(source SampleSource, tap func([]float32)) *StreamReader {
	return &StreamReader{source: source, tap: tap, started: make(chan struct{})}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	r.once.Do(func() { close(r.started) })
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	if r.tap != nil {
		r.tap(r.buf)
	}
	for i := 0; i < need; i++ {
		u := math.Float32bits(r.buf[i])
		binary.LittleEndian.PutUint32(p[i*4:], u)
	}
	return frames * 8, nil
}

// Started is closed on the first read from the device.
func (r *StreamReader) Started() <-chan struct{} { return r.started }

func (r *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioContextErr  error
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioContextErr != nil {
		return nil, audioContextErr
	}
	if audioSampleRate != sampleRate {
		return nil, errors.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// BufferSize is the device buffer. Schedulers driving this output should
// look ahead by at least this much.
const BufferSize = 50 * time.Millisecond

// Output plays a graph.Context on the system audio device. Its clock is the
// graph's render position, which runs ahead of what is heard by at most
// BufferSize.
type Output struct {
	g      *graph.Context
	player *ebitaudio.Player
	reader *StreamReader
	clock  sequencer.Clock
}

// NewOutput starts a device player pulling from a fresh graph. tap, if set,
// sees every rendered buffer on the audio thread.
func NewOutput(sampleRate int, tap func([]float32)) (*Output, error) {
	g, err := graph.NewContext(sampleRate)
	if err != nil {
		return nil, err
	}
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(g, tap)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	pl.SetBufferSize(BufferSize)
	pl.Play()
	return &Output{
		g:      g,
		player: pl,
		reader: reader,
		clock:  sequencer.NewSampleClock(g),
	}, nil
}

// Factory adapts NewOutput to sequencer.OutputFactory.
func Factory(sampleRate int, tap func([]float32)) sequencer.OutputFactory {
	return func() (sequencer.Output, error) {
		return NewOutput(sampleRate, tap)
	}
}

func (o *Output) Context() *graph.Context { return o.g }
func (o *Output) Clock() sequencer.Clock  { return o.clock }

func (o *Output) Ready(ctx context.Context) error {
	select {
	case <-o.reader.Started():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Position returns what the listener actually hears.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}

func (o *Output) Close() error {
	o.player.Pause()
	err := o.player.Close()
	_ = o.g.Close()
	if rerr := o.reader.Close(); err == nil {
		err = rerr
	}
	return err
}

var _ io.ReadCloser = (*StreamReader)(nil)
