package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/logging"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cbegin/synthseq-go"
	"github.com/cbegin/synthseq-go/internal/midi"
	"github.com/cbegin/synthseq-go/internal/pattern"
	"github.com/cbegin/synthseq-go/internal/store"
	"github.com/cbegin/synthseq-go/internal/tui"
)

// demo pattern used when no -synth document is given
var demoNotes = []string{"C4", "E4", "D4", "F4", "E4", "C5", "D5", "C5"}

func main() {
	var (
		sampleRate  = flag.Int("sample-rate", 48000, "output sample rate")
		synthPath   = flag.String("synth", "", "path to a synth JSON document")
		patternsDir = flag.String("patterns", "", "directory of <id>.json pattern documents (default: the synth's directory)")
		renderPath  = flag.String("render", "", "render to this WAV file instead of playing")
		seconds     = flag.Float64("seconds", 8, "length of -render output")
		loop        = flag.Bool("loop", false, "loop playback; use with -loops to count then stop")
		loops       = flag.Int("loops", 0, "when -loop, stop after N loops (0 = loop forever)")
		ui          = flag.Bool("ui", false, "show the step grid")
		listMIDI    = flag.Bool("midi", false, "list MIDI ports and exit")
	)
	flag.Parse()

	logs := logging.NewDefaultLoggerFactory()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listMIDI {
		access, err := midi.RequestAccess(ctx, logs.NewLogger("midi"))
		if err != nil {
			log.Fatal(err)
		}
		for _, name := range access.Inputs {
			fmt.Println("in: ", name)
		}
		for _, name := range access.Outputs {
			fmt.Println("out:", name)
		}
		return
	}

	doc, st, err := resolveSynthInput(*synthPath, *patternsDir, logs)
	if err != nil {
		log.Fatal(err)
	}

	if *renderPath != "" {
		if err := render(ctx, *renderPath, st, doc, *sampleRate, *seconds, *loop); err != nil {
			log.Fatal(err)
		}
		return
	}

	pl, err := synthseq.NewPlayer(*sampleRate, synthseq.WithLoopPlayback(*loop), synthseq.WithLoggerFactory(logs))
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	if err := pl.Load(ctx, st, doc); err != nil {
		log.Fatal(err)
	}

	if *ui {
		var tempo float64
		if doc.Tempo != nil {
			tempo = *doc.Tempo
		}
		probe := func() string { return probeMIDI(logs) }
		m := tui.NewModel(pl, pl.Pattern().Notes(), tui.InfoLine(tempo, doc.Waveform), probe)
		if _, err := tea.NewProgram(m).Run(); err != nil {
			log.Fatal(err)
		}
		return
	}

	ch := pl.Watch()
	if err := pl.Play(ctx); err != nil {
		log.Fatal(err)
	}
	loopCount := 0
	for event := range ch {
		switch event.Kind {
		case synthseq.EventPlaybackEnded:
			if event.Err != nil {
				log.Fatal(event.Err)
			}
			fmt.Println("playback completed")
			goto done
		case synthseq.EventLoopCompleted:
			loopCount++
			fmt.Printf("loop %d completed\n", loopCount)
			if *loop && *loops > 0 && loopCount >= *loops {
				pl.Stop()
			}
		case synthseq.EventStep:
			fmt.Printf("step %d %s (%.0f Hz)\n", event.Step, event.Pitch, event.Frequency)
		}
	}
done:
	pl.Wait()
}

func resolveSynthInput(path, dir string, logs logging.LoggerFactory) (store.SynthDocument, store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return demoSynth()
	}
	doc, err := store.LoadSynth(path)
	if err != nil {
		return store.SynthDocument{}, nil, err
	}
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return doc, store.NewDirStore(dir, logs.NewLogger("store")), nil
}

func demoSynth() (store.SynthDocument, store.Store, error) {
	notes := make([]pattern.Note, 0, len(demoNotes))
	for _, n := range demoNotes {
		notes = append(notes, pattern.NewNote(n, 100, 50))
	}
	tempo, glide, delay := 120.0, 20.0, 25.0
	doc := store.SynthDocument{
		Name:     "demo",
		Tempo:    &tempo,
		Waveform: "triangle",
		Glide:    &glide,
		Delay:    &delay,
		Patterns: []store.Reference{{Ref: "demo"}},
	}
	return doc, store.NewMemStore(pattern.New("demo", "Demo", pattern.ArpForward, notes)), nil
}

func render(ctx context.Context, path string, st store.Store, doc store.SynthDocument, sampleRate int, seconds float64, loop bool) error {
	pat, err := store.Resolve(ctx, st, doc)
	if err != nil {
		return err
	}
	renderFn := synthseq.RenderSamples
	if loop {
		renderFn = synthseq.RenderLoop
	}
	samples, err := renderFn(pat, doc.Config(), sampleRate, seconds)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := synthseq.WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	fmt.Printf("wrote %s (%.1fs)\n", path, seconds)
	return f.Close()
}

func probeMIDI(logs logging.LoggerFactory) string {
	access, err := midi.RequestAccess(context.Background(), logs.NewLogger("midi"))
	if err != nil {
		return "MIDI unavailable: " + err.Error()
	}
	return fmt.Sprintf("MIDI: %d inputs, %d outputs", len(access.Inputs), len(access.Outputs))
}
