package store

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"

	"github.com/cbegin/synthseq-go/internal/pattern"
)

// NoteDocument is a stored note. Missing numeric fields take their schema
// defaults.
type NoteDocument struct {
	Note     string   `json:"note"`
	Velocity *float64 `json:"velocity,omitempty"`
	Gate     *float64 `json:"gate,omitempty"`
	Channel  *float64 `json:"channel,omitempty"`
}

func (d NoteDocument) ToNote() pattern.Note {
	n := pattern.NewNote(d.Note,
		percent(d.Velocity, pattern.DefaultVelocity),
		percent(d.Gate, pattern.DefaultGate))
	if d.Channel != nil {
		n = n.WithChannel(int(math.Round(*d.Channel)))
	}
	return n
}

// PatternDocument is a stored pattern.
type PatternDocument struct {
	ID          string         `json:"_id"`
	Title       string         `json:"title"`
	Arpeggiator string         `json:"arpeggiator,omitempty"`
	Notes       []NoteDocument `json:"notes"`
}

func (d PatternDocument) Pattern() *pattern.Pattern {
	notes := make([]pattern.Note, 0, len(d.Notes))
	for _, nd := range d.Notes {
		notes = append(notes, nd.ToNote())
	}
	return pattern.New(d.ID, d.Title, pattern.Arpeggiator(d.Arpeggiator), notes)
}

// Reference points at a pattern document by id.
type Reference struct {
	Ref string `json:"_ref"`
}

// SynthDocument is a stored synth: sound settings plus an ordered list of
// pattern references.
type SynthDocument struct {
	ID              string      `json:"_id,omitempty"`
	Name            string      `json:"name"`
	Tempo           *float64    `json:"tempo,omitempty"`
	Waveform        string      `json:"waveform,omitempty"`
	FilterFrequency *float64    `json:"filterFrequency,omitempty"`
	Glide           *float64    `json:"glide,omitempty"`
	Delay           *float64    `json:"delay,omitempty"`
	Waveshaper      bool        `json:"waveshaper,omitempty"`
	WaveshaperCurve []float64   `json:"waveshaperCurve,omitempty"`
	Patterns        []Reference `json:"patterns,omitempty"`
}

// Config converts the document to a normalized SynthConfig. An absent filter
// frequency means no filter.
func (d SynthDocument) Config() pattern.SynthConfig {
	cfg := pattern.SynthConfig{
		Waveform:          pattern.ParseWaveform(d.Waveform),
		WaveshaperEnabled: d.Waveshaper,
		WaveshaperCurve:   d.WaveshaperCurve,
	}
	if d.Tempo != nil {
		cfg.TempoBPM = *d.Tempo
	}
	if d.FilterFrequency != nil {
		cfg.FilterCutoffHz = *d.FilterFrequency
	}
	cfg.GlidePercent = percent(d.Glide, 0)
	cfg.DelayPercent = percent(d.Delay, 0)
	return cfg.Normalize()
}

// IDs lists the referenced pattern ids in order, without duplicates.
func (d SynthDocument) IDs() []string {
	seen := make(map[string]bool, len(d.Patterns))
	var ids []string
	for _, r := range d.Patterns {
		if r.Ref == "" || seen[r.Ref] {
			continue
		}
		seen[r.Ref] = true
		ids = append(ids, r.Ref)
	}
	return ids
}

func percent(v *float64, def int) int {
	if v == nil || math.IsNaN(*v) {
		return def
	}
	f := math.Round(*v)
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(f)
}

func DecodeSynth(r io.Reader) (SynthDocument, error) {
	var d SynthDocument
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return SynthDocument{}, errors.Wrap(err, "decode synth")
	}
	return d, nil
}

func DecodePattern(r io.Reader) (PatternDocument, error) {
	var d PatternDocument
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return PatternDocument{}, errors.Wrap(err, "decode pattern")
	}
	return d, nil
}

// LoadSynth reads a synth document from a JSON file.
func LoadSynth(path string) (SynthDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return SynthDocument{}, errors.Wrapf(err, "open synth %s", path)
	}
	defer f.Close()
	d, err := DecodeSynth(f)
	if err != nil {
		return SynthDocument{}, errors.Wrapf(err, "load %s", path)
	}
	return d, nil
}
