// Package envelope holds the timing math for a single step: beat and note
// durations, glide and delay times, and the ordered gain envelope events.
// All times are in seconds.
package envelope

import (
	"math"
	"sort"

	"github.com/cbegin/synthseq-go/internal/pattern"
)

const (
	Floor   = 0.001 // near-silence target for ramps
	Attack  = 0.010 // shaped onset ramp
	Release = 0.020 // note-off ramp
	Hold    = 0.030 // after release and delay tail, before teardown

	// GlideScale divides noteDuration*glidePercent into the glide time, so a
	// glide of 100 spans the whole note.
	GlideScale = 100.0
)

// Tempo returns bpm, or pattern.DefaultTempo when bpm is not a positive number.
func Tempo(bpm float64) float64 {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return pattern.DefaultTempo
	}
	return bpm
}

// BeatDuration is one step at the given tempo.
func BeatDuration(bpm float64) float64 {
	return 60 / Tempo(bpm)
}

func NoteDuration(gatePercent int, bpm float64) float64 {
	return float64(gatePercent) / 100 * BeatDuration(bpm)
}

func GlideDuration(noteDuration float64, glidePercent int) float64 {
	if glidePercent <= 0 {
		return 0
	}
	return noteDuration * float64(glidePercent) / GlideScale
}

func DelayTime(noteDuration float64, delayPercent int) float64 {
	if delayPercent <= 0 {
		return 0
	}
	return noteDuration * float64(delayPercent) / 100
}

type EventKind int

const (
	Onset EventKind = iota
	AttackEnd
	GlideEnd
	ReleaseStart
	ReleaseEnd
	Teardown
)

func (k EventKind) String() string {
	switch k {
	case Onset:
		return "onset"
	case AttackEnd:
		return "attack-end"
	case GlideEnd:
		return "glide-end"
	case ReleaseStart:
		return "release-start"
	case ReleaseEnd:
		return "release-end"
	case Teardown:
		return "teardown"
	}
	return "unknown"
}

// Event is offset from the note's onset.
type Event struct {
	Kind EventKind
	At   float64
}

// Plan is the per-step schedule of one note, derived once from the note and
// the synth config in effect at that step.
type Plan struct {
	Gain          float64 // velocity / 100
	NoteDuration  float64
	GlideDuration float64
	DelayTime     float64
	Shaped        bool // waveshaper active: onset is ramped from Floor
	Events        []Event
}

// NewPlan expects a normalized config.
func NewPlan(n pattern.Note, cfg pattern.SynthConfig) Plan {
	noteDur := NoteDuration(n.Gate, cfg.TempoBPM)
	p := Plan{
		Gain:          float64(n.Velocity) / 100,
		NoteDuration:  noteDur,
		GlideDuration: GlideDuration(noteDur, cfg.GlidePercent),
		DelayTime:     DelayTime(noteDur, cfg.DelayPercent),
		Shaped:        cfg.WaveshaperEnabled,
	}
	p.Events = append(p.Events, Event{Onset, 0})
	if p.Shaped {
		// attack never outlasts the note so release always follows it
		p.Events = append(p.Events, Event{AttackEnd, math.Min(Attack, noteDur)})
	}
	if p.GlideDuration > 0 {
		p.Events = append(p.Events, Event{GlideEnd, p.GlideDuration})
	}
	p.Events = append(p.Events,
		Event{ReleaseStart, noteDur},
		Event{ReleaseEnd, noteDur + Release},
		Event{Teardown, noteDur + Release + p.DelayTime + Hold},
	)
	sort.SliceStable(p.Events, func(i, j int) bool { return p.Events[i].At < p.Events[j].At })
	return p
}

// At returns the offset of the first event of the given kind.
func (p Plan) At(kind EventKind) (float64, bool) {
	for _, ev := range p.Events {
		if ev.Kind == kind {
			return ev.At, true
		}
	}
	return 0, false
}

// TeardownAt is the offset after which every node of the note is released.
func (p Plan) TeardownAt() float64 {
	at, _ := p.At(Teardown)
	return at
}
