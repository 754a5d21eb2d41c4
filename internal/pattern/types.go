package pattern

import "strings"

// Note is a single step of a pattern. Velocity and Gate are percentages in
// [0,100]; values are clamped once by NewNote and never again downstream.
type Note struct {
	Pitch    string
	Velocity int
	Gate     int // fraction of the beat the note sounds
	Channel  int // 1-16, informational only
}

const (
	DefaultVelocity = 100
	DefaultGate     = 50
	DefaultChannel  = 1
)

// NewNote is the ingestion boundary for note data.
func NewNote(pitch string, velocity, gate int) Note {
	return Note{
		Pitch:    strings.TrimSpace(pitch),
		Velocity: clampInt(velocity, 0, 100),
		Gate:     clampInt(gate, 0, 100),
		Channel:  DefaultChannel,
	}
}

// WithChannel returns a copy of n on the given MIDI channel (clamped to 1-16).
func (n Note) WithChannel(ch int) Note {
	n.Channel = clampInt(ch, 1, 16)
	return n
}

// Arpeggiator is carried from pattern documents. Playback does not consult it.
type Arpeggiator string

const (
	ArpForward   Arpeggiator = "forward"
	ArpBackward  Arpeggiator = "backward"
	ArpUp        Arpeggiator = "up"
	ArpDown      Arpeggiator = "down"
	ArpInclusive Arpeggiator = "inclusive"
	ArpExclusive Arpeggiator = "exclusive"
	ArpRandom    Arpeggiator = "random"
)

// Pattern is an ordered, immutable list of notes. Insertion order is
// playback order.
type Pattern struct {
	id    string
	title string
	arp   Arpeggiator
	notes []Note
}

func New(id, title string, arp Arpeggiator, notes []Note) *Pattern {
	if arp == "" {
		arp = ArpForward
	}
	cp := make([]Note, len(notes))
	copy(cp, notes)
	return &Pattern{id: id, title: title, arp: arp, notes: cp}
}

// Of builds an anonymous forward pattern, mostly for tests and previews.
func Of(notes ...Note) *Pattern {
	return New("", "", ArpForward, notes)
}

func (p *Pattern) ID() string               { return p.id }
func (p *Pattern) Title() string            { return p.title }
func (p *Pattern) Arpeggiator() Arpeggiator { return p.arp }

// Len is nil-safe so an unset pattern behaves as an empty one.
func (p *Pattern) Len() int {
	if p == nil {
		return 0
	}
	return len(p.notes)
}

func (p *Pattern) At(i int) (Note, bool) {
	if p == nil || i < 0 || i >= len(p.notes) {
		return Note{}, false
	}
	return p.notes[i], true
}

// Notes returns a copy of the note list.
func (p *Pattern) Notes() []Note {
	if p == nil {
		return nil
	}
	out := make([]Note, len(p.notes))
	copy(out, p.notes)
	return out
}

// Concat flattens patterns in order into a single pattern. Nil entries
// contribute nothing.
func Concat(id string, patterns ...*Pattern) *Pattern {
	var notes []Note
	for _, p := range patterns {
		if p == nil {
			continue
		}
		notes = append(notes, p.notes...)
	}
	return New(id, "", ArpForward, notes)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
