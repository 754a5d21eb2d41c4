// Package pitch maps note names to playback frequencies.
package pitch

import "strings"

// Default is returned for any name missing from the table (A4).
const Default = 440.0

// The values are rounded to whole Hz on purpose; existing patterns were
// voiced against them.
var table = map[string]float64{
	"C4":  261,
	"C#4": 277,
	"D4":  293,
	"D#4": 311,
	"E4":  329,
	"F4":  349,
	"C5":  523,
	"C#5": 554,
	"D5":  587,
	"D#5": 622,
	"E5":  659,
	"F5":  698,
}

// Resolve returns the frequency for name, or Default when the name is unknown.
// It never fails.
func Resolve(name string) float64 {
	if f, ok := Lookup(name); ok {
		return f
	}
	return Default
}

// Lookup reports whether name is in the table. Matching is exact apart from
// surrounding whitespace.
func Lookup(name string) (float64, bool) {
	f, ok := table[strings.TrimSpace(name)]
	return f, ok
}

// Names lists the table entries in ascending frequency order.
func Names() []string {
	return []string{"C4", "C#4", "D4", "D#4", "E4", "F4", "C5", "C#5", "D5", "D#5", "E5", "F5"}
}
