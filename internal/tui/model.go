// Package tui shows a pattern as a grid of steps, highlighting the step that
// is playing, with play and stop keys.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/synthseq-go/internal/pattern"
)

// Transport is the playback control the grid observes and drives.
type Transport interface {
	Play(ctx context.Context) error
	Stop()
	CurrentStep() int
	IsPlaying() bool
}

const (
	columns      = 8
	tickInterval = 30 * time.Millisecond
)

var (
	accent = lipgloss.Color("#FFC819")
	border = lipgloss.Color("#E2E8F0")
	muted  = lipgloss.Color("#718096")
)

var cellStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(border).
	Width(5).
	Align(lipgloss.Center)

var activeStyle = cellStyle.
	BorderForeground(accent).
	Foreground(accent).
	Bold(true)

var (
	infoStyle   = lipgloss.NewStyle().Foreground(muted)
	statusStyle = lipgloss.NewStyle().Foreground(accent)
)

// InfoLine describes a synth the way the grid footer shows it. A zero tempo
// or empty waveform means the setting is absent from the document.
func InfoLine(tempo float64, waveform string) string {
	s := "No tempo set"
	if tempo > 0 {
		s = fmt.Sprintf("Tempo: %g BPM", tempo)
	}
	if waveform != "" {
		s += " · Waveform: " + waveform
	}
	return s
}

type tickMsg struct{}

type statusMsg string

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type Model struct {
	transport Transport
	notes     []pattern.Note
	info      string
	midi      func() string
	step      int
	playing   bool
	status    string
	quitting  bool
}

// NewModel builds the grid for notes. midi, if set, runs when M is pressed
// and returns a status line.
func NewModel(t Transport, notes []pattern.Note, info string, midi func() string) Model {
	return Model{
		transport: t,
		notes:     notes,
		info:      info,
		midi:      midi,
		step:      -1,
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.transport.Stop()
			return m, tea.Quit
		case "p", " ":
			if err := m.transport.Play(context.Background()); err != nil {
				m.status = err.Error()
			} else {
				m.status = ""
			}
		case "s":
			m.transport.Stop()
		case "m":
			if m.midi != nil {
				probe := m.midi
				return m, func() tea.Msg { return statusMsg(probe()) }
			}
		}
		m.sync()
	case statusMsg:
		m.status = string(msg)
	case tickMsg:
		m.sync()
		return m, tick()
	}
	return m, nil
}

func (m *Model) sync() {
	m.step = m.transport.CurrentStep()
	m.playing = m.transport.IsPlaying()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var rows []string
	for start := 0; start < len(m.notes); start += columns {
		end := start + columns
		if end > len(m.notes) {
			end = len(m.notes)
		}
		cells := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			style := cellStyle
			if i == m.step {
				style = activeStyle
			}
			cells = append(cells, style.Render(m.notes[i].Pitch))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	var b strings.Builder
	if len(rows) == 0 {
		b.WriteString(infoStyle.Render("(no notes)"))
	} else {
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left, rows...))
	}
	b.WriteString("\n\n")
	state := "stopped"
	if m.playing {
		state = "playing"
	}
	b.WriteString(fmt.Sprintf("[%s]  p play · s stop · m midi · q quit\n", state))
	b.WriteString(infoStyle.Render(m.info))
	if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	return b.String()
}
