package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/knobsuite/internal/suite"
)

const (
	frameInterval = 16 * time.Millisecond
	nudge         = 5
	sparkWidth    = 48
)

type frameMsg time.Time

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// SetpointSource hands out the next targets when the knobs come to rest in
// auto mode.
type SetpointSource func() []float64

// Model is the live view: every frame it runs a few suite rounds and shows
// where each knob is.
type Model struct {
	ctx     context.Context
	suite   *suite.Suite
	mode    suite.Mode
	feed    *Feed
	next    SetpointSource
	targets []float64

	cursor    int
	perFrame  int
	paused    bool
	auto      bool
	moving    bool
	moves     int
	lastMove  time.Duration
	moveStart time.Time
	err       error

	width  int
	height int
}

// NewLive builds the view. feed must already be registered as an observer
// on s. next may be nil, which disables auto mode.
func NewLive(ctx context.Context, s *suite.Suite, mode suite.Mode, feed *Feed, next SetpointSource) Model {
	targets := make([]float64, s.Len())
	for i, c := range s.Controllers() {
		targets[i] = c.Target()
	}
	return Model{
		ctx:       ctx,
		suite:     s,
		mode:      mode,
		feed:      feed,
		next:      next,
		targets:   targets,
		perFrame:  4,
		moving:    !s.AllSettled(),
		moveStart: s.Clock().Now(),
		width:     80,
		height:    24,
	}
}

func (m Model) Init() tea.Cmd { return frame() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case frameMsg:
		m = m.step()
		return m, frame()
	}
	return m, nil
}

func (m Model) step() Model {
	if m.paused || m.err != nil {
		return m
	}
	if !m.moving {
		if m.auto && m.next != nil {
			m = m.begin(m.next())
		}
		return m
	}
	for i := 0; i < m.perFrame; i++ {
		done, err := m.suite.Round(m.ctx, m.mode)
		if err != nil {
			m.err = err
			m.moving = false
			return m
		}
		if done {
			m.moving = false
			m.moves++
			m.lastMove = m.suite.Clock().Now().Sub(m.moveStart)
			return m
		}
	}
	return m
}

func (m Model) begin(targets []float64) Model {
	if len(targets) != m.suite.Len() {
		m.err = &suite.ArityError{Want: m.suite.Len(), Got: len(targets)}
		return m
	}
	m.targets = append(m.targets[:0:0], targets...)
	m.moveStart = m.suite.Clock().Now()
	if err := m.suite.Begin(m.ctx, m.targets); err != nil {
		m.err = err
		return m
	}
	m.err = nil
	m.moving = !m.suite.AllSettled()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ":
		m.paused = !m.paused
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.targets)-1 {
			m.cursor++
		}
	case "left", "h":
		m.targets[m.cursor] = m.clampTarget(m.cursor, m.targets[m.cursor]-nudge)
	case "right", "l":
		m.targets[m.cursor] = m.clampTarget(m.cursor, m.targets[m.cursor]+nudge)
	case "enter":
		m.err = nil
		m = m.begin(m.targets)
	case "a":
		if m.next != nil {
			m.auto = !m.auto
		}
	case "r":
		if m.next != nil {
			m.err = nil
			m = m.begin(m.next())
		}
	case "+", "=":
		if m.perFrame < 256 {
			m.perFrame *= 2
		}
	case "-":
		if m.perFrame > 1 {
			m.perFrame /= 2
		}
	}
	return m, nil
}

func (m Model) clampTarget(ch int, v float64) float64 {
	cfg := m.suite.Controllers()[ch].Config()
	return math.Max(cfg.MinPosition, math.Min(cfg.MaxPosition, v))
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(dimmer.Render("   ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("        " + cyan.Render("k n o b s u i t e") + "\n")
	b.WriteString(dimmer.Render("   ╺━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n\n")

	status := green.Render("holding")
	switch {
	case m.err != nil:
		status = red.Render("error")
	case m.paused:
		status = yellow.Render("paused")
	case m.moving:
		status = magenta.Render("moving")
	}
	auto := ""
	if m.auto {
		auto = cyan.Render("  auto")
	}
	b.WriteString(fmt.Sprintf("   %s  %s  %s%s\n\n",
		status,
		dim.Render(m.mode.String()),
		dim.Render(fmt.Sprintf("moves %d  last %.2fs  x%d", m.moves, m.lastMove.Seconds(), m.perFrame)),
		auto))

	controllers := m.suite.Controllers()
	for ch, c := range controllers {
		cfg := c.Config()
		snap, ok := m.feed.Last(ch)
		if !ok {
			snap = c.Snapshot()
		}

		cursor := "  "
		label := dim.Render(fmt.Sprintf("ch%d", ch))
		if ch == m.cursor {
			cursor = cyan.Render("▸ ")
			label = white.Render(fmt.Sprintf("ch%d", ch))
		}
		target := fmt.Sprintf("%6.1f", m.targets[ch])
		if m.targets[ch] != c.Target() {
			target = magenta.Render(target)
		} else {
			target = white.Render(target)
		}

		b.WriteString(fmt.Sprintf("   %s%s  target %s  pos %s  cmd %s  %s %s\n",
			cursor, label, target,
			cyan.Render(fmt.Sprintf("%6.1f", snap.Position)),
			dim.Render(fmt.Sprintf("%6.1f", snap.Command)),
			ProgressBar(snap.Settling, 12),
			dim.Render(c.State().String())))
		b.WriteString("         " + cyan.Render(Sparkline(m.feed.History(ch), cfg.MinPosition, cfg.MaxPosition, sparkWidth)) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}

	keys := "   ↑↓ knob  ←→ target  enter go  space pause  ±speed  q quit"
	if m.next != nil {
		keys = "   ↑↓ knob  ←→ target  enter go  r random  a auto  space pause  ±speed  q quit"
	}
	b.WriteString("\n" + dim.Render(keys) + "\n")
	return b.String()
}

// Moving reports whether a move is in progress.
func (m Model) Moving() bool { return m.moving }

// Err returns the error that stopped the last move, if any.
func (m Model) Err() error { return m.err }

func (m Model) Targets() []float64 { return append([]float64(nil), m.targets...) }

// RunLive runs the view full screen until the user quits.
func RunLive(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	return err
}
