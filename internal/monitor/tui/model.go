// Package tui renders a live view of call router sessions.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	types "github.com/sebas/callrouter/api/types/v1"
	"github.com/sebas/callrouter/internal/callrouter/notify"
)

const (
	maxRecent   = 10
	maxDialOuts = 5

	watchRetryMin = time.Second
	watchRetryMax = 30 * time.Second
)

// Client event names as pushed by the router.
const (
	eventNew     = "session-new"
	eventTalking = "session-talking"
	eventQueued  = "session-queued"
	eventEnd     = "session-end"
	eventDialOut = "dial-out"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AAAAAA"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5534B"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#57AB5A"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C69026"))
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Receiver yields notifications from the router.
type Receiver interface {
	Recv() (notify.Message, error)
}

// DialFunc opens a new notification stream.
type DialFunc func() (Receiver, error)

// StatsSource polls router counters.
type StatsSource interface {
	Health(ctx context.Context) (*types.HealthResponse, error)
	Stats(ctx context.Context) (*types.StatsResponse, error)
}

type notificationMsg notify.Message

type watchErrMsg struct{ err error }

type watchOpenedMsg struct{ watch Receiver }

type redialMsg struct{}

type statsMsg struct {
	health *types.HealthResponse
	stats  *types.StatsResponse
	err    error
}

type tickMsg time.Time

// Model is the bubbletea model for the monitor.
type Model struct {
	dial    DialFunc
	watch   Receiver
	retry   time.Duration
	source  StatsSource
	refresh time.Duration

	live     map[string]types.Session
	recent   []types.Session
	dialOuts []types.DialOut
	stats    *types.StatsResponse
	health   *types.HealthResponse

	spinner  spinner.Model
	watchErr error
	pollErr  error
	width    int
}

// New creates a model fed by streams opened with dial and polling source
// every refresh. A broken stream is reopened with exponential backoff.
// Either may be nil.
func New(dial DialFunc, source StatsSource, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 3 * time.Second
	}
	return Model{
		dial:    dial,
		retry:   watchRetryMin,
		source:  source,
		refresh: refresh,
		live:    make(map[string]types.Session),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.open(), m.poll(), m.spinner.Tick)
}

func (m Model) open() tea.Cmd {
	if m.dial == nil {
		return nil
	}
	dial := m.dial
	return func() tea.Msg {
		w, err := dial()
		if err != nil {
			return watchErrMsg{err: err}
		}
		return watchOpenedMsg{watch: w}
	}
}

func (m Model) redial() tea.Cmd {
	return tea.Tick(m.retry, func(time.Time) tea.Msg { return redialMsg{} })
}

func (m Model) recv() tea.Cmd {
	if m.watch == nil {
		return nil
	}
	w := m.watch
	return func() tea.Msg {
		msg, err := w.Recv()
		if err != nil {
			return watchErrMsg{err: err}
		}
		return notificationMsg(msg)
	}
}

func (m Model) poll() tea.Cmd {
	if m.source == nil {
		return nil
	}
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		health, err := src.Health(ctx)
		if err != nil {
			return statsMsg{err: err}
		}
		stats, err := src.Stats(ctx)
		return statsMsg{health: health, stats: stats, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchOpenedMsg:
		m.watch = msg.watch
		return m, m.recv()
	case notificationMsg:
		m.watchErr = nil
		m.retry = watchRetryMin
		m.apply(notify.Message(msg))
		return m, m.recv()
	case watchErrMsg:
		m.watchErr = msg.err
		m.watch = nil
		if m.dial == nil {
			return m, nil
		}
		cmd := m.redial()
		m.retry = min(m.retry*2, watchRetryMax)
		return m, cmd
	case redialMsg:
		return m, m.open()
	case statsMsg:
		m.pollErr = msg.err
		if msg.err == nil {
			m.health = msg.health
			m.stats = msg.stats
		}
		return m, m.tick()
	case tickMsg:
		return m, m.poll()
	case spinner.TickMsg:
		if m.health != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds one notification into the view state.
func (m *Model) apply(msg notify.Message) {
	switch msg.Event {
	case notify.ActiveSessions:
		var sessions []types.Session
		if err := msg.Decode(&sessions); err != nil {
			return
		}
		m.live = make(map[string]types.Session, len(sessions))
		for _, s := range sessions {
			m.live[s.ID] = s
		}
	case eventNew, eventTalking, eventQueued:
		var s types.Session
		if err := msg.Decode(&s); err != nil || s.ID == "" {
			return
		}
		m.live[s.ID] = s
	case eventEnd:
		var s types.Session
		if err := msg.Decode(&s); err != nil || s.ID == "" {
			return
		}
		delete(m.live, s.ID)
		m.recent = prepend(m.recent, s, maxRecent)
	case eventDialOut:
		var d types.DialOut
		if err := msg.Decode(&d); err != nil {
			return
		}
		m.dialOuts = prepend(m.dialOuts, d, maxDialOuts)
	}
}

func prepend[T any](list []T, v T, limit int) []T {
	list = append([]T{v}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Live returns the live sessions ordered by id.
func (m Model) Live() []types.Session {
	out := make([]types.Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recent returns ended sessions, newest first.
func (m Model) Recent() []types.Session { return m.recent }

// DialOuts returns reported dial-outs, newest first.
func (m Model) DialOuts() []types.DialOut { return m.dialOuts }

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Call Router Monitor"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	b.WriteString(panelStyle.Render(m.liveView()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.recentView()))
	b.WriteString("\n")
	if len(m.dialOuts) > 0 {
		b.WriteString(panelStyle.Render(m.dialOutView()))
		b.WriteString("\n")
	}

	if m.watchErr != nil {
		b.WriteString(errorStyle.Render("watch: " + m.watchErr.Error()))
		b.WriteString("\n")
	}
	if m.pollErr != nil {
		b.WriteString(errorStyle.Render("poll: " + m.pollErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("q: quit"))
	return b.String()
}

func (m Model) statusLine() string {
	if m.health == nil {
		return m.spinner.View() + mutedStyle.Render(" connecting...")
	}
	state := okStyle.Render(m.health.Status)
	if m.health.Status != "ok" {
		state = warnStyle.Render(m.health.Status)
	}
	line := fmt.Sprintf("%s  gateway %s  up %s", state, m.health.GatewayState,
		(time.Duration(m.health.Uptime) * time.Second).String())
	if m.stats != nil {
		line += fmt.Sprintf("  total %d  answered %d  queued %d",
			m.stats.TotalSessions, m.stats.AnsweredSessions, m.stats.QueuedSessions)
	}
	return line
}

func (m Model) liveView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Live sessions (%d)", len(m.live))))
	live := m.Live()
	if len(live) == 0 {
		b.WriteString("\n" + mutedStyle.Render("none"))
		return b.String()
	}
	for _, s := range live {
		b.WriteString("\n")
		b.WriteString(sessionRow(s))
	}
	return b.String()
}

func (m Model) recentView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Recently ended"))
	if len(m.recent) == 0 {
		b.WriteString("\n" + mutedStyle.Render("none"))
		return b.String()
	}
	for _, s := range m.recent {
		b.WriteString("\n")
		b.WriteString(sessionRow(s))
		if s.Cause != "" {
			b.WriteString(mutedStyle.Render("  " + s.Cause))
		}
	}
	return b.String()
}

func (m Model) dialOutView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Dial-outs"))
	for _, d := range m.dialOuts {
		b.WriteString(fmt.Sprintf("\n%-12s %s -> %s  %s", d.State, d.Phone, d.To, mutedStyle.Render(d.Name)))
	}
	return b.String()
}

func sessionRow(s types.Session) string {
	caller := "-"
	if s.Channels.In != nil {
		caller = s.Channels.In.Caller.Number
		if s.Channels.In.Caller.Name != "" {
			caller = fmt.Sprintf("%s <%s>", s.Channels.In.Caller.Name, caller)
		}
	}
	target := s.Manager
	if s.Dialed != "" {
		target = s.Dialed
	}
	if target == "" {
		target = "-"
	}
	state := s.State
	if s.Queued {
		state = warnStyle.Render(state + " (queued)")
	}
	row := fmt.Sprintf("%-14s %-28s -> %-12s %s", shortID(s.ID), caller, target, state)
	if s.DurationMs > 0 {
		row += mutedStyle.Render("  " + (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Second).String())
	}
	return row
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
