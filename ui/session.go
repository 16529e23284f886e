package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/stopwatch"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/wordwrap"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/embed"
	"github.com/naradvoice/narad/internal/engine"
)

const (
	sinkBuffer      = 32
	transcriptLines = 6
	stopTimeout     = 10 * time.Second
)

type (
	// mountedMsg is sent once the engine runtime is loaded and the agent
	// is bound to a bridge.
	mountedMsg struct {
		gen     int
		mounted *embed.Mounted
		err     error
	}

	// bridgeEventMsg carries one status update or message from the bridge.
	bridgeEventMsg struct {
		gen int
		ev  bridge.Event
	}

	startDoneMsg struct {
		gen int
		err error
	}
)

// sessionModel is the test view: one agent bound to one bridge.
type sessionModel struct {
	common *commonModel
	gen    int

	agent   agent.Agent
	ref     agent.Ref
	mounted *embed.Mounted
	sink    *bridge.ChanSink
	done    chan struct{}

	loading  bool
	starting bool
	status   bridge.Update
	err      error // last failure, shown as a dialog
	warning  error // non-fatal condition reported with the last update

	messages  []engine.Message
	spinner   spinner.Model
	stopwatch stopwatch.Model
}

func newSessionModel(common *commonModel) sessionModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = connectingStyle

	return sessionModel{
		common:    common,
		spinner:   sp,
		stopwatch: stopwatch.NewWithInterval(time.Second),
	}
}

// open binds a to a fresh bridge. The previous session, if any, must have
// been closed.
func (m *sessionModel) open(a agent.Agent) tea.Cmd {
	m.gen++
	m.agent = a
	m.ref, _ = a.Ref()
	m.mounted = nil
	m.sink = bridge.NewChanSink(sinkBuffer)
	m.done = make(chan struct{})
	m.loading = true
	m.starting = false
	m.status = bridge.Update{}
	m.err = nil
	m.warning = nil
	m.messages = nil
	m.stopwatch = stopwatch.NewWithInterval(time.Second)

	log.Debug("Opening test session", "agent", a.Key)
	return tea.Batch(
		m.spinner.Tick,
		mountCmd(m.gen, a, m.common.deps, m.sink),
	)
}

// close tears the bridge down. The returned command blocks until the
// engine session has ended.
func (m *sessionModel) close() tea.Cmd {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	if m.sink != nil {
		m.sink.Close()
	}
	mounted := m.mounted
	m.mounted = nil
	m.gen++
	if mounted == nil {
		return nil
	}
	return func() tea.Msg {
		mounted.Unmount()
		log.Debug("Test session closed", "agent", mounted.Ref.String())
		return nil
	}
}

func (m sessionModel) active() bool {
	return m.starting || m.status.Status != bridge.StatusIdle
}

func (m sessionModel) update(msg tea.Msg) (sessionModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "s", "enter", " ":
			if m.err != nil {
				m.err = nil
				return m, nil
			}
			if m.mounted == nil || m.active() {
				return m, nil
			}
			m.starting = true
			m.warning = nil
			return m, tea.Batch(m.spinner.Tick, startCmd(m.gen, m.mounted))
		case "x":
			if m.mounted == nil || !m.active() {
				return m, nil
			}
			return m, stopCmd(m.mounted)
		}

	case mountedMsg:
		if msg.gen != m.gen {
			if msg.mounted != nil {
				go msg.mounted.Unmount()
			}
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mounted = msg.mounted
		m.status = msg.mounted.Bridge.Status()
		return m, waitForBridgeEvent(m.gen, m.sink, m.done)

	case startDoneMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.starting = false
		if msg.err != nil && !errors.Is(msg.err, bridge.ErrStopped) && !errors.Is(msg.err, bridge.ErrClosed) {
			m.err = msg.err
		}

	case bridgeEventMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		cmds = append(cmds, m.handleEvent(msg.ev), waitForBridgeEvent(m.gen, m.sink, m.done))

	case spinner.TickMsg:
		if m.loading || m.starting || m.status.Status == bridge.StatusConnecting || m.status.Speaking() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case stopwatch.TickMsg, stopwatch.StartStopMsg, stopwatch.ResetMsg:
		var cmd tea.Cmd
		m.stopwatch, cmd = m.stopwatch.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *sessionModel) handleEvent(ev bridge.Event) tea.Cmd {
	if ev.Message != nil {
		m.messages = append(m.messages, *ev.Message)
		if len(m.messages) > transcriptLines {
			m.messages = m.messages[len(m.messages)-transcriptLines:]
		}
		return nil
	}
	if ev.Update == nil {
		return nil
	}

	prev := m.status
	m.status = *ev.Update
	if ev.Update.Warning != nil {
		m.warning = ev.Update.Warning
	}

	switch {
	case m.status.Status == bridge.StatusConnected && prev.Status != bridge.StatusConnected:
		return tea.Batch(m.stopwatch.Reset(), m.stopwatch.Start())
	case m.status.Status == bridge.StatusConnecting:
		return m.spinner.Tick
	case m.status.Speaking() && !prev.Speaking():
		return m.spinner.Tick
	case m.status.Status == bridge.StatusIdle && prev.Status == bridge.StatusConnected:
		return m.stopwatch.Stop()
	}
	return nil
}

func (m sessionModel) view() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", logoView(), titleStyle.Render(m.agent.Name))
	fmt.Fprintf(&b, "%s\n\n", subtleStyle.Render(m.agent.Description))

	b.WriteString(m.statusView())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(m.errorView())
		b.WriteString("\n\n")
	} else if m.warning != nil {
		b.WriteString(warningStyle.Render(errorMessage(m.warning)))
		b.WriteString("\n\n")
	}

	if len(m.messages) > 0 {
		b.WriteString(m.transcriptView())
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s %s\n\n", dimStyle.Render("Bridge ID:"), subtleStyle.Render(m.ref.EngineID()))
	b.WriteString(m.helpView())
	return indent(b.String(), 2)
}

func (m sessionModel) statusView() string {
	switch {
	case m.loading:
		return m.spinner.View() + " " + connectingStyle.Render("LOADING...")
	case m.status.Status == bridge.StatusConnected:
		s := liveStyle.Render("● LIVE") + " " + dimStyle.Render(m.stopwatch.View())
		if m.status.Speaking() {
			return s + "  " + m.spinner.View() + " " + subtleStyle.Render("Agent is speaking")
		}
		return s + "  " + subtleStyle.Render("Listening")
	case m.starting || m.status.Status == bridge.StatusConnecting:
		return m.spinner.View() + " " + connectingStyle.Render("CONNECTING...")
	default:
		return readyStyle.Render("READY")
	}
}

func (m sessionModel) errorView() string {
	width := max(20, min(m.common.width-8, 72))
	text := wordwrap.String(errorMessage(m.err), width)
	return panelStyle.Render(errorTitleStyle.Render("Voice Bridge Error") + "\n\n" + errorTextStyle.Render(text))
}

func (m sessionModel) transcriptView() string {
	width := max(20, m.common.width-12)
	var b strings.Builder
	for _, msg := range m.messages {
		who := "you"
		style := subtleStyle
		if msg.Source == "ai" {
			who = "agent"
			style = selectedStyle
		}
		fmt.Fprintf(&b, "%s %s\n", style.Render(fmt.Sprintf("%5s:", who)), wordwrap.String(msg.Text, width))
	}
	return b.String()
}

func (m sessionModel) helpView() string {
	switch {
	case m.err != nil:
		return helpView([][2]string{{"enter", "dismiss"}, {"esc", "close"}})
	case m.active():
		return helpView([][2]string{{"x", "end call"}, {"esc", "close"}})
	default:
		return helpView([][2]string{{"s", "start call"}, {"esc", "close"}})
	}
}

// errorMessage returns the user-facing text of err.
func errorMessage(err error) string {
	var be *bridge.Error
	if errors.As(err, &be) {
		return be.Message()
	}
	return err.Error()
}

// COMMANDS

func mountCmd(gen int, a agent.Agent, deps embed.Deps, sink bridge.Sink) tea.Cmd {
	return func() tea.Msg {
		opts := make([]bridge.Option, 0, len(deps.Options)+1)
		opts = append(opts, deps.Options...)
		opts = append(opts, bridge.WithSink(sink))
		deps.Options = opts

		el := embed.Element{Attrs: map[string]string{embed.AgentIDAttr: a.AgentID}}
		mounted, err := embed.Mount(context.Background(), el, deps)
		if err == nil && mounted == nil {
			err = fmt.Errorf("agent %q: %w", a.Key, agent.ErrEmptyRef)
		}
		return mountedMsg{gen: gen, mounted: mounted, err: err}
	}
}

func startCmd(gen int, mounted *embed.Mounted) tea.Cmd {
	return func() tea.Msg {
		return startDoneMsg{gen: gen, err: mounted.Start(context.Background())}
	}
}

func stopCmd(mounted *embed.Mounted) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		mounted.Bridge.Stop(ctx)
		return nil
	}
}

func waitForBridgeEvent(gen int, sink *bridge.ChanSink, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-sink.Events():
			return bridgeEventMsg{gen: gen, ev: ev}
		case <-done:
			return nil
		}
	}
}
