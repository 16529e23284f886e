package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/snippet"
)

type snippetRenderedMsg struct {
	key string
	out string
}

type snippetState int

const (
	snippetStateBrowse snippetState = iota
	snippetStateStatusMessage
)

// snippetModel shows the embed code for one agent.
type snippetModel struct {
	common *commonModel
	agent  agent.Agent
	code   string
	out    string
	state  snippetState

	statusMessage      string
	statusMessageTimer *time.Timer

	copy func(string) error
}

func newSnippetModel(common *commonModel) snippetModel {
	return snippetModel{
		common: common,
		copy:   snippet.Copy,
	}
}

func (m *snippetModel) open(a agent.Agent) tea.Cmd {
	m.agent = a
	m.state = snippetStateBrowse
	m.out = ""

	ref, err := a.Ref()
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	m.code = snippet.Generate(ref, m.common.cfg.ScriptURL)
	return renderSnippet(*m.common, a.Key, snippet.Markdown(ref, m.common.cfg.ScriptURL))
}

func (m *snippetModel) unload() {
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.state = snippetStateBrowse
}

func (m *snippetModel) showStatusMessage(msg string) tea.Cmd {
	m.state = snippetStateStatusMessage
	m.statusMessage = msg
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)
	return waitForStatusMessageTimeout(snippetContext, m.statusMessageTimer)
}

func (m snippetModel) update(msg tea.Msg) (snippetModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "c" && m.code != "" {
			if err := m.copy(m.code); err != nil {
				log.Debug("System clipboard unavailable", "error", err)
			}
			return m, m.showStatusMessage("Copied!")
		}

	case snippetRenderedMsg:
		if msg.key == m.agent.Key {
			m.out = msg.out
		}

	case statusMessageTimeoutMsg:
		if applicationContext(msg) == snippetContext {
			m.state = snippetStateBrowse
		}
	}
	return m, nil
}

func (m snippetModel) view() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", logoView(), titleStyle.Render("Get code: "+m.agent.Name))
	b.WriteString(subtleStyle.Render("Paste this snippet into your website's HTML to embed the agent."))
	b.WriteString("\n")

	out := m.out
	if out == "" {
		out = "\n" + m.code + "\n"
	}
	b.WriteString(out)
	b.WriteString("\n")
	b.WriteString(indent(helpView([][2]string{{"c", "copy"}, {"t", "test"}, {"esc", "back"}}), 2))
	b.WriteString("\n")
	b.WriteString(m.statusBarView())
	return b.String()
}

func (m snippetModel) statusBarView() string {
	logo := logoView()
	note := m.agent.Key
	style := statusBarNoteStyle
	if m.state == snippetStateStatusMessage {
		note = m.statusMessage
		style = statusBarMessageStyle
	}
	note = truncate.StringWithTail(" "+note+" ", uint(max(0, m.common.width-ansi.PrintableRuneWidth(logo))), ellipsis) //nolint:gosec
	padding := max(0, m.common.width-ansi.PrintableRuneWidth(logo)-ansi.PrintableRuneWidth(note))
	return logo + style(note) + style(strings.Repeat(" ", padding))
}

func renderSnippet(common commonModel, key, md string) tea.Cmd {
	return func() tea.Msg {
		if !common.cfg.GlamourEnabled {
			return snippetRenderedMsg{key: key, out: md}
		}
		width := max(0, min(int(common.cfg.GlamourMaxWidth), common.width)) //nolint:gosec
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(common.cfg.GlamourStyle),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			log.Error("error creating glamour renderer", "error", err)
			return snippetRenderedMsg{key: key, out: md}
		}
		out, err := r.Render(md)
		if err != nil {
			log.Error("error rendering snippet", "error", err)
			return snippetRenderedMsg{key: key, out: md}
		}
		return snippetRenderedMsg{key: key, out: out}
	}
}
