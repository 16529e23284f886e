package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"

	"github.com/naradvoice/narad/internal/agent"
)

const nameColumnWidth = 30

type filterState int

const (
	unfiltered filterState = iota
	filtering
	filterApplied
)

type catalogModel struct {
	common      *commonModel
	agents      agent.Catalog
	filtered    agent.Catalog
	cursor      int
	filterState filterState
	filterInput textinput.Model
}

func newCatalogModel(common *commonModel, agents agent.Catalog) catalogModel {
	ti := textinput.New()
	ti.Prompt = "Find: "
	ti.PromptStyle = selectedStyle
	ti.Cursor.Style = selectedStyle
	ti.CharLimit = 64

	m := catalogModel{
		common:      common,
		filterInput: ti,
	}
	m.setAgents(agents)
	return m
}

// setAgents replaces the catalog, keeping the active filter and the
// selection if the selected agent is still present.
func (m *catalogModel) setAgents(agents agent.Catalog) {
	var key string
	if a, ok := m.selected(); ok {
		key = a.Key
	}
	m.agents = agents
	m.applyFilter()
	for i, a := range m.filtered {
		if a.Key == key {
			m.cursor = i
			return
		}
	}
	m.cursor = 0
}

func (m *catalogModel) applyFilter() {
	if m.filterState == unfiltered {
		m.filtered = m.agents
	} else {
		m.filtered = m.agents.Filter(m.filterInput.Value())
	}
	if m.cursor >= len(m.filtered) {
		m.cursor = max(0, len(m.filtered)-1)
	}
}

func (m *catalogModel) resetFilter() {
	m.filterState = unfiltered
	m.filterInput.Reset()
	m.filterInput.Blur()
	m.applyFilter()
}

func (m catalogModel) selected() (agent.Agent, bool) {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return agent.Agent{}, false
	}
	return m.filtered[m.cursor], true
}

func (m catalogModel) update(msg tea.Msg) (catalogModel, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.filterState == filtering {
			var cmd tea.Cmd
			m.filterInput, cmd = m.filterInput.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.filterState == filtering {
		switch keyMsg.String() {
		case keyEsc:
			m.resetFilter()
			return m, nil
		case "enter", "tab", "shift+tab", "ctrl+k", "up", "ctrl+j", "down":
			if m.filterInput.Value() == "" {
				m.resetFilter()
				return m, nil
			}
			m.filterState = filterApplied
			m.filterInput.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		m.applyFilter()
		m.cursor = 0
		return m, cmd
	}

	switch keyMsg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
		}
	case "home":
		m.cursor = 0
	case "end", "G":
		m.cursor = max(0, len(m.filtered)-1)
	case "/":
		m.filterState = filtering
		m.cursor = 0
		return m, m.filterInput.Focus()
	case keyEsc:
		if m.filterState == filterApplied {
			m.resetFilter()
		}
	}
	return m, nil
}

func (m catalogModel) view() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n", logoView(), subtleStyle.Render("Voice agent showcase"))

	switch m.filterState {
	case filtering:
		fmt.Fprintf(&b, "%s\n\n", m.filterInput.View())
	case filterApplied:
		fmt.Fprintf(&b, "%s %s\n\n", dimStyle.Render("Filter:"), m.filterInput.Value())
	}

	if len(m.filtered) == 0 {
		if len(m.agents) == 0 {
			b.WriteString(subtleStyle.Render("No agents configured. Add some with `narad config`."))
		} else {
			b.WriteString(subtleStyle.Render("Nothing matched."))
		}
		b.WriteString("\n")
	}

	width := max(40, m.common.width-4)
	for i, a := range m.filtered {
		b.WriteString(m.itemView(a, i == m.cursor, width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.helpView())
	return indent(b.String(), 2)
}

func (m catalogModel) itemView(a agent.Agent, selected bool, width int) string {
	name := runewidth.FillRight(runewidth.Truncate(a.Name, nameColumnWidth, ellipsis), nameColumnWidth)
	desc := truncate.StringWithTail(a.Description, uint(max(0, width-nameColumnWidth-4)), ellipsis) //nolint:gosec

	if selected {
		return fmt.Sprintf("%s %s %s", selectionBarStyle.String(), selectedStyle.Render(name), dimStyle.Render(desc))
	}
	return fmt.Sprintf("  %s %s", name, subtleStyle.Render(desc))
}

func (m catalogModel) helpView() string {
	if m.filterState == filtering {
		return helpView([][2]string{{"enter", "apply"}, {"esc", "cancel"}})
	}
	return helpView([][2]string{
		{"↑/↓", "navigate"},
		{"/", "find"},
		{"enter/t", "test"},
		{"g", "get code"},
		{"q", "quit"},
	})
}

func helpView(pairs [][2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, helpKeyStyle.Render(p[0])+" "+helpDescStyle.Render(p[1]))
	}
	return strings.Join(parts, dimStyle.Render(" • "))
}
