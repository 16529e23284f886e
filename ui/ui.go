// Package ui provides the terminal showcase for trying voice agents.
package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	te "github.com/muesli/termenv"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/embed"
)

const (
	statusMessageTimeout = time.Second * 2 // how long to show status messages like "Copied!"
	ellipsis             = "…"
	keyEsc               = "esc"
)

// CatalogFunc reads the agent catalog.
type CatalogFunc func() (agent.Catalog, error)

// NewProgram returns a new Tea program. deps supplies the runtime loader,
// voice engine and bridge options used for test sessions; load reads the
// catalog and is called again whenever the catalog file changes.
func NewProgram(cfg Config, deps embed.Deps, load CatalogFunc) (*tea.Program, error) {
	agents, err := load()
	if err != nil {
		return nil, err
	}
	log.Debug("Starting narad", "agents", len(agents), "glamour", cfg.GlamourEnabled)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, deps, load, agents), opts...), nil
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type (
	catalogChangedMsg struct{}
	catalogLoadedMsg  struct {
		agents agent.Catalog
		err    error
	}
	statusMessageTimeoutMsg applicationContext
)

// applicationContext indicates the area of the application something applies
// to.
type applicationContext int

const (
	catalogContext applicationContext = iota
	snippetContext
)

// state is the top-level application state.
type state int

const (
	stateShowCatalog state = iota
	stateShowSession
	stateShowSnippet
)

func (s state) String() string {
	return map[state]string{
		stateShowCatalog: "showing catalog",
		stateShowSession: "testing agent",
		stateShowSnippet: "showing code",
	}[s]
}

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	deps   embed.Deps
	width  int
	height int
}

type model struct {
	common *commonModel
	state  state
	err    error

	load    CatalogFunc
	watcher *fsnotify.Watcher

	// Sub-models
	catalog catalogModel
	session sessionModel
	snippet snippetModel
}

func newModel(cfg Config, deps embed.Deps, load CatalogFunc, agents agent.Catalog) model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}

	common := &commonModel{cfg: cfg, deps: deps, width: 80}
	m := model{
		common:  common,
		state:   stateShowCatalog,
		load:    load,
		catalog: newCatalogModel(common, agents),
		session: newSessionModel(common),
		snippet: newSnippetModel(common),
	}

	if cfg.CatalogPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Error("error creating fsnotify watcher", "error", err)
		} else {
			m.watcher = w
		}
	}
	return m
}

func (m model) Init() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	return watchCatalog(m.watcher, m.common.cfg.CatalogPath)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			cmd := m.quit()
			return m, cmd
		}
		if msg.String() == "ctrl+z" {
			return m, tea.Suspend
		}
		if m.err != nil {
			m.err = nil
			return m, nil
		}

		switch m.state {
		case stateShowCatalog:
			if m.catalog.filterState == filtering {
				break
			}
			switch msg.String() {
			case "q":
				cmd := m.quit()
				return m, cmd
			case "enter", "t":
				if a, ok := m.catalog.selected(); ok {
					m.state = stateShowSession
					cmd := m.session.open(a)
					return m, cmd
				}
				return m, nil
			case "g":
				if a, ok := m.catalog.selected(); ok {
					m.state = stateShowSnippet
					cmd := m.snippet.open(a)
					return m, cmd
				}
				return m, nil
			}

		case stateShowSession:
			switch msg.String() {
			case keyEsc, "q":
				m.state = stateShowCatalog
				cmd := m.session.close()
				return m, cmd
			}

		case stateShowSnippet:
			switch msg.String() {
			case keyEsc, "q":
				m.snippet.unload()
				m.state = stateShowCatalog
				return m, nil
			case "t":
				m.snippet.unload()
				m.state = stateShowSession
				cmd := m.session.open(m.snippet.agent)
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height

	case errMsg:
		m.err = msg.err
		return m, nil

	case catalogChangedMsg:
		return m, tea.Batch(reloadCatalog(m.load), watchCatalog(m.watcher, m.common.cfg.CatalogPath))

	case catalogLoadedMsg:
		if msg.err != nil {
			log.Warn("Catalog reload failed", "error", msg.err)
			m.err = fmt.Errorf("catalog not reloaded: %w", msg.err)
			return m, nil
		}
		log.Info("Catalog reloaded", "agents", len(msg.agents))
		m.catalog.setAgents(msg.agents)
		return m, nil

	case mountedMsg, startDoneMsg, bridgeEventMsg:
		var cmd tea.Cmd
		m.session, cmd = m.session.update(msg)
		return m, cmd

	case snippetRenderedMsg, statusMessageTimeoutMsg:
		var cmd tea.Cmd
		m.snippet, cmd = m.snippet.update(msg)
		return m, cmd
	}

	switch m.state {
	case stateShowCatalog:
		newCatalogModel, cmd := m.catalog.update(msg)
		m.catalog = newCatalogModel
		cmds = append(cmds, cmd)
	case stateShowSession:
		newSessionModel, cmd := m.session.update(msg)
		m.session = newSessionModel
		cmds = append(cmds, cmd)
	case stateShowSnippet:
		newSnippetModel, cmd := m.snippet.update(msg)
		m.snippet = newSnippetModel
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// quit ends any live session before exiting so the engine sees a clean
// close.
func (m *model) quit() tea.Cmd {
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	if cmd := m.session.close(); cmd != nil {
		return tea.Sequence(cmd, tea.Quit)
	}
	return tea.Quit
}

func (m model) View() string {
	if m.err != nil {
		return errorView(m.err, false)
	}

	switch m.state {
	case stateShowSession:
		return "\n" + m.session.view()
	case stateShowSnippet:
		return "\n" + m.snippet.view()
	default:
		return "\n" + m.catalog.view()
	}
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// COMMANDS

// watchCatalog blocks until the catalog file is written or replaced.
func watchCatalog(w *fsnotify.Watcher, path string) tea.Cmd {
	if w == nil || path == "" {
		return nil
	}
	return func() tea.Msg {
		dir := filepath.Dir(path)
		if err := w.Add(dir); err != nil {
			log.Error("error adding dir to fsnotify watcher", "dir", dir, "error", err)
			return nil
		}
		log.Debug("fsnotify watching dir", "dir", dir)

		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
				return catalogChangedMsg{}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				log.Debug("fsnotify error", "dir", dir, "error", err)
			}
		}
	}
}

func reloadCatalog(load CatalogFunc) tea.Cmd {
	return func() tea.Msg {
		agents, err := load()
		return catalogLoadedMsg{agents: agents, err: err}
	}
}

func waitForStatusMessageTimeout(appCtx applicationContext, t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg(appCtx)
	}
}

// Lightweight version of reflow's indent function.
func indent(s string, n int) string {
	if n <= 0 || s == "" {
		return s
	}
	l := strings.Split(s, "\n")
	b := strings.Builder{}
	i := strings.Repeat(" ", n)
	for _, v := range l {
		fmt.Fprintf(&b, "%s%s\n", i, v)
	}
	return b.String()
}
