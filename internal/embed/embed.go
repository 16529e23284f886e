// Package embed implements the page embed contract: a page places
// <narad-agent agent-id="..."> elements, and each element becomes a voice
// bridge once the engine runtime is available.
package embed

import (
	"bytes"
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/engine"
)

// TagName is the embed element.
const TagName = "narad-agent"

// AgentIDAttr is the attribute naming the agent.
const AgentIDAttr = "agent-id"

// Element is one embed element found on a page.
type Element struct {
	Attrs map[string]string
}

// AgentID returns the trimmed agent-id attribute.
func (e Element) AgentID() string {
	return strings.TrimSpace(e.Attrs[AgentIDAttr])
}

// Scan finds embed elements in a markdown or HTML page, in document order.
func Scan(doc []byte) []Element {
	if isHTMLDocument(doc) {
		return scanHTML(doc)
	}
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(doc))

	var raw bytes.Buffer
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.HTMLBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				raw.Write(seg.Value(doc))
			}
			if node.HasClosure() {
				raw.Write(node.ClosureLine.Value(doc))
			}
		case *ast.RawHTML:
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				raw.Write(seg.Value(doc))
			}
			raw.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	return scanHTML(raw.Bytes())
}

func isHTMLDocument(doc []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(doc))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func scanHTML(fragment []byte) []Element {
	var out []Element
	z := html.NewTokenizer(bytes.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != TagName {
				continue
			}
			el := Element{Attrs: map[string]string{}}
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				el.Attrs[string(key)] = string(val)
			}
			out = append(out, el)
		}
	}
}

// Deps are the collaborators a mounted element composes over.
type Deps struct {
	Loader  bridge.Loader
	Engine  engine.Engine
	Options []bridge.Option
	Logger  *log.Logger
}

// Mounted is an element bound to a bridge.
type Mounted struct {
	Ref    agent.Ref
	Bridge *bridge.Bridge
}

// Mount loads the engine runtime and binds el to a new bridge. An element
// without an agent id is a page configuration error: it is logged and
// nothing is mounted.
func Mount(ctx context.Context, el Element, deps Deps) (*Mounted, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	ref, err := agent.ParseRef(el.AgentID())
	if err != nil {
		logger.Error("Narad Error: agent-id is required", "element", TagName)
		return nil, nil
	}

	if _, err := deps.Loader.Ensure(ctx); err != nil {
		return nil, err
	}

	opts := append([]bridge.Option{bridge.WithLoader(deps.Loader), bridge.WithLogger(logger)}, deps.Options...)
	logger.Debug("Mounted embed element", "agent", ref.String())
	return &Mounted{Ref: ref, Bridge: bridge.New(deps.Engine, opts...)}, nil
}

// Start opens the element's voice session.
func (m *Mounted) Start(ctx context.Context) error {
	return m.Bridge.Start(ctx, m.Ref)
}

// Unmount ends any session and releases the bridge.
func (m *Mounted) Unmount() {
	m.Bridge.Close()
}
