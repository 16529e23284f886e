package embed

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/engine/mock"
	"github.com/naradvoice/narad/internal/loader"
	"github.com/naradvoice/narad/internal/snippet"
)

type readyRuntime struct{}

func (readyRuntime) IsReady() bool { return true }

func TestScanMarkdown(t *testing.T) {
	doc := []byte("# Talk to us\n\nSome text.\n\n" +
		snippet.Generate(agent.MustParseRef("agent_2601abc"), "") +
		"\n\nInline <narad-agent agent-id=\"agent_inline\"></narad-agent> too.\n")

	els := Scan(doc)
	if len(els) != 2 {
		t.Fatalf("found %d elements, want 2", len(els))
	}
	if els[0].AgentID() != "agent_2601abc" || els[1].AgentID() != "agent_inline" {
		t.Errorf("ids = %q, %q", els[0].AgentID(), els[1].AgentID())
	}
}

func TestScanHTMLDocument(t *testing.T) {
	doc := []byte(`<!DOCTYPE html>
<html>
<body>

    <div class="hero">
        <narad-agent agent-id=" agent_a "></narad-agent>
    </div>

    <narad-agent></narad-agent>
</body>
</html>`)

	els := Scan(doc)
	if len(els) != 2 {
		t.Fatalf("found %d elements, want 2", len(els))
	}
	if els[0].AgentID() != "agent_a" {
		t.Errorf("id = %q", els[0].AgentID())
	}
	if els[1].AgentID() != "" {
		t.Errorf("second element should have no id, got %q", els[1].AgentID())
	}
}

func TestScanIgnoresCodeBlocks(t *testing.T) {
	doc := []byte("Example:\n\n```html\n<narad-agent agent-id=\"agent_doc\"></narad-agent>\n```\n")
	if els := Scan(doc); len(els) != 0 {
		t.Errorf("code block content scanned: %+v", els)
	}
}

func testDeps(l *loader.Loader, eng *mock.MockEngine) Deps {
	return Deps{Loader: l, Engine: eng, Logger: log.New(io.Discard)}
}

func TestMountMissingAgentID(t *testing.T) {
	var calls int
	l := loader.New(func(context.Context) (loader.Runtime, error) {
		calls++
		return readyRuntime{}, nil
	}, loader.WithRetryInterval(0))

	m, err := Mount(context.Background(), Element{Attrs: map[string]string{}}, testDeps(l, mock.New()))
	if m != nil || err != nil {
		t.Fatalf("Mount = %v, %v; want nil, nil", m, err)
	}
	if calls != 0 {
		t.Error("runtime loaded for an element without agent id")
	}
}

func TestMountLoadsThenComposes(t *testing.T) {
	l := loader.New(func(context.Context) (loader.Runtime, error) {
		return readyRuntime{}, nil
	}, loader.WithRetryInterval(0))
	eng := mock.New()
	eng.SetAutoConnect(true)

	el := Element{Attrs: map[string]string{AgentIDAttr: "agent_123"}}
	m, err := Mount(context.Background(), el, testDeps(l, eng))
	if err != nil || m == nil {
		t.Fatalf("Mount = %v, %v", m, err)
	}
	if l.State() != loader.Loaded {
		t.Errorf("loader state = %s", l.State())
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := m.Bridge.Status(); st.Status != bridge.StatusConnected {
		t.Errorf("status = %s", st.Status)
	}
	s, err := eng.Next(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if s.AgentID != "123" {
		t.Errorf("engine agent = %q", s.AgentID)
	}

	m.Unmount()
	if s.EndCalls() != 1 {
		t.Errorf("End called %d times", s.EndCalls())
	}
}

func TestMountLoadFailure(t *testing.T) {
	boom := errors.New("no device")
	l := loader.New(func(context.Context) (loader.Runtime, error) {
		return nil, boom
	}, loader.WithRetryInterval(0))

	el := Element{Attrs: map[string]string{AgentIDAttr: "agent_123"}}
	m, err := Mount(context.Background(), el, testDeps(l, mock.New()))
	if m != nil || !errors.Is(err, loader.ErrLoadFailed) {
		t.Fatalf("Mount = %v, %v", m, err)
	}
}
