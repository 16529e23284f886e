package snippet

import (
	"strings"
	"testing"

	"github.com/naradvoice/narad/internal/agent"
)

func TestGenerate(t *testing.T) {
	ref := agent.MustParseRef("agent_2601kdzvekjcfrcbbcd1bt5pv5ws")
	want := `<!-- Narad Voice Solutions Web SDK -->
<narad-agent agent-id="agent_2601kdzvekjcfrcbbcd1bt5pv5ws"></narad-agent>
<script src="https://cdn.narad.ai/sdk/v1/widget.js" async></script>`
	if got := Generate(ref, ""); got != want {
		t.Errorf("Generate =\n%s\nwant\n%s", got, want)
	}
}

func TestGenerateEscapes(t *testing.T) {
	ref := agent.MustParseRef(`agent_"><script>`)
	got := Generate(ref, "https://example.com/w.js?a=1&b=2")
	if strings.Contains(got, `"><script>`) {
		t.Errorf("agent id not escaped: %s", got)
	}
	if !strings.Contains(got, "a=1&amp;b=2") {
		t.Errorf("script url not escaped: %s", got)
	}
}

func TestMarkdown(t *testing.T) {
	got := Markdown(agent.MustParseRef("agent_x"), "https://cdn.example/w.js")
	if !strings.HasPrefix(got, "```html\n") || !strings.HasSuffix(got, "\n```\n") {
		t.Errorf("Markdown = %q", got)
	}
}
