// Package snippet generates the HTML fragment that embeds an agent on a
// third-party page.
package snippet

import (
	"fmt"
	"html"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/muesli/termenv"

	"github.com/naradvoice/narad/internal/agent"
)

// DefaultScriptURL is the hosted widget loader.
const DefaultScriptURL = "https://cdn.narad.ai/sdk/v1/widget.js"

const header = "<!-- Narad Voice Solutions Web SDK -->"

// Generate returns the embed fragment for ref. An empty scriptURL uses
// DefaultScriptURL. The agent id is emitted unchanged.
func Generate(ref agent.Ref, scriptURL string) string {
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "<narad-agent agent-id=%q></narad-agent>\n", html.EscapeString(ref.String()))
	fmt.Fprintf(&b, "<script src=%q async></script>", html.EscapeString(scriptURL))
	return b.String()
}

// Markdown wraps the fragment in a fenced block for terminal rendering.
func Markdown(ref agent.Ref, scriptURL string) string {
	return "```html\n" + Generate(ref, scriptURL) + "\n```\n"
}

// Copy puts text on the system clipboard and also emits it as an OSC 52
// sequence, which reaches the local clipboard over SSH.
func Copy(text string) error {
	termenv.Copy(text)
	return clipboard.WriteAll(text)
}
