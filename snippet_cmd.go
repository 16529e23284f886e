package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/snippet"
)

var (
	snippetCopy bool

	snippetCmd = &cobra.Command{
		Use:   "snippet AGENT",
		Short: "Print the HTML that embeds an agent on a page",
		Long: paragraph(fmt.Sprintf("\nPrint the %s for an agent. AGENT is a catalog key or an agent id.",
			keyword("embed snippet"))),
		Example: paragraph("narad snippet sales-agent-001\nnarad snippet agent_2601kdzvekjcfrcbbcd1bt5pv5ws --copy"),
		Args:    cobra.ExactArgs(1),
		RunE:    runSnippet,
	}
)

func init() {
	snippetCmd.Flags().BoolVarP(&snippetCopy, "copy", "c", false, "copy the snippet to the clipboard")
}

func runSnippet(cmd *cobra.Command, args []string) error {
	ref, err := lookupRef(args[0])
	if err != nil {
		return err
	}
	scriptURL := viper.GetString("snippet.script_url")
	w := cmd.OutOrStdout()

	if snippetCopy {
		if err := snippet.Copy(snippet.Generate(ref, scriptURL)); err != nil {
			return fmt.Errorf("unable to copy snippet: %w", err)
		}
		fmt.Fprintln(w, keyword("Copied!"))
		return nil
	}

	if style == "notty" {
		fmt.Fprintln(w, snippet.Generate(ref, scriptURL))
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(int(width)), //nolint:gosec
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(snippet.Markdown(ref, scriptURL))
	if err != nil {
		return fmt.Errorf("unable to render snippet: %w", err)
	}
	fmt.Fprint(w, out)
	return nil
}

// lookupRef resolves a catalog key or raw agent id.
func lookupRef(keyOrID string) (agent.Ref, error) {
	c, err := loadCatalog()
	if err != nil {
		return agent.Ref{}, err
	}
	if a, ok := c.Lookup(keyOrID); ok {
		return a.Ref()
	}
	return agent.ParseRef(keyOrID)
}
