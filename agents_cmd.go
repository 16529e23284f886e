package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/naradvoice/narad/internal/agent"
)

var (
	agentsYAML bool

	agentsCmd = &cobra.Command{
		Use:   "agents",
		Short: "List the agents in the showcase catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadCatalog()
			if err != nil {
				return err
			}
			if agentsYAML {
				return writeCatalogYAML(cmd.OutOrStdout(), c)
			}
			writeCatalogTable(cmd.OutOrStdout(), c, int(width)) //nolint:gosec
			return nil
		},
	}
)

func init() {
	agentsCmd.Flags().BoolVar(&agentsYAML, "yaml", false, "print the catalog as a config snippet")
}

// writeCatalogYAML prints c in the shape of the agents config section.
func writeCatalogYAML(w io.Writer, c agent.Catalog) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]agent.Catalog{"agents": c}); err != nil {
		return fmt.Errorf("unable to encode catalog: %w", err)
	}
	return enc.Close()
}

func writeCatalogTable(w io.Writer, c agent.Catalog, maxWidth int) {
	keyCol := 0
	for _, a := range c {
		keyCol = max(keyCol, runewidth.StringWidth(a.Key))
	}
	keyCol += 2
	if maxWidth <= 0 {
		maxWidth = 80
	}

	for _, a := range c {
		ref, _ := a.Ref()
		fmt.Fprintf(w, "%s%s%s\n",
			keyword(a.Key),
			strings.Repeat(" ", keyCol-runewidth.StringWidth(a.Key)),
			a.Name,
		)
		indent := strings.Repeat(" ", keyCol)
		if a.Description != "" {
			desc := truncate.StringWithTail(a.Description, uint(max(maxWidth-keyCol, 10)), "…") //nolint:gosec
			fmt.Fprintf(w, "%s%s\n", indent, faint(desc))
		}
		fmt.Fprintf(w, "%s%s\n\n", indent, faint("Bridge ID: "+ref.EngineID()))
	}
}
