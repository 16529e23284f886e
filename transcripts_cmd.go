package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/naradvoice/narad/internal/transcript"
)

var (
	transcriptsPrune bool

	transcriptsCmd = &cobra.Command{
		Use:   "transcripts [SESSION]",
		Short: "List, show or prune saved conversation transcripts",
		Example: paragraph("narad transcripts\nnarad transcripts 5f0c7c1e-3f3a-4b2e-9d55-0c1a2b3c4d5e\nnarad transcripts --prune"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runTranscripts,
	}
)

func init() {
	transcriptsCmd.Flags().BoolVar(&transcriptsPrune, "prune", false, "delete transcripts older than transcripts.keep")
}

func runTranscripts(cmd *cobra.Command, args []string) error {
	dir, err := transcriptDir()
	if err != nil {
		return err
	}
	store, err := transcript.Open(dir, log.Default().WithPrefix("transcript"))
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	w := cmd.OutOrStdout()

	switch {
	case transcriptsPrune:
		keep := viper.GetDuration("transcripts.keep")
		if keep <= 0 {
			return fmt.Errorf("transcripts.keep must be positive, got %s", keep)
		}
		n, err := store.RemoveOlderThan(time.Now().Add(-keep))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed %s.\n", humanize.Comma(int64(n))+pluralize(n, " transcript", " transcripts"))
		return nil

	case len(args) == 1:
		t, err := store.Read(args[0])
		if err != nil {
			return err
		}
		writeTranscript(w, t)
		return nil
	}

	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, faint("No transcripts in "+store.Dir()))
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			keyword(info.Session),
			info.Agent,
			faint(humanize.Time(info.Started)),
			faint(humanize.Bytes(uint64(info.Size))), //nolint:gosec
		)
	}
	return nil
}

func writeTranscript(w io.Writer, t *transcript.Transcript) {
	fmt.Fprintf(w, "%s %s\n%s %s\n\n",
		faint("Agent:"), t.Agent,
		faint("Started:"), t.Started.Local().Format(time.DateTime),
	)
	for _, e := range t.Entries {
		who := "you"
		if e.Source == "ai" {
			who = "agent"
		}
		fmt.Fprintf(w, "%s %s %s\n", faint(e.At.Local().Format(time.TimeOnly)), keyword(who+":"), e.Text)
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
