package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/embed"
	"github.com/naradvoice/narad/internal/engine"
)

const connectStopTimeout = 10 * time.Second

var (
	connectAgent string
	connectPage  string

	connectCmd = &cobra.Command{
		Use:   "connect",
		Short: "Talk to an agent from the command line",
		Long: paragraph(fmt.Sprintf("\n%s to a voice agent using your microphone and speakers. "+
			"The agent is either named directly or taken from the first embed element on a page. "+
			"Press Ctrl+C to end the call.", keyword("Connect"))),
		Example: paragraph("narad connect --agent-id sales-agent-001\nnarad connect --agent-id agent_2601kdzvekjcfrcbbcd1bt5pv5ws\nnarad connect --page index.html"),
		Args:    cobra.NoArgs,
		RunE:    runConnect,
	}
)

func init() {
	connectCmd.Flags().StringVarP(&connectAgent, "agent-id", "a", "", "catalog key or agent id")
	connectCmd.Flags().StringVarP(&connectPage, "page", "p", "", "HTML or markdown page containing a <narad-agent> element")
	connectCmd.MarkFlagsMutuallyExclusive("agent-id", "page")
	connectCmd.MarkFlagsOneRequired("agent-id", "page")
}

func runConnect(cmd *cobra.Command, _ []string) error {
	el, err := resolveElement(connectAgent, connectPage)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(log.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	sink := bridge.NewChanSink(64)
	defer sink.Close()
	mounted, err := embed.Mount(ctx, el, svc.embedDeps(sink))
	if err != nil {
		return errors.New(userMessage(err))
	}
	if mounted == nil {
		return fmt.Errorf("the %s element has no %s attribute", embed.TagName, embed.AgentIDAttr)
	}
	defer mounted.Unmount()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", faint("Bridge ID:"), mounted.Ref.EngineID())

	go func() {
		// The outcome also arrives as a status update.
		if err := mounted.Start(ctx); err != nil {
			log.Debug("Start returned", "error", err)
		}
	}()

	return followSession(ctx, w, sink.Events(), mounted.Bridge)
}

// followSession prints bridge events until the session ends or ctx is done.
func followSession(ctx context.Context, w io.Writer, events <-chan bridge.Event, b interface{ Stop(context.Context) }) error {
	started := false
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, faint("Ending call..."))
			stopCtx, cancel := context.WithTimeout(context.Background(), connectStopTimeout)
			b.Stop(stopCtx)
			cancel()
			return nil

		case ev := <-events:
			if ev.Message != nil {
				printMessage(w, *ev.Message)
				continue
			}
			u := ev.Update
			if u == nil {
				continue
			}
			printUpdate(w, *u)
			if u.Status != bridge.StatusIdle {
				started = true
				continue
			}
			if !started {
				continue
			}
			if u.Err != nil {
				if errors.Is(u.Err, bridge.ErrStopped) || errors.Is(u.Err, bridge.ErrClosed) {
					return nil
				}
				return errors.New(userMessage(u.Err))
			}
			return nil
		}
	}
}

func printUpdate(w io.Writer, u bridge.Update) {
	switch u.Status {
	case bridge.StatusConnecting:
		fmt.Fprintln(w, pendingStyle.Render("CONNECTING..."))
	case bridge.StatusConnected:
		if u.Speaking() {
			fmt.Fprintln(w, liveStyle.Render("● LIVE")+" "+faint("agent is speaking"))
		} else {
			fmt.Fprintln(w, liveStyle.Render("● LIVE")+" "+faint("listening"))
		}
	case bridge.StatusIdle:
		if u.Warning != nil {
			fmt.Fprintln(w, errorStyle.Render(userMessage(u.Warning)))
		}
		if u.Err == nil {
			fmt.Fprintln(w, faint("Call ended."))
		}
	}
}

func printMessage(w io.Writer, m engine.Message) {
	who := "you"
	if m.Source == "ai" {
		who = "agent"
	}
	fmt.Fprintf(w, "%s %s\n", keyword(who+":"), m.Text)
}

// userMessage returns the text shown for a session failure.
func userMessage(err error) string {
	var be *bridge.Error
	if errors.As(err, &be) {
		return be.Message()
	}
	return err.Error()
}

// resolveElement builds the element to mount from either a catalog entry or
// agent id, or the first embed element on a page.
func resolveElement(agentArg, page string) (embed.Element, error) {
	if page != "" {
		doc, err := os.ReadFile(expandPath(page))
		if err != nil {
			return embed.Element{}, fmt.Errorf("unable to read page: %w", err)
		}
		els := embed.Scan(doc)
		if len(els) == 0 {
			return embed.Element{}, fmt.Errorf("no <%s> element found in %s", embed.TagName, page)
		}
		if len(els) > 1 {
			log.Info("Page has several agents, using the first", "count", len(els))
		}
		return els[0], nil
	}

	id := agentArg
	if c, err := loadCatalog(); err == nil {
		if a, ok := c.Lookup(agentArg); ok {
			id = a.AgentID
		}
	} else {
		log.Warn("Catalog unavailable, treating argument as agent id", "error", err)
	}
	return embed.Element{Attrs: map[string]string{embed.AgentIDAttr: id}}, nil
}
