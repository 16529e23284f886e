package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/engine"
	"github.com/naradvoice/narad/internal/transcript"
)

func TestValidateStyle(t *testing.T) {
	for _, s := range []string{"auto", "dark", "light", "notty"} {
		if err := validateStyle(s); err != nil {
			t.Errorf("%s: %v", s, err)
		}
	}
	if err := validateStyle("neon"); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		wantErr bool
	}{
		{"defaults", nil, false},
		{"zero load timeout", map[string]any{"engine.load_timeout": "0s"}, true},
		{"negative load timeout", map[string]any{"engine.load_timeout": "-5s"}, true},
		{"negative handshake timeout", map[string]any{"engine.handshake_timeout": "-1s"}, true},
		{"zero handshake timeout", map[string]any{"engine.handshake_timeout": "0s"}, false},
		{"http engine url", map[string]any{"engine.url": "https://api.example.com"}, true},
		{"sample rate too low", map[string]any{"audio.sample_rate": 4000}, true},
		{"bad script url", map[string]any{"snippet.script_url": "widget.js"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.SetDefault("engine.url", "wss://api.example.com/v1/convai/conversation")
			v.SetDefault("engine.handshake_timeout", "15s")
			v.SetDefault("engine.load_timeout", "30s")
			v.SetDefault("audio.sample_rate", 16000)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			if err := validateSettings(v); (err != nil) != tt.wantErr {
				t.Errorf("validateSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveElementFromPage(t *testing.T) {
	page := filepath.Join(t.TempDir(), "index.html")
	doc := `<html><body>
<narad-agent agent-id=" agent_first "></narad-agent>
<narad-agent agent-id="agent_second"></narad-agent>
</body></html>`
	if err := os.WriteFile(page, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	el, err := resolveElement("", page)
	if err != nil {
		t.Fatal(err)
	}
	if el.AgentID() != "agent_first" {
		t.Errorf("agent id = %q", el.AgentID())
	}

	empty := filepath.Join(t.TempDir(), "empty.md")
	if err := os.WriteFile(empty, []byte("# nothing here\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveElement("", empty); err == nil {
		t.Error("expected error for a page without agents")
	}
}

func TestResolveElementFromCatalog(t *testing.T) {
	el, err := resolveElement("support-agent-001", "")
	if err != nil {
		t.Fatal(err)
	}
	if el.AgentID() != "agent_3501kdztrzhmebx968xayfk1kc68" {
		t.Errorf("agent id = %q", el.AgentID())
	}

	el, _ = resolveElement("agent_unlisted", "")
	if el.AgentID() != "agent_unlisted" {
		t.Errorf("raw ids pass through, got %q", el.AgentID())
	}
}

type stopRecorder struct{ stopped bool }

func (s *stopRecorder) Stop(context.Context) { s.stopped = true }

func update(u bridge.Update) bridge.Event { return bridge.Event{Update: &u} }

func TestFollowSessionEndsOnIdle(t *testing.T) {
	events := make(chan bridge.Event, 8)
	events <- update(bridge.Update{Status: bridge.StatusIdle}) // initial state, ignored
	events <- update(bridge.Update{Status: bridge.StatusConnecting})
	events <- update(bridge.Update{Status: bridge.StatusConnected})
	events <- bridge.Event{Message: &engine.Message{Source: "ai", Text: "Hello there"}}
	events <- update(bridge.Update{Status: bridge.StatusConnected, Mode: engine.ModeSpeaking})
	events <- update(bridge.Update{Status: bridge.StatusIdle, Warning: &bridge.Error{Kind: bridge.KindAbnormalDisconnect, Code: 1006}})

	var out bytes.Buffer
	s := &stopRecorder{}
	if err := followSession(context.Background(), &out, events, s); err != nil {
		t.Fatal(err)
	}
	if s.stopped {
		t.Error("session ended by itself, Stop not expected")
	}
	for _, want := range []string{"CONNECTING...", "● LIVE", "listening", "agent is speaking", "agent: Hello there", "1006", "Call ended."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestFollowSessionReportsStartFailure(t *testing.T) {
	events := make(chan bridge.Event, 2)
	events <- update(bridge.Update{Status: bridge.StatusConnecting})
	events <- update(bridge.Update{Status: bridge.StatusIdle, Err: &bridge.Error{Kind: bridge.KindPermissionDenied}})

	var out bytes.Buffer
	err := followSession(context.Background(), &out, events, &stopRecorder{})
	if err == nil || !strings.Contains(err.Error(), "Microphone access is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestFollowSessionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	s := &stopRecorder{}
	if err := followSession(ctx, &out, make(chan bridge.Event), s); err != nil {
		t.Fatal(err)
	}
	if !s.stopped {
		t.Error("cancel should stop the session")
	}
}

func TestUserMessage(t *testing.T) {
	if got := userMessage(errors.New("boom")); got != "boom" {
		t.Errorf("got %q", got)
	}
	err := &bridge.Error{Kind: bridge.KindConnectFailed, Reason: "handshake rejected"}
	if got := userMessage(err); !strings.Contains(got, "handshake rejected") {
		t.Errorf("got %q", got)
	}
}

func TestWriteCatalogYAML(t *testing.T) {
	var out bytes.Buffer
	if err := writeCatalogYAML(&out, agent.DefaultCatalog()); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Agents agent.Catalog `yaml:"agents"`
	}
	if err := yaml.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Agents) != len(agent.DefaultCatalog()) || got.Agents[0].AgentID != "agent_2601kdzvekjcfrcbbcd1bt5pv5ws" {
		t.Errorf("decoded = %+v", got.Agents)
	}
}

func TestWriteCatalogTable(t *testing.T) {
	var out bytes.Buffer
	writeCatalogTable(&out, agent.DefaultCatalog(), 60)
	s := out.String()
	if !strings.Contains(s, "booking-agent-001") || !strings.Contains(s, "Bridge ID: 9101kdzt9gq8ehttgya525n0s29z") {
		t.Errorf("unexpected table:\n%s", s)
	}
	if strings.Contains(s, "Outlook") {
		t.Error("long descriptions should be truncated")
	}
}

func TestWriteTranscript(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tr := &transcript.Transcript{
		Header: transcript.Header{Session: "s1", Agent: "agent_x", Started: at},
		Entries: []transcript.Entry{
			{At: at, Source: "user", Text: "hi"},
			{At: at.Add(time.Second), Source: "ai", Text: "hello"},
		},
	}
	var out bytes.Buffer
	writeTranscript(&out, tr)
	for _, want := range []string{"agent_x", "you: hi", "agent: hello"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPluralize(t *testing.T) {
	if pluralize(1, "a", "b") != "a" || pluralize(0, "a", "b") != "b" {
		t.Error("pluralize")
	}
}
