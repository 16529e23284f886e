package transcript

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "transcripts"), log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRead(t *testing.T) {
	s := newTestStore(t)
	session := uuid.NewString()
	ref := agent.MustParseRef("agent_2601kdzvekjcfrcbbcd1bt5pv5ws")

	rec, err := s.RecorderFunc()(session, ref)
	if err != nil {
		t.Fatal(err)
	}
	rec.Record(engine.Message{Source: "user", Type: "user_transcript", Text: "I'm looking for a flat"})
	rec.Record(engine.Message{Source: "ai", Type: "agent_response", Text: "Happy to help."})
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	got, err := s.Read(session)
	if err != nil {
		t.Fatal(err)
	}
	if got.Session != session || got.Agent != ref.String() {
		t.Errorf("header = %+v", got.Header)
	}
	if len(got.Entries) != 2 || got.Entries[1].Text != "Happy to help." || got.Entries[0].Source != "user" {
		t.Errorf("entries = %+v", got.Entries)
	}
}

func TestEmptySessionLeavesNoFile(t *testing.T) {
	s := newTestStore(t)
	session := uuid.NewString()
	if err := s.Begin(session, agent.MustParseRef("agent_x")).Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(session); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return started }
		id := uuid.NewString()
		ids = append(ids, id)
		rec := s.Begin(id, agent.MustParseRef("agent_x"))
		rec.Record(engine.Message{Source: "ai", Text: "hi"})
		if err := rec.Close(); err != nil {
			t.Fatal(err)
		}
	}
	// Junk in the directory is ignored.
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(s.Dir(), "broken"+fileExt), []byte("not zstd"), 0o644)

	infos, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("List returned %d entries", len(infos))
	}
	if infos[0].Session != ids[2] || infos[2].Session != ids[0] {
		t.Errorf("order = %s, %s, %s", infos[0].Session, infos[1].Session, infos[2].Session)
	}
	if infos[0].Size <= 0 {
		t.Error("size not reported")
	}
}

func TestReadCorrupted(t *testing.T) {
	s := newTestStore(t)
	id := uuid.NewString()
	os.WriteFile(s.path(id), []byte("garbage"), 0o644)
	if _, err := s.Read(id); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestRecorderFuncRejectsBadSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.RecorderFunc()("../escape", agent.MustParseRef("agent_x")); err == nil {
		t.Fatal("expected error for non-uuid session")
	}
}

func TestRemoveOlderThan(t *testing.T) {
	s := newTestStore(t)
	id := uuid.NewString()
	rec := s.Begin(id, agent.MustParseRef("agent_x"))
	rec.Record(engine.Message{Source: "ai", Text: "hi"})
	rec.Close()

	old := time.Now().Add(-48 * time.Hour)
	os.Chtimes(s.path(id), old, old)

	n, err := s.RemoveOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("removed %d, err %v", n, err)
	}
	if _, err := s.Read(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("transcript still readable: %v", err)
	}
}
