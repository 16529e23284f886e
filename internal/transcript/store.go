// Package transcript archives the conversation of each voice session as a
// zstd-compressed JSON-lines file.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/bridge"
	"github.com/naradvoice/narad/internal/engine"
)

const fileExt = ".jsonl.zst"

var (
	// ErrNotFound is returned when no transcript exists for a session.
	ErrNotFound = errors.New("transcript not found")
	// ErrCorrupted is returned when a transcript file cannot be decoded.
	ErrCorrupted = errors.New("transcript data corrupted")
)

// Header is the first line of every transcript.
type Header struct {
	Session string    `json:"session"`
	Agent   string    `json:"agent"`
	Started time.Time `json:"started"`
}

// Entry is one message of a conversation.
type Entry struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
	Type   string    `json:"type"`
	Text   string    `json:"text"`
}

// Transcript is a decoded session.
type Transcript struct {
	Header
	Entries []Entry
}

// Info describes a stored transcript.
type Info struct {
	Header
	Size    int64 // compressed size on disk
	ModTime time.Time
}

// Store keeps transcripts in a directory.
type Store struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *log.Logger
	now     func() time.Time
}

// Open creates the directory if needed and returns a store over it.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{dir: dir, encoder: enc, decoder: dec, logger: logger, now: time.Now}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Close releases the codec resources.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Begin starts recording a session.
func (s *Store) Begin(session string, ref agent.Ref) *Recorder {
	return &Recorder{
		store:  s,
		header: Header{Session: session, Agent: ref.String(), Started: s.now()},
	}
}

// RecorderFunc adapts the store to the bridge's recorder option.
func (s *Store) RecorderFunc() bridge.RecorderFunc {
	return func(session string, ref agent.Ref) (bridge.Recorder, error) {
		if _, err := uuid.Parse(session); err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", session, err)
		}
		return s.Begin(session, ref), nil
	}
}

func (s *Store) path(session string) string {
	return filepath.Join(s.dir, session+fileExt)
}

// List returns stored transcripts, newest first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		h, err := s.readHeader(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Debug("Skipping unreadable transcript", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, Info{Header: h, Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Started.After(out[j].Started)
	})
	return out, nil
}

// readHeader decodes only the first line of a transcript.
func (s *Store) readHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer zr.Close()

	line, err := bufio.NewReader(zr).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return h, nil
}

// Read decodes the transcript of a session.
func (s *Store) Read(session string) (*Transcript, error) {
	data, err := os.ReadFile(s.path(filepath.Base(session)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, session)
	}
	if err != nil {
		return nil, err
	}
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	var t Transcript
	if err := dec.Decode(&t.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupted, err)
	}
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("%w: entry: %v", ErrCorrupted, err)
		}
		t.Entries = append(t.Entries, e)
	}
	return &t, nil
}

// RemoveOlderThan deletes transcripts last written before cutoff.
func (s *Store) RemoveOlderThan(cutoff time.Time) (int, error) {
	infos, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if info.ModTime.Before(cutoff) {
			if err := os.Remove(s.path(info.Session)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) write(session string, raw []byte) error {
	path := s.path(session)
	tempPath := path + ".tmp"

	data := s.encoder.EncodeAll(raw, nil)
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}

// Recorder collects the messages of one session and writes them on Close.
type Recorder struct {
	store  *Store
	header Header

	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// Record appends a message. It implements bridge.Recorder.
func (r *Recorder) Record(m engine.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, Entry{
		At:     r.store.now(),
		Source: m.Source,
		Type:   m.Type,
		Text:   m.Text,
	})
}

// Close writes the transcript. Sessions without messages leave no file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if len(r.entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(r.header); err != nil {
		return err
	}
	for _, e := range r.entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := r.store.write(r.header.Session, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	r.store.logger.Debug("Transcript saved", "session", r.header.Session, "messages", len(r.entries))
	return nil
}
