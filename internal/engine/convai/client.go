// Package convai is a voice engine that talks to a hosted conversational
// agent over a websocket. Microphone PCM is streamed up as base64 chunks and
// agent speech streams back for local playback.
package convai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/naradvoice/narad/internal/audio"
	"github.com/naradvoice/narad/internal/engine"
)

const (
	// DefaultURL is the hosted conversation endpoint.
	DefaultURL = "wss://api.elevenlabs.io/v1/convai/conversation"

	defaultHandshakeTimeout = 15 * time.Second
	defaultChunkSize        = 4096
	closeGracePeriod        = 2 * time.Second
	drainGrace              = 150 * time.Millisecond
)

// Config configures the client.
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
}

// OutputFunc opens a playback stream for agent audio.
type OutputFunc func(ctx context.Context, f audio.Format) (audio.Stream, error)

// Option configures an Engine.
type Option func(*Engine)

// WithOutput sets where agent audio is played. Without one audio is dropped
// and only its timing drives the speaking mode.
func WithOutput(fn OutputFunc) Option {
	return func(e *Engine) { e.output = fn }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithChunkSize sets how many bytes of microphone audio go in one frame.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// Engine implements engine.Engine.
type Engine struct {
	cfg       Config
	output    OutputFunc
	logger    *log.Logger
	dialer    *websocket.Dialer
	chunkSize int
}

// New returns a client for cfg.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	e := &Engine{
		cfg:       cfg,
		logger:    log.Default(),
		dialer:    websocket.DefaultDialer,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) endpoint(agentID string) (string, error) {
	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid engine url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the conversation endpoint and returns once the conversation has
// been requested. OnConnect fires when the server confirms it.
func (e *Engine) Open(ctx context.Context, req engine.Request, cb engine.Callbacks) (engine.Handle, error) {
	if req.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	wsURL, err := e.endpoint(req.AgentID)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if e.cfg.APIKey != "" {
		headers.Set("xi-api-key", e.cfg.APIKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := e.dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s := &session{
		id:        uuid.NewString(),
		conn:      conn,
		cb:        cb,
		input:     req.Input,
		inputRate: req.SampleRate,
		output:    e.output,
		logger:    e.logger,
		chunkSize: e.chunkSize,
		outFormat: audio.DefaultFormat(),
		inFormat:  audio.DefaultFormat(),
		done:      make(chan struct{}),
		pumpStop:  make(chan struct{}),
	}
	if err := s.write(clientInit{Type: "conversation_initiation_client_data"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send conversation init: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(e.cfg.HandshakeTimeout))

	e.logger.Debug("Conversation requested", "conn", s.id, "agent", req.AgentID)
	go s.readLoop()
	return s, nil
}

// session is one websocket conversation. Callbacks are serialized by emitMu
// and stop after the first terminal event or once End is called.
type session struct {
	id        string
	conn      *websocket.Conn
	cb        engine.Callbacks
	input     io.Reader
	inputRate int
	output    OutputFunc
	logger    *log.Logger
	chunkSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	ending    atomic.Bool
	done      chan struct{}
	pumpStop  chan struct{}
	resampler *audio.Resampler // owned by pump

	emitMu    sync.Mutex
	connected bool
	finished  bool
	mode      engine.Mode

	playMu    sync.Mutex
	outFormat audio.Format
	inFormat  audio.Format
	stream    audio.Stream
	playUntil time.Time
	drain     *time.Timer
}

// End implements engine.Handle.
func (s *session) End(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.ending.Store(true)
		close(s.pumpStop)
		s.stopPlayback()

		s.writeMu.Lock()
		werr := s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		s.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) && !s.readDone() {
			err = fmt.Errorf("send close: %w", werr)
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
		_ = s.conn.Close()
		<-s.done
		s.logger.Debug("Conversation ended", "conn", s.id)
	})
	return err
}

func (s *session) readDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := decodeEvent(data)
		if err != nil {
			s.logger.Debug("Ignoring undecodable frame", "conn", s.id, "error", err)
			continue
		}
		s.handle(ev)
	}
}

func (s *session) handle(ev serverEvent) {
	switch ev.Type {
	case typeMetadata:
		s.started(ev)

	case typeAudio:
		if ev.Audio == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Audio.Audio)
		if err != nil {
			s.logger.Debug("Invalid audio payload", "conn", s.id, "error", err)
			return
		}
		s.play(pcm)
		s.setMode(engine.ModeSpeaking)

	case typeInterruption:
		s.interrupt()
		s.setMode(engine.ModeListening)

	case typePing:
		if ev.Ping == nil {
			return
		}
		if err := s.write(pong{Type: "pong", EventID: ev.Ping.EventID}); err != nil {
			s.logger.Debug("Failed to answer ping", "conn", s.id, "error", err)
		}

	case typeAgentResponse:
		if ev.AgentResponse != nil {
			s.message("ai", ev.Type, ev.AgentResponse.Text)
		}

	case typeUserTranscript:
		if ev.UserTranscript != nil {
			s.message("user", ev.Type, ev.UserTranscript.Text)
		}

	case typeCorrection:
		if ev.Correction != nil {
			s.message("ai", ev.Type, ev.Correction.Corrected)
		}

	default:
		s.logger.Debug("Unhandled conversation event", "conn", s.id, "type", ev.Type)
	}
}

// started handles the server's confirmation of the conversation.
func (s *session) started(ev serverEvent) {
	_ = s.conn.SetReadDeadline(time.Time{})

	if md := ev.Metadata; md != nil {
		s.logger.Debug("Conversation started", "conn", s.id,
			"conversation", md.ConversationID,
			"output", md.OutputFormat,
			"input", md.InputFormat)
		s.playMu.Lock()
		if f, err := audio.ParseFormat(md.OutputFormat); err == nil {
			s.outFormat = f
		}
		if f, err := audio.ParseFormat(md.InputFormat); err == nil {
			s.inFormat = f
		}
		s.playMu.Unlock()
	}

	if s.output != nil {
		s.playMu.Lock()
		f := s.outFormat
		s.playMu.Unlock()
		st, err := s.output(context.Background(), f)
		if err != nil {
			s.logger.Warn("Agent audio playback unavailable", "conn", s.id, "error", err)
		} else {
			s.playMu.Lock()
			s.stream = st
			s.playMu.Unlock()
		}
	}

	s.emitMu.Lock()
	if s.finished || s.connected || s.ending.Load() {
		s.emitMu.Unlock()
		return
	}
	s.connected = true
	s.mode = engine.ModeListening
	if s.cb.OnConnect != nil {
		s.cb.OnConnect()
	}
	s.emitMu.Unlock()

	if s.input != nil {
		go s.pump()
	}
}

// pump streams microphone audio until the session ends or input runs out.
func (s *session) pump() {
	buf := make([]byte, s.chunkSize)
	for {
		select {
		case <-s.pumpStop:
			return
		default:
		}
		n, err := s.input.Read(buf)
		if n > 0 {
			if werr := s.sendAudio(buf[:n]); werr != nil {
				if !s.ending.Load() {
					s.logger.Debug("Stopped streaming microphone audio", "conn", s.id, "error", werr)
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.ending.Load() {
				s.logger.Warn("Microphone stream failed", "conn", s.id, "error", err)
			}
			return
		}
	}
}

func (s *session) sendAudio(pcm []byte) error {
	s.playMu.Lock()
	want := s.inFormat.SampleRate
	s.playMu.Unlock()
	if s.inputRate > 0 && want > 0 && s.inputRate != want {
		if s.resampler == nil {
			rs, err := audio.NewResampler(s.inputRate, want)
			if err != nil {
				return err
			}
			s.resampler = rs
		}
		resampled, err := s.resampler.Process(pcm[:len(pcm)&^1])
		if err != nil {
			return err
		}
		if len(resampled) == 0 {
			return nil
		}
		pcm = resampled
	}
	return s.write(userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

// play queues agent audio and schedules the return to listening once it has
// been played out.
func (s *session) play(pcm []byte) {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.stream != nil {
		if err := s.stream.Write(pcm); err != nil {
			s.logger.Debug("Playback write failed", "conn", s.id, "error", err)
		}
	}
	now := time.Now()
	if s.playUntil.Before(now) {
		s.playUntil = now
	}
	s.playUntil = s.playUntil.Add(s.outFormat.Duration(len(pcm)))

	wait := time.Until(s.playUntil) + drainGrace
	if s.drain == nil {
		s.drain = time.AfterFunc(wait, s.checkDrained)
	} else {
		s.drain.Reset(wait)
	}
}

func (s *session) checkDrained() {
	s.playMu.Lock()
	remaining := time.Until(s.playUntil)
	if s.stream != nil {
		if b := s.stream.Buffered(); b > remaining {
			remaining = b
		}
	}
	if remaining > 0 && s.drain != nil {
		s.drain.Reset(remaining + drainGrace)
		s.playMu.Unlock()
		return
	}
	s.playMu.Unlock()
	s.setMode(engine.ModeListening)
}

func (s *session) interrupt() {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.stream != nil {
		s.stream.Clear()
	}
	s.playUntil = time.Time{}
	if s.drain != nil {
		s.drain.Stop()
	}
}

func (s *session) stopPlayback() {
	s.playMu.Lock()
	defer s.playMu.Unlock()
	if s.drain != nil {
		s.drain.Stop()
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

func (s *session) setMode(m engine.Mode) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.live() || s.mode == m {
		return
	}
	s.mode = m
	if s.cb.OnModeChange != nil {
		s.cb.OnModeChange(m)
	}
}

func (s *session) message(source, typ, text string) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.live() {
		return
	}
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(engine.Message{Source: source, Type: typ, Text: text})
	}
}

// live reports whether non-terminal callbacks may fire. emitMu must be held.
func (s *session) live() bool {
	return s.connected && !s.finished && !s.ending.Load()
}

// readFailed reports how the connection ended.
func (s *session) readFailed(err error) {
	s.stopPlayback()
	if s.ending.Load() {
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.finished {
		return
	}
	s.finished = true

	var ce *websocket.CloseError
	isClose := errors.As(err, &ce)

	switch {
	case !s.connected:
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			err = fmt.Errorf("timed out waiting for the conversation to start: %w", err)
		} else {
			err = fmt.Errorf("connection closed before the conversation started: %w", err)
		}
		s.logger.Debug("Conversation failed to start", "conn", s.id, "error", err)
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	case isClose:
		if s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect(engine.DisconnectEvent{Code: ce.Code, Reason: ce.Text})
		}
	default:
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	}
}
