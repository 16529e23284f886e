// Package mock provides a scripted voice engine for testing.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/naradvoice/narad/internal/engine"
)

// ErrNoSession is returned by Next when no session was opened in time.
var ErrNoSession = errors.New("mock: no session opened")

// MockEngine implements engine.Engine. Tests drive each opened session by
// calling its methods, which fire the callbacks the bridge registered.
type MockEngine struct {
	mu sync.Mutex

	// Control for testing
	delay       time.Duration
	openErr     error
	endErr      error
	autoConnect bool

	// State
	sessions []*Session
	opened   chan *Session
}

// New creates a mock engine that opens sessions without connecting them.
func New() *MockEngine {
	return &MockEngine{opened: make(chan *Session, 64)}
}

// Open records the request and returns a session handle.
func (e *MockEngine) Open(ctx context.Context, req engine.Request, cb engine.Callbacks) (engine.Handle, error) {
	e.mu.Lock()
	delay, openErr, endErr, auto := e.delay, e.openErr, e.endErr, e.autoConnect
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	s := &Session{Request: req, cb: cb, endErr: endErr, ended: make(chan struct{})}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	e.opened <- s

	if auto {
		s.Connect()
	}
	return s, nil
}

// Next waits for the next opened session.
func (e *MockEngine) Next(timeout time.Duration) (*Session, error) {
	select {
	case s := <-e.opened:
		return s, nil
	case <-time.After(timeout):
		return nil, ErrNoSession
	}
}

// Sessions returns every session opened so far.
func (e *MockEngine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// SetDelay delays Open.
func (e *MockEngine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetOpenFailure makes Open fail with err.
func (e *MockEngine) SetOpenFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// SetEndFailure makes End of later sessions fail with err.
func (e *MockEngine) SetEndFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endErr = err
}

// SetAutoConnect makes Open report the connection before returning.
func (e *MockEngine) SetAutoConnect(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoConnect = on
}

// Session is one opened session.
type Session struct {
	engine.Request

	cb     engine.Callbacks
	endErr error

	mu       sync.Mutex
	endCalls int
	ended    chan struct{}
}

// End implements engine.Handle.
func (s *Session) End(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCalls++
	if s.endCalls == 1 {
		close(s.ended)
	}
	return s.endErr
}

// Ended is closed on the first End call.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// EndCalls returns how many times End was called.
func (s *Session) EndCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endCalls
}

// Connect fires OnConnect.
func (s *Session) Connect() {
	if s.cb.OnConnect != nil {
		s.cb.OnConnect()
	}
}

// SetMode fires OnModeChange.
func (s *Session) SetMode(m engine.Mode) {
	if s.cb.OnModeChange != nil {
		s.cb.OnModeChange(m)
	}
}

// Say fires OnMessage.
func (s *Session) Say(source, text string) {
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(engine.Message{Source: source, Type: "message", Text: text})
	}
}

// Disconnect fires OnDisconnect.
func (s *Session) Disconnect(code int, reason string) {
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect(engine.DisconnectEvent{Code: code, Reason: reason})
	}
}

// Fail fires OnError.
func (s *Session) Fail(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
