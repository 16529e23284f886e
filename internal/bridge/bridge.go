// Package bridge manages the lifecycle of a single live voice session and
// reports every transition to an observer.
//
// A Bridge owns its state on one goroutine. Caller commands and engine
// callbacks are messages on a single ordered channel, and every engine event
// is tagged with the identity of the session it came from, so callbacks from
// a session that has already been stopped are dropped.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/engine"
	"github.com/naradvoice/narad/internal/loader"
)

const defaultEndTimeout = 5 * time.Second

// Loader makes the engine runtime available.
type Loader interface {
	Ensure(ctx context.Context) (loader.Runtime, error)
}

// Capture is a live microphone stream.
type Capture interface {
	io.Reader
	SampleRate() int
	Stop() error
}

// Microphone grants access to audio capture. A refusal is reported as a
// KindPermissionDenied failure.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Recorder keeps the messages of one session.
type Recorder interface {
	Record(engine.Message)
	Close() error
}

// RecorderFunc creates a Recorder for a connected session.
type RecorderFunc func(session string, ref agent.Ref) (Recorder, error)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLoader sets the runtime loader. Defaults to loader.Default().
func WithLoader(l Loader) Option {
	return func(b *Bridge) { b.loader = l }
}

// WithMicrophone sets the capture source. Without one the engine receives no
// input stream.
func WithMicrophone(m Microphone) Option {
	return func(b *Bridge) { b.mic = m }
}

// WithSink sets the observer.
func WithSink(s Sink) Option {
	return func(b *Bridge) {
		if s != nil {
			b.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithRecorder records the messages of every connected session.
func WithRecorder(fn RecorderFunc) Option {
	return func(b *Bridge) { b.recorder = fn }
}

// WithEndTimeout bounds how long ending a handle may take.
func WithEndTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.endTimeout = d }
}

// WithClock sets the time source used for Update timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge mediates between a caller and one voice engine session at a time.
type Bridge struct {
	engine     engine.Engine
	loader     Loader
	mic        Microphone
	sink       Sink
	logger     *log.Logger
	recorder   RecorderFunc
	endTimeout time.Duration
	now        func() time.Time

	events    chan any
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	snap Update

	// Owned by the loop goroutine.
	cur     *session
	drain   chan struct{} // closed when the last released handle has ended
	closing []chan struct{}
}

type session struct {
	id       string
	ref      agent.Ref
	startCtx context.Context // the caller's Start ctx
	cancel   context.CancelFunc

	status Status
	mode   Mode

	setupDone bool
	handle    engine.Handle
	capture   Capture
	rec       Recorder

	stopping  bool
	startErr  error // reported to Start when the stop completes
	start     chan error
	stopWait  []chan struct{}
	connected time.Time
}

// New returns a Bridge for eng and starts its event loop. Call Close to
// release it.
func New(eng engine.Engine, opts ...Option) *Bridge {
	b := &Bridge{
		engine:     eng,
		sink:       nopSink{},
		logger:     log.Default(),
		endTimeout: defaultEndTimeout,
		now:        time.Now,
		events:     make(chan any),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.loader == nil {
		b.loader = loader.Default()
	}
	drained := make(chan struct{})
	close(drained)
	b.drain = drained
	b.snap = Update{Status: StatusIdle, At: b.now()}

	go b.loop()
	return b
}

// Commands.
type (
	startCmd struct {
		ctx   context.Context
		ref   agent.Ref
		reply chan error
	}
	cancelCmd struct {
		reply chan error
		err   error
	}
	stopCmd  struct{ reply chan struct{} }
	closeCmd struct{ reply chan struct{} }
)

// Events posted by helper goroutines and engine callbacks.
type (
	setupEvent struct {
		id      string
		capture Capture
		handle  engine.Handle
		err     error
	}
	endedEvent struct {
		id  string
		err error
	}
	connectEvent struct {
		id string
	}
	modeEvent struct {
		id   string
		mode Mode
	}
	messageEvent struct {
		id  string
		msg engine.Message
	}
	disconnectEvent struct {
		id string
		ev engine.DisconnectEvent
	}
	errorEvent struct {
		id  string
		err error
	}
)

// Start opens a session with the agent. It blocks until the session is
// connected or the attempt ends, and returns ErrAlreadyActive without side
// effects when a session is already connecting or connected. Cancelling ctx
// while connecting stops the attempt.
func (b *Bridge) Start(ctx context.Context, ref agent.Ref) error {
	if ref.IsZero() {
		return agent.ErrEmptyRef
	}
	reply := make(chan error, 1)
	if !b.post(startCmd{ctx: ctx, ref: ref, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		if !b.post(cancelCmd{reply: reply, err: ctx.Err()}) {
			return ErrClosed
		}
		return <-reply
	}
}

// Stop ends the active session, if any, and returns once the session's
// handle has been terminated and the bridge is idle. Termination failures are
// logged, never returned. Stop is safe to call repeatedly and concurrently.
// If ctx ends first Stop returns early; the teardown still completes.
func (b *Bridge) Stop(ctx context.Context) {
	reply := make(chan struct{})
	if !b.post(stopCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// Close tears the bridge down: any live session is ended and the event loop
// exits. It runs once; later calls only wait for the first to finish.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		reply := make(chan struct{})
		if b.post(closeCmd{reply: reply}) {
			<-reply
		}
	})
	<-b.done
}

// Status returns the latest update.
func (b *Bridge) Status() Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// post delivers v to the loop. It reports false once the loop has exited.
func (b *Bridge) post(v any) bool {
	select {
	case b.events <- v:
		return true
	case <-b.done:
		return false
	}
}

func (b *Bridge) loop() {
	defer close(b.done)
	for v := range b.events {
		switch ev := v.(type) {
		case startCmd:
			b.handleStart(ev)
		case cancelCmd:
			b.handleCancel(ev)
		case stopCmd:
			b.handleStop(ev.reply)
		case closeCmd:
			b.closing = append(b.closing, ev.reply)
			if b.cur == nil {
				b.finishClose()
				return
			}
			b.beginStop(b.cur, ErrClosed, nil)
		case setupEvent:
			b.handleSetup(ev)
		case endedEvent:
			b.handleEnded(ev)
		case connectEvent:
			if s := b.live(ev.id); s != nil {
				b.handleConnect(s)
			}
		case modeEvent:
			if s := b.live(ev.id); s != nil && s.status == StatusConnected && s.mode != ev.mode {
				s.mode = ev.mode
				b.emit(s, Update{Status: StatusConnected, Mode: ev.mode})
			}
		case messageEvent:
			if s := b.live(ev.id); s != nil {
				b.logger.Debug("Bridge message", "session", s.id, "type", ev.msg.Type, "source", ev.msg.Source)
				if s.rec != nil {
					s.rec.Record(ev.msg)
				}
				b.sink.Message(ev.msg)
			}
		case disconnectEvent:
			if s := b.live(ev.id); s != nil {
				b.handleDisconnect(s, ev.ev)
			}
		case errorEvent:
			if s := b.live(ev.id); s != nil {
				b.handleEngineError(s, ev.err)
			}
		}
		if b.closing != nil && b.cur == nil {
			b.finishClose()
			return
		}
	}
}

// live returns the current session if id belongs to it and it is not being
// stopped.
func (b *Bridge) live(id string) *session {
	s := b.cur
	if s == nil || s.id != id || s.stopping {
		return nil
	}
	return s
}

func (b *Bridge) handleStart(cmd startCmd) {
	if b.closing != nil {
		cmd.reply <- ErrClosed
		return
	}
	if b.cur != nil {
		cmd.reply <- ErrAlreadyActive
		return
	}

	ctx, cancel := context.WithCancel(cmd.ctx)
	s := &session{
		id:       uuid.NewString(),
		ref:      cmd.ref,
		startCtx: cmd.ctx,
		cancel:   cancel,
		start:    cmd.reply,
	}
	b.cur = s
	b.logger.Info("Initiating voice bridge session", "session", s.id, "agent", s.ref.String())
	b.emit(s, Update{Status: StatusConnecting})

	go b.setup(ctx, s.id, s.ref, b.drain)
}

// setup runs off the loop: load the runtime, acquire the microphone, then
// open the engine session. The result is posted back as a setupEvent.
func (b *Bridge) setup(ctx context.Context, id string, ref agent.Ref, prev <-chan struct{}) {
	ev := setupEvent{id: id}
	defer func() {
		if !b.post(ev) {
			b.release(ev.handle, ev.capture, "loop exited")
		}
	}()

	if _, err := b.loader.Ensure(ctx); err != nil {
		ev.err = newError(KindLoadFailed, err)
		return
	}

	var input io.Reader
	sampleRate := 0
	if b.mic != nil {
		c, err := b.mic.Acquire(ctx)
		if err != nil {
			ev.err = newError(KindPermissionDenied, err)
			return
		}
		ev.capture = c
		input = c
		sampleRate = c.SampleRate()
	}

	// The previous session's handle must be gone before a new one exists.
	select {
	case <-prev:
	case <-ctx.Done():
		ev.err = newError(KindConnectFailed, ctx.Err())
		return
	}

	h, err := b.engine.Open(ctx, engine.Request{
		AgentID:    ref.EngineID(),
		Input:      input,
		SampleRate: sampleRate,
	}, b.callbacks(id))
	if err != nil {
		ev.err = newError(KindConnectFailed, err)
		return
	}
	ev.handle = h
}

// callbacks returns engine callbacks that forward into the loop, tagged with
// the session identity. They block until the loop accepts the event so the
// engine's emission order is kept.
func (b *Bridge) callbacks(id string) engine.Callbacks {
	return engine.Callbacks{
		OnConnect:    func() { b.post(connectEvent{id: id}) },
		OnDisconnect: func(ev engine.DisconnectEvent) { b.post(disconnectEvent{id: id, ev: ev}) },
		OnError:      func(err error) { b.post(errorEvent{id: id, err: err}) },
		OnModeChange: func(m engine.Mode) { b.post(modeEvent{id: id, mode: m}) },
		OnMessage:    func(m engine.Message) { b.post(messageEvent{id: id, msg: m}) },
	}
}

func (b *Bridge) handleSetup(ev setupEvent) {
	s := b.cur
	if s == nil || s.id != ev.id {
		// The session already ended through an engine callback.
		b.releaseAsync(ev.handle, ev.capture, "stale session")
		return
	}
	s.setupDone = true
	s.handle = ev.handle
	s.capture = ev.capture

	if s.stopping {
		b.endSession(s)
		return
	}
	if ev.err != nil && s.startCtx.Err() != nil {
		// Setup failed because the caller gave up, not because of the engine.
		b.beginStop(s, s.startCtx.Err(), nil)
		return
	}
	if ev.err != nil {
		b.logger.Error("Failed to start conversation", "session", s.id, "error", ev.err)
		b.fail(s, ev.err, nil)
		return
	}
	b.logger.Debug("Session instance created", "session", s.id)
}

func (b *Bridge) handleConnect(s *session) {
	if s.status != StatusConnecting {
		return
	}
	s.mode = ModeListening
	s.connected = b.now()
	if b.recorder != nil {
		rec, err := b.recorder(s.id, s.ref)
		if err != nil {
			b.logger.Warn("Transcript recording disabled", "session", s.id, "error", err)
		} else {
			s.rec = rec
		}
	}
	b.logger.Info("Connected to voice bridge", "session", s.id, "agent", s.ref.String())
	b.emit(s, Update{Status: StatusConnected, Mode: ModeListening})
	if s.start != nil {
		s.start <- nil
		s.start = nil
	}
}

func (b *Bridge) handleDisconnect(s *session, ev engine.DisconnectEvent) {
	b.logger.Info("Disconnected from voice bridge", "session", s.id, "code", ev.Code, "reason", ev.Reason)
	if s.status == StatusConnecting {
		err := &Error{Kind: KindConnectFailed, Code: ev.Code, Reason: ev.Reason}
		if err.Reason == "" {
			err.Reason = fmt.Sprintf("connection closed with code %d", ev.Code)
		}
		b.fail(s, err, nil)
		return
	}
	var warn error
	if !ev.Graceful() {
		b.logger.Warn(fmt.Sprintf("Bridge closed with code: %d. Reason: %s", ev.Code, reasonOrDefault(ev.Reason)), "session", s.id)
		warn = &Error{Kind: KindAbnormalDisconnect, Code: ev.Code, Reason: ev.Reason}
	}
	b.fail(s, nil, warn)
}

func (b *Bridge) handleEngineError(s *session, err error) {
	b.logger.Error("Voice bridge error", "session", s.id, "error", err)
	if s.status == StatusConnecting {
		b.fail(s, newError(KindConnectFailed, err), nil)
		return
	}
	b.fail(s, nil, newError(KindAbnormalDisconnect, err))
}

// fail moves s to idle after a terminal event. Its resources are released in
// the background; the next session waits for that before opening a handle.
func (b *Bridge) fail(s *session, err, warn error) {
	s.cancel()
	b.releaseAsync(s.handle, s.capture, "session ended")
	b.finish(s, Update{Status: StatusIdle, Err: err, Warning: warn})
	if s.start != nil {
		s.start <- err
		s.start = nil
	}
}

func (b *Bridge) handleCancel(cmd cancelCmd) {
	s := b.cur
	if s == nil || s.start != cmd.reply || s.stopping {
		return
	}
	b.beginStop(s, cmd.err, nil)
}

func (b *Bridge) handleStop(reply chan struct{}) {
	s := b.cur
	if s == nil {
		drain := b.drain
		go func() {
			<-drain
			close(reply)
		}()
		return
	}
	if s.stopping {
		s.stopWait = append(s.stopWait, reply)
		return
	}
	b.beginStop(s, ErrStopped, reply)
}

// beginStop starts a caller-initiated stop. startErr is what a pending Start
// receives; reply, if any, is closed once the bridge is idle.
func (b *Bridge) beginStop(s *session, startErr error, reply chan struct{}) {
	if reply != nil {
		s.stopWait = append(s.stopWait, reply)
	}
	if s.stopping {
		return
	}
	s.stopping = true
	s.startErr = startErr
	b.logger.Info("Stopping voice bridge session", "session", s.id, "status", s.status)
	s.cancel()
	if s.setupDone {
		b.endSession(s)
	}
	// Otherwise handleSetup ends whatever the setup produced.
}

// endSession terminates the handle of a stopping session off the loop and
// reports back with an endedEvent.
func (b *Bridge) endSession(s *session) {
	h, c, id := s.handle, s.capture, s.id
	go func() {
		var err error
		if h != nil {
			err = b.end(h)
		}
		b.stopCapture(c)
		b.post(endedEvent{id: id, err: err})
	}()
}

func (b *Bridge) handleEnded(ev endedEvent) {
	s := b.cur
	if s == nil || s.id != ev.id {
		return
	}
	if ev.err != nil {
		b.logger.Warn("Session did not end cleanly", "session", s.id, "error", newError(KindTerminateFailed, ev.err))
	}
	b.finish(s, Update{Status: StatusIdle})
	if s.start != nil {
		s.start <- s.startErr
		s.start = nil
	}
}

// finish clears the current session and emits its final update.
func (b *Bridge) finish(s *session, u Update) {
	if s.rec != nil {
		if err := s.rec.Close(); err != nil {
			b.logger.Warn("Failed to save transcript", "session", s.id, "error", err)
		}
		s.rec = nil
	}
	b.cur = nil
	b.emit(s, u)
	for _, w := range s.stopWait {
		close(w)
	}
	s.stopWait = nil
}

func (b *Bridge) finishClose() {
	<-b.drain
	for _, w := range b.closing {
		close(w)
	}
	b.closing = nil
	b.logger.Debug("Voice bridge closed")
}

// emit records and publishes a transition for s.
func (b *Bridge) emit(s *session, u Update) {
	if !validTransition(s.status, u.Status) {
		b.logger.Error("Invalid bridge transition", "from", s.status, "to", u.Status)
		return
	}
	s.status = u.Status
	u.Session = s.id
	u.Agent = s.ref
	u.At = b.now()

	b.mu.Lock()
	b.snap = u
	b.mu.Unlock()

	b.sink.StatusChanged(u)
}

// releaseAsync ends a handle and stops a capture in the background. The next
// setup waits on b.drain until it is done.
func (b *Bridge) releaseAsync(h engine.Handle, c Capture, why string) {
	if h == nil && c == nil {
		return
	}
	prev := b.drain
	next := make(chan struct{})
	b.drain = next
	go func() {
		defer close(next)
		<-prev
		b.release(h, c, why)
	}()
}

func (b *Bridge) release(h engine.Handle, c Capture, why string) {
	if h != nil {
		if err := b.end(h); err != nil {
			b.logger.Warn("Session did not end cleanly", "reason", why, "error", newError(KindTerminateFailed, err))
		}
	}
	b.stopCapture(c)
}

func (b *Bridge) end(h engine.Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while ending session: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), b.endTimeout)
	defer cancel()
	return h.End(ctx)
}

func (b *Bridge) stopCapture(c Capture) {
	if c == nil {
		return
	}
	if err := c.Stop(); err != nil && !errors.Is(err, io.EOF) {
		b.logger.Debug("Microphone capture did not stop cleanly", "error", err)
	}
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "No reason provided"
	}
	return reason
}
