// Package engine defines the contract between the session bridge and a
// real-time voice engine. The engine owns transport, microphone streaming and
// turn-taking; callers only see lifecycle callbacks and an opaque handle.
package engine

import (
	"context"
	"fmt"
	"io"
)

// CloseNormal is the close code of a graceful session end.
const CloseNormal = 1000

// Mode is the turn-taking state of a live session.
type Mode int

const (
	// ModeListening means the agent is waiting for the user.
	ModeListening Mode = iota
	// ModeSpeaking means the agent is talking.
	ModeSpeaking
)

// String returns the mode name used on the wire.
func (m Mode) String() string {
	switch m {
	case ModeListening:
		return "listening"
	case ModeSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ParseMode converts a wire mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "listening":
		return ModeListening, nil
	case "speaking":
		return ModeSpeaking, nil
	default:
		return ModeListening, fmt.Errorf("unknown mode %q", s)
	}
}

// DisconnectEvent describes how a session ended.
type DisconnectEvent struct {
	Code   int
	Reason string
}

// Graceful reports whether the session closed with the normal close code.
// A zero code means the engine did not report one and is treated as graceful.
func (e DisconnectEvent) Graceful() bool {
	return e.Code == 0 || e.Code == CloseNormal
}

// Message is a payload from the engine that does not change session state,
// such as transcripts and agent responses.
type Message struct {
	Source string // "user" or "ai"
	Type   string // wire event type
	Text   string
}

// Callbacks receive session lifecycle events. Each callback is invoked at most
// once per event, in the order the engine emits them. OnDisconnect and OnError
// are terminal for the handle.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func(DisconnectEvent)
	OnError      func(error)
	OnModeChange func(Mode)
	OnMessage    func(Message)
}

// Request opens a session.
type Request struct {
	// AgentID is the normalized identifier of the agent to talk to.
	AgentID string
	// Input is the captured microphone stream (16-bit LE mono PCM). It may be
	// nil for engines that do their own capture.
	Input io.Reader
	// SampleRate of Input.
	SampleRate int
}

// Handle is a live session.
type Handle interface {
	// End terminates the session and releases its resources. It is safe to
	// call more than once.
	End(ctx context.Context) error
}

// Engine opens live sessions.
type Engine interface {
	Open(ctx context.Context, req Request, cb Callbacks) (Handle, error)
}
