package bridge

import (
	"time"

	"github.com/naradvoice/narad/internal/agent"
	"github.com/naradvoice/narad/internal/engine"
)

// Status is the lifecycle state of a bridge.
type Status int

const (
	// StatusIdle means no session is active.
	StatusIdle Status = iota
	// StatusConnecting means a session is being established.
	StatusConnecting
	// StatusConnected means a session is live.
	StatusConnected
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Mode is the speaking sub-state of a connected session.
type Mode = engine.Mode

// Speaking sub-states.
const (
	ModeListening = engine.ModeListening
	ModeSpeaking  = engine.ModeSpeaking
)

// Update is emitted on every status or mode transition.
type Update struct {
	Session string    // identity of the session the transition belongs to
	Agent   agent.Ref // agent of the session
	Status  Status
	Mode    Mode  // only meaningful when Status is StatusConnected
	Err     error // failure that ended a pending Start
	Warning error // non-fatal condition reported alongside the transition
	At      time.Time
}

// Speaking reports whether the agent is talking.
func (u Update) Speaking() bool {
	return u.Status == StatusConnected && u.Mode == ModeSpeaking
}

// Label is a short description of the update, e.g. "connected/speaking".
func (u Update) Label() string {
	if u.Status == StatusConnected {
		return u.Status.String() + "/" + u.Mode.String()
	}
	return u.Status.String()
}

// Sink observes a bridge. Methods are called on the bridge's event loop,
// synchronously with each transition, so they must not call back into the
// bridge.
type Sink interface {
	StatusChanged(Update)
	Message(engine.Message)
}

// Funcs adapts functions to a Sink. Nil fields are ignored.
type Funcs struct {
	OnStatus  func(Update)
	OnMessage func(engine.Message)
}

// StatusChanged implements Sink.
func (f Funcs) StatusChanged(u Update) {
	if f.OnStatus != nil {
		f.OnStatus(u)
	}
}

// Message implements Sink.
func (f Funcs) Message(m engine.Message) {
	if f.OnMessage != nil {
		f.OnMessage(m)
	}
}

type nopSink struct{}

func (nopSink) StatusChanged(Update)   {}
func (nopSink) Message(engine.Message) {}

// transitions lists the status changes the bridge may make. A self
// transition on StatusConnected is a mode change.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting},
	StatusConnecting: {StatusConnected, StatusIdle},
	StatusConnected:  {StatusConnected, StatusIdle},
}

func validTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
