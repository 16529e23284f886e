// Package agent holds agent identifiers and the showcase catalog.
package agent

import (
	"errors"
	"strings"
)

// EnginePrefix is stripped from public identifiers before they are handed to
// the voice engine.
const EnginePrefix = "agent_"

// ErrEmptyRef is returned when an agent identifier is blank.
var ErrEmptyRef = errors.New("agent identifier is required")

// Ref identifies a voice agent. The zero value is not a valid reference.
type Ref struct {
	id string
}

// ParseRef validates and returns a Ref for the given identifier.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, ErrEmptyRef
	}
	return Ref{id: s}, nil
}

// MustParseRef is like ParseRef but panics on error. Intended for literals.
func MustParseRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the public identifier, as it appears in embed snippets.
func (r Ref) String() string {
	return r.id
}

// EngineID returns the identifier sent to the voice engine.
func (r Ref) EngineID() string {
	if id := strings.TrimPrefix(r.id, EnginePrefix); id != "" {
		return id
	}
	return r.id
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool {
	return r.id == ""
}
