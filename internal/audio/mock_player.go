package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MockContext is an output device that plays nothing. Streams keep wall
// clock playback timing so callers observe realistic Buffered values.
type MockContext struct {
	sampleRate int
	closed     atomic.Bool

	mu      sync.Mutex
	streams []*MockStream
}

// NewMockContext creates a mock output device.
func NewMockContext(sampleRate int) *MockContext {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &MockContext{sampleRate: sampleRate}
}

// NewStream implements Context.
func (m *MockContext) NewStream(f Format) (Stream, error) {
	if m.closed.Load() {
		return nil, errors.New("audio context closed")
	}
	if f.SampleRate <= 0 {
		f = DefaultFormat()
	}
	s := &MockStream{format: f, now: time.Now}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// IsReady implements Context.
func (m *MockContext) IsReady() bool { return !m.closed.Load() }

// SampleRate implements Context.
func (m *MockContext) SampleRate() int { return m.sampleRate }

// Close implements Context.
func (m *MockContext) Close() error {
	m.closed.Store(true)
	return nil
}

// Streams returns every stream opened on the context.
func (m *MockContext) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// MockStream simulates playback of written audio.
type MockStream struct {
	format Format
	now    func() time.Time

	mu        sync.Mutex
	playUntil time.Time
	closed    bool

	// Metrics for testing
	writes atomic.Int64
	bytes  atomic.Int64
	clears atomic.Int64
}

// Write implements Stream.
func (s *MockStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream is closed")
	}
	now := s.now()
	if s.playUntil.Before(now) {
		s.playUntil = now
	}
	s.playUntil = s.playUntil.Add(s.format.Duration(len(pcm)))
	s.writes.Add(1)
	s.bytes.Add(int64(len(pcm)))
	return nil
}

// Clear implements Stream.
func (s *MockStream) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playUntil = time.Time{}
	s.clears.Add(1)
}

// Buffered implements Stream.
func (s *MockStream) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.playUntil.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// Close implements Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.playUntil = time.Time{}
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockStreamMetrics counts stream activity.
type MockStreamMetrics struct {
	Writes int64
	Bytes  int64
	Clears int64
}

// Metrics returns the stream's activity counters.
func (s *MockStream) Metrics() MockStreamMetrics {
	return MockStreamMetrics{
		Writes: s.writes.Load(),
		Bytes:  s.bytes.Load(),
		Clears: s.clears.Load(),
	}
}
