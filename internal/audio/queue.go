package audio

import (
	"sync"
	"time"
)

// queue is the reader an output device pulls from. Chunks are kept alive in
// the queue until they are fully read, and an empty queue reads as silence
// so the device never sees end of stream while a session is live.
type queue struct {
	format Format

	mu      sync.Mutex
	chunks  [][]byte
	pending int
	closed  bool
}

func newQueue(f Format) *queue {
	return &queue{format: f}
}

func (q *queue) push(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.chunks = append(q.chunks, data)
	q.pending += len(data)
}

func (q *queue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = nil
	q.pending = 0
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.chunks = nil
	q.pending = 0
}

// buffered returns how much queued audio has not been read yet.
func (q *queue) buffered() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.format.Duration(q.pending)
}

// Read fills p with queued audio, padding with silence.
func (q *queue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(p) && len(q.chunks) > 0 {
		c := copy(p[n:], q.chunks[0])
		n += c
		q.pending -= c
		if c == len(q.chunks[0]) {
			q.chunks[0] = nil
			q.chunks = q.chunks[1:]
		} else {
			q.chunks[0] = q.chunks[0][c:]
		}
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
