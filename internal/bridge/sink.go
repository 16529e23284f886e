package bridge

import (
	"sync"

	"github.com/naradvoice/narad/internal/engine"
)

// Event is either a status update or a conversation message.
type Event struct {
	Update  *Update
	Message *engine.Message
}

// ChanSink forwards bridge events to a channel. It is how a bubbletea
// program receives updates: a command blocks on Events and turns each value
// into a message.
//
// Sends never block the bridge. Status updates are queued without limit and
// delivered in order; messages are dropped while size of them are already
// waiting. Close stops delivery.
type ChanSink struct {
	ch   chan Event
	size int

	mu       sync.Mutex
	pending  []Event
	messages int // messages in pending
	pumping  bool
	closed   bool
	done     chan struct{}
}

// NewChanSink returns a ChanSink buffering up to size messages.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{
		ch:   make(chan Event, size),
		size: size,
		done: make(chan struct{}),
	}
}

// Events returns the receive side.
func (c *ChanSink) Events() <-chan Event { return c.ch }

// StatusChanged implements Sink.
func (c *ChanSink) StatusChanged(u Update) {
	c.push(Event{Update: &u})
}

// Message implements Sink.
func (c *ChanSink) Message(m engine.Message) {
	c.push(Event{Message: &m})
}

// Close discards undelivered events. Later events are ignored.
func (c *ChanSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	c.messages = 0
	close(c.done)
}

func (c *ChanSink) push(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if ev.Message != nil {
		if c.messages >= c.size {
			return
		}
		c.messages++
	}
	c.pending = append(c.pending, ev)
	if !c.pumping {
		c.pumping = true
		go c.pump()
	}
}

// pump is the only sender on ch, so events arrive in the order pushed.
func (c *ChanSink) pump() {
	for {
		c.mu.Lock()
		if c.closed || len(c.pending) == 0 {
			c.pumping = false
			c.mu.Unlock()
			return
		}
		ev := c.pending[0]
		c.pending[0] = Event{}
		c.pending = c.pending[1:]
		if ev.Message != nil {
			c.messages--
		}
		c.mu.Unlock()

		select {
		case c.ch <- ev:
		case <-c.done:
			c.mu.Lock()
			c.pumping = false
			c.mu.Unlock()
			return
		}
	}
}
