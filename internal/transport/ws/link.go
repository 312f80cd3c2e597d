package ws

import (
	"sync"

	"ghoulrush.io/internal/protocol"
)

// link is the outbound half of one websocket connection. The world loop is
// the only producer; the connection's writer goroutine is the only consumer.
type link struct {
	reliable   chan protocol.Frame
	unreliable chan protocol.Frame

	done chan struct{}
	once sync.Once
}

func newLink(reliable, unreliable int) *link {
	return &link{
		reliable:   make(chan protocol.Frame, reliable),
		unreliable: make(chan protocol.Frame, unreliable),
		done:       make(chan struct{}),
	}
}

// SendReliable never blocks. A full queue means the peer is not keeping up
// and the frame cannot be delivered in order, so it reports false.
func (l *link) SendReliable(f protocol.Frame) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.reliable <- f:
		return true
	default:
		return false
	}
}

func (l *link) SendUnreliable(f protocol.Frame) {
	select {
	case <-l.done:
		return
	default:
	}
	sendLatest(l.unreliable, f)
}

func (l *link) Close() { l.once.Do(func() { close(l.done) }) }

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// sendLatest queues f, dropping the oldest queued frame when full.
func sendLatest(ch chan protocol.Frame, f protocol.Frame) {
	select {
	case ch <- f:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}
