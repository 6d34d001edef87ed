package realtime

import (
	"sync"

	v1 "teamsync/contracts/realtime/v1"
)

// Client is one accepted connection as seen by rooms: its identity and a
// bounded outbound queue drained by the connection's writer goroutine.
type Client struct {
	SessionID  string
	IdentityID string // empty for anonymous connections
	Send       chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient allocates a queue of queueSize envelopes (64 when non-positive).
func NewClient(sessionID, identityID string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Client{
		SessionID:  sessionID,
		IdentityID: identityID,
		Send:       make(chan v1.Envelope, queueSize),
		done:       make(chan struct{}),
	}
}

// Anonymous reports whether the connection carried no valid credential.
func (c *Client) Anonymous() bool { return c.IdentityID == "" }

// TrySend queues env without blocking. It reports false when the queue is
// full or the client is closing; Send itself is never closed, so concurrent
// senders cannot panic.
func (c *Client) TrySend(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Done is closed once Close has been called. A nil client is always done.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close marks the client as closing; safe to call more than once.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
