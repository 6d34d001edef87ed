package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	v1 "teamsync/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRoom_BroadcastSkipsFullAndClosedClients(t *testing.T) {
	r := NewRoom(discardLogger(), "ch-1")

	open := NewClient("s-open", "u-1", 32)
	full := NewClient("s-full", "u-2", 32)
	closed := NewClient("s-closed", "u-3", 32)
	for i := 0; i < cap(full.Send); i++ {
		full.Send <- v1.Envelope{}
	}
	closed.Close()

	r.Join(open)
	r.Join(full)
	r.Join(closed)
	if got := r.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	if got := r.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew}, nil); got != 1 {
		t.Fatalf("Broadcast delivered %d, want 1", got)
	}
	env := <-open.Send
	if env.Type != v1.TypeMessageNew {
		t.Fatalf("type = %q", env.Type)
	}
}

func TestRoom_BroadcastFilterMayLeaveHub(t *testing.T) {
	h := NewHub(discardLogger())
	keep := NewClient("s-keep", "u-keep", 32)
	evict := NewClient("s-evict", "u-evict", 32)
	r := h.Join("ch-1", keep)
	h.Join("ch-1", evict)

	got := r.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew}, func(c *Client) bool {
		if c.IdentityID == "u-evict" {
			h.Leave("ch-1", c.SessionID)
			return false
		}
		return true
	})
	if got != 1 {
		t.Fatalf("Broadcast delivered %d, want 1", got)
	}
	if n := len(evict.Send); n != 0 {
		t.Fatalf("filtered client received %d envelopes", n)
	}
	if n := r.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1 after eviction", n)
	}
}

func TestRoom_JoinIgnoresInvalidClients(t *testing.T) {
	r := NewRoom(discardLogger(), "ch-1")
	r.Join(nil)
	r.Join(NewClient("", "u-1", 32))
	if got := r.Len(); got != 0 {
		t.Fatalf("Len = %d, want 0", got)
	}
}

func TestHub_LeaveDropsEmptyRooms(t *testing.T) {
	h := NewHub(discardLogger())
	a := NewClient("s-a", "u-a", 32)
	b := NewClient("s-b", "u-b", 32)

	h.Join("ch-1", a)
	h.Join("ch-1", b)
	h.Join("ch-2", a)
	if got := h.Rooms(); got != 2 {
		t.Fatalf("Rooms = %d, want 2", got)
	}

	h.Leave("ch-1", a.SessionID)
	if r := h.Room("ch-1"); r == nil || r.Len() != 1 {
		t.Fatalf("ch-1 should keep one member")
	}
	h.Leave("ch-1", b.SessionID)
	h.Leave("ch-2", a.SessionID)
	if got := h.Rooms(); got != 0 {
		t.Fatalf("Rooms = %d, want 0", got)
	}
	// Leaving an unknown room is a no-op.
	h.Leave("missing", "s-x")
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	h := NewHub(discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient("s-"+string(rune('a'+i)), "u", 32)
			for j := 0; j < 50; j++ {
				h.Join("ch", c)
				if r := h.Room("ch"); r != nil {
					r.Broadcast(v1.Envelope{V: v1.Version, Type: v1.TypeMessageNew}, nil)
				}
				h.Leave("ch", c.SessionID)
			}
		}(i)
	}
	wg.Wait()
	if got := h.Rooms(); got != 0 {
		t.Fatalf("Rooms = %d, want 0", got)
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := NewClient("s", "", 0)
	if !c.Anonymous() {
		t.Fatalf("empty identity should be anonymous")
	}
	if cap(c.Send) == 0 {
		t.Fatalf("expected default queue size")
	}
	c.Close()
	c.Close()
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done should be closed")
	}

	var nilClient *Client
	nilClient.Close()
	<-nilClient.Done()
}
