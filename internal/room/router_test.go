package room

import (
	"sort"
	"sync"
	"testing"
)

// fakeBus records subscribe/unsubscribe calls and lets tests publish
// synthetic events into room handlers.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func(data []byte)
	subCalls int
	unsubs   []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(data []byte))}
}

func (b *fakeBus) SubscribeChatEvents(conversationID string, handler func(data []byte)) error {
	b.mu.Lock()
	b.handlers[conversationID] = handler
	b.subCalls++
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) UnsubscribeChatEvents(conversationID string) error {
	b.mu.Lock()
	delete(b.handlers, conversationID)
	b.unsubs = append(b.unsubs, conversationID)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) publish(conversationID string, data []byte) {
	b.mu.Lock()
	h := b.handlers[conversationID]
	b.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func TestJoinSubscribesOncePerRoom(t *testing.T) {
	bus := newFakeBus()
	r := NewRouter(bus, func(string, []byte) {})

	if err := r.Join("conv-1", "conn-1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if err := r.Join("conv-1", "conn-2"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	if bus.subCalls != 1 {
		t.Fatalf("expected 1 subscription for the room, got %d", bus.subCalls)
	}

	members := r.Members("conv-1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "conn-1" || members[1] != "conn-2" {
		t.Fatalf("unexpected members: %v", members)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	r := NewRouter(bus, func(string, []byte) {})

	// Leaving a room never joined is a no-op, not an error.
	r.Leave("conv-1", "conn-1")

	if err := r.Join("conv-1", "conn-1"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	r.Leave("conv-1", "conn-1")
	r.Leave("conv-1", "conn-1")

	if len(bus.unsubs) != 1 {
		t.Fatalf("expected exactly 1 unsubscribe, got %v", bus.unsubs)
	}
	if r.Rooms() != 0 {
		t.Fatalf("expected no rooms left, got %d", r.Rooms())
	}
}

func TestLastLeaveDropsSubscription(t *testing.T) {
	bus := newFakeBus()
	r := NewRouter(bus, func(string, []byte) {})

	r.Join("conv-1", "conn-1")
	r.Join("conv-1", "conn-2")

	r.Leave("conv-1", "conn-1")
	if len(bus.unsubs) != 0 {
		t.Fatal("subscription dropped while the room still had a member")
	}

	r.Leave("conv-1", "conn-2")
	if len(bus.unsubs) != 1 || bus.unsubs[0] != "conv-1" {
		t.Fatalf("expected unsubscribe for conv-1, got %v", bus.unsubs)
	}
}

func TestEventsReachRoomHandler(t *testing.T) {
	bus := newFakeBus()
	var gotConv string
	var gotData []byte
	r := NewRouter(bus, func(conversationID string, data []byte) {
		gotConv = conversationID
		gotData = data
	})

	r.Join("conv-1", "conn-1")
	bus.publish("conv-1", []byte(`{"kind":"message"}`))

	if gotConv != "conv-1" {
		t.Fatalf("expected handler called for conv-1, got %q", gotConv)
	}
	if string(gotData) != `{"kind":"message"}` {
		t.Fatalf("unexpected payload: %s", gotData)
	}
}

func TestDisconnectAllLeavesEveryRoom(t *testing.T) {
	bus := newFakeBus()
	r := NewRouter(bus, func(string, []byte) {})

	r.Join("conv-1", "conn-1")
	r.Join("conv-2", "conn-1")
	r.Join("conv-2", "conn-2")

	left := r.DisconnectAll("conn-1")
	sort.Strings(left)
	if len(left) != 2 || left[0] != "conv-1" || left[1] != "conv-2" {
		t.Fatalf("expected [conv-1 conv-2], got %v", left)
	}

	if r.InRoom("conv-1", "conn-1") || r.InRoom("conv-2", "conn-1") {
		t.Fatal("connection still in a room after DisconnectAll")
	}
	// conv-2 still has conn-2; its subscription must survive.
	if r.Rooms() != 1 {
		t.Fatalf("expected 1 room remaining, got %d", r.Rooms())
	}
	if len(bus.unsubs) != 1 || bus.unsubs[0] != "conv-1" {
		t.Fatalf("expected only conv-1 unsubscribed, got %v", bus.unsubs)
	}
}

func TestJoinTwiceIsNoop(t *testing.T) {
	bus := newFakeBus()
	r := NewRouter(bus, func(string, []byte) {})

	r.Join("conv-1", "conn-1")
	r.Join("conv-1", "conn-1")

	if got := len(r.Members("conv-1")); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
	if bus.subCalls != 1 {
		t.Fatalf("expected 1 subscribe call, got %d", bus.subCalls)
	}
}
