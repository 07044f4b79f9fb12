package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Raditt10/IRMA-Verse/internal/protocol"
	"github.com/Raditt10/IRMA-Verse/internal/relay"
)

// fakeDelivery stands in for the connection manager: a static conn->user
// mapping and a record of everything sent per connection.
type fakeDelivery struct {
	mu    sync.Mutex
	users map[string]string
	sent  map[string][][]byte
}

func newFakeDelivery(users map[string]string) *fakeDelivery {
	return &fakeDelivery{users: users, sent: make(map[string][][]byte)}
}

func (d *fakeDelivery) ConnUserID(connID string) (string, bool) {
	userID, ok := d.users[connID]
	return userID, ok
}

func (d *fakeDelivery) Send(connID string, data []byte) error {
	d.mu.Lock()
	d.sent[connID] = append(d.sent[connID], data)
	d.mu.Unlock()
	return nil
}

func (d *fakeDelivery) received(connID string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[connID]
}

func marshalEvent(t *testing.T, ev relay.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestFanoutSkipsSenderConnections(t *testing.T) {
	delivery := newFakeDelivery(map[string]string{
		"conn-a1": "user-a",
		"conn-a2": "user-a",
		"conn-b":  "user-b",
	})
	bus := newFakeBus()
	fan := NewFanout(delivery)
	r := NewRouter(bus, fan.Handle)
	fan.Bind(r)

	r.Join("conv-1", "conn-a1")
	r.Join("conv-1", "conn-a2")
	r.Join("conv-1", "conn-b")

	bus.publish("conv-1", marshalEvent(t, relay.Event{
		Kind:           relay.KindMessage,
		ConversationID: "conv-1",
		SenderID:       "user-a",
		SenderName:     "Alice",
		Content:        "halo",
		MessageID:      "msg-1",
		CreatedAt:      "2026-08-29T10:00:00Z",
	}))

	// Every connection of the sender stays silent, including the second tab.
	if got := delivery.received("conn-a1"); len(got) != 0 {
		t.Fatalf("sender conn-a1 received %d messages, want 0", len(got))
	}
	if got := delivery.received("conn-a2"); len(got) != 0 {
		t.Fatalf("sender conn-a2 received %d messages, want 0", len(got))
	}

	got := delivery.received("conn-b")
	if len(got) != 1 {
		t.Fatalf("recipient received %d messages, want exactly 1", len(got))
	}

	var out struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
		SenderID       string `json:"sender_id"`
		Content        string `json:"content"`
		MessageID      string `json:"message_id"`
	}
	if err := json.Unmarshal(got[0], &out); err != nil {
		t.Fatalf("unmarshal delivered message: %v", err)
	}
	if out.Type != protocol.TypeMessageReceive {
		t.Fatalf("delivered type = %q, want %q", out.Type, protocol.TypeMessageReceive)
	}
	if out.ConversationID != "conv-1" || out.SenderID != "user-a" || out.Content != "halo" || out.MessageID != "msg-1" {
		t.Fatalf("unexpected delivered payload: %s", got[0])
	}
}

func TestFanoutTranslatesTypingEvents(t *testing.T) {
	delivery := newFakeDelivery(map[string]string{
		"conn-a": "user-a",
		"conn-b": "user-b",
	})
	bus := newFakeBus()
	fan := NewFanout(delivery)
	r := NewRouter(bus, fan.Handle)
	fan.Bind(r)

	r.Join("conv-1", "conn-a")
	r.Join("conv-1", "conn-b")

	bus.publish("conv-1", marshalEvent(t, relay.Event{
		Kind:           relay.KindTypingStart,
		ConversationID: "conv-1",
		SenderID:       "user-a",
	}))
	bus.publish("conv-1", marshalEvent(t, relay.Event{
		Kind:           relay.KindTypingStop,
		ConversationID: "conv-1",
		SenderID:       "user-a",
	}))

	got := delivery.received("conn-b")
	if len(got) != 2 {
		t.Fatalf("recipient received %d typing events, want 2", len(got))
	}
	var first, second struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(got[0], &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(got[1], &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Type != protocol.TypeTypingStart || second.Type != protocol.TypeTypingStop {
		t.Fatalf("delivered types = %q, %q", first.Type, second.Type)
	}
	if first.UserID != "user-a" {
		t.Fatalf("typing user = %q, want user-a", first.UserID)
	}
	if got := delivery.received("conn-a"); len(got) != 0 {
		t.Fatalf("typing echoed back to its sender: %d events", len(got))
	}
}

func TestFanoutDropsBadAndUnknownEvents(t *testing.T) {
	delivery := newFakeDelivery(map[string]string{"conn-b": "user-b"})
	bus := newFakeBus()
	fan := NewFanout(delivery)
	r := NewRouter(bus, fan.Handle)
	fan.Bind(r)

	r.Join("conv-1", "conn-b")

	bus.publish("conv-1", []byte("not json"))
	bus.publish("conv-1", marshalEvent(t, relay.Event{
		Kind:           "presence:wave",
		ConversationID: "conv-1",
		SenderID:       "user-a",
	}))

	if got := delivery.received("conn-b"); len(got) != 0 {
		t.Fatalf("malformed or unknown events were delivered: %d", len(got))
	}
}

func TestFanoutSkipsVanishedConnections(t *testing.T) {
	// conn-gone is still in the room but no longer known to the delivery, as
	// happens in the window between socket close and room cleanup.
	delivery := newFakeDelivery(map[string]string{"conn-b": "user-b"})
	bus := newFakeBus()
	fan := NewFanout(delivery)
	r := NewRouter(bus, fan.Handle)
	fan.Bind(r)

	r.Join("conv-1", "conn-b")
	r.Join("conv-1", "conn-gone")

	bus.publish("conv-1", marshalEvent(t, relay.Event{
		Kind:           relay.KindMessage,
		ConversationID: "conv-1",
		SenderID:       "user-a",
		Content:        "halo",
		MessageID:      "msg-1",
		CreatedAt:      "2026-08-29T10:00:00Z",
	}))

	if got := delivery.received("conn-b"); len(got) != 1 {
		t.Fatalf("recipient received %d messages, want 1", len(got))
	}
	if got := delivery.received("conn-gone"); len(got) != 0 {
		t.Fatalf("vanished connection received %d messages", len(got))
	}
}
