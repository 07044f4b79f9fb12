package relay

import (
	"testing"
)

// fakeBus captures published payloads per subject class.
type fakeBus struct {
	chatEvents map[string][][]byte // conversation ID -> payloads
	notifies   map[string][][]byte // user ID -> payloads
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		chatEvents: make(map[string][][]byte),
		notifies:   make(map[string][][]byte),
	}
}

func (b *fakeBus) PublishChatEvent(conversationID string, data []byte) error {
	b.chatEvents[conversationID] = append(b.chatEvents[conversationID], data)
	return nil
}

func (b *fakeBus) PublishNotify(userID string, data []byte) error {
	b.notifies[userID] = append(b.notifies[userID], data)
	return nil
}

func TestSendMessagePublishesEventAndNotification(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus)

	err := r.SendMessage(Event{
		ConversationID: "conv-1",
		SenderID:       "user-a",
		SenderName:     "Alice",
		RecipientID:    "user-b",
		Content:        "hello",
		MessageID:      "msg-1",
		CreatedAt:      "2026-02-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}

	if got := len(bus.chatEvents["conv-1"]); got != 1 {
		t.Fatalf("expected 1 chat event, got %d", got)
	}
	ev, err := DecodeEvent(bus.chatEvents["conv-1"][0])
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if ev.Kind != KindMessage {
		t.Errorf("expected kind %q, got %q", KindMessage, ev.Kind)
	}
	if ev.MessageID != "msg-1" || ev.SenderID != "user-a" {
		t.Errorf("event lost identity: %+v", ev)
	}

	if got := len(bus.notifies["user-b"]); got != 1 {
		t.Fatalf("expected 1 notification for recipient, got %d", got)
	}
	n, err := DecodeNotification(bus.notifies["user-b"][0])
	if err != nil {
		t.Fatalf("DecodeNotification() error: %v", err)
	}
	if n.ConversationID != "conv-1" || n.SenderID != "user-a" {
		t.Errorf("notification decoded wrong: %+v", n)
	}
}

func TestSendMessageRejectsUnpersistedIdentity(t *testing.T) {
	r := NewRelay(newFakeBus())

	// No MessageID/CreatedAt: the message was never persisted.
	err := r.SendMessage(Event{
		ConversationID: "conv-1",
		SenderID:       "user-a",
		RecipientID:    "user-b",
		Content:        "hello",
	})
	if err == nil {
		t.Fatal("expected error for event without persisted identity")
	}
}

func TestSendMessageRejectsMissingParticipants(t *testing.T) {
	r := NewRelay(newFakeBus())

	err := r.SendMessage(Event{
		MessageID: "msg-1",
		CreatedAt: "2026-02-01T10:00:00Z",
	})
	if err == nil {
		t.Fatal("expected error for event without conversation/sender")
	}
}

func TestSendTypingPublishesRoomOnly(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus)

	if err := r.SendTyping(KindTypingStart, "conv-1", "user-a"); err != nil {
		t.Fatalf("SendTyping() error: %v", err)
	}
	if err := r.SendTyping(KindTypingStop, "conv-1", "user-a"); err != nil {
		t.Fatalf("SendTyping() error: %v", err)
	}

	if got := len(bus.chatEvents["conv-1"]); got != 2 {
		t.Fatalf("expected 2 typing events, got %d", got)
	}
	if len(bus.notifies) != 0 {
		t.Fatal("typing must not produce notifications")
	}

	ev, err := DecodeEvent(bus.chatEvents["conv-1"][0])
	if err != nil {
		t.Fatalf("DecodeEvent() error: %v", err)
	}
	if ev.Kind != KindTypingStart || ev.SenderID != "user-a" {
		t.Errorf("typing event decoded wrong: %+v", ev)
	}
}

func TestSendTypingRejectsUnknownKind(t *testing.T) {
	r := NewRelay(newFakeBus())
	if err := r.SendTyping("message", "conv-1", "user-a"); err == nil {
		t.Fatal("expected error for non-typing kind")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{broken`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := DecodeEvent([]byte(`{}`)); err == nil {
		t.Fatal("expected error for event without kind")
	}
}
