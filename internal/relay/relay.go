// Package relay fans persisted messages and typing indicators out to
// conversation rooms. It publishes events onto the NATS bus; the room router
// delivers them to joined connections, excluding the sender's own. The relay
// never persists anything itself — a message event must carry the identity
// the persistence layer already assigned.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/metrics"
)

// Event kinds carried on conversation subjects.
const (
	KindMessage     = "message"
	KindTypingStart = "typing:start"
	KindTypingStop  = "typing:stop"
)

// Bus is the subset of the messaging client the relay publishes through.
type Bus interface {
	PublishChatEvent(conversationID string, data []byte) error
	PublishNotify(userID string, data []byte) error
}

// Event is the payload published to chat.event.<conversation_id> subjects.
type Event struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// Notification is the payload published to chat.notify.<user_id> subjects so
// a recipient refreshes its conversation list even when it has no chat view
// open for the conversation.
type Notification struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name,omitempty"`
}

// Relay publishes chat events onto the bus.
type Relay struct {
	bus Bus
}

// NewRelay creates a Relay publishing through the given bus.
func NewRelay(bus Bus) *Relay {
	return &Relay{bus: bus}
}

// SendMessage publishes a persisted message to its conversation's subject and
// a notification nudge to the recipient's subject. The event must carry the
// server-assigned message identity; the relay refuses events for messages
// that have not been persisted, which keeps the ordering guarantee that no
// relay event names a message a fresh history fetch cannot see.
func (r *Relay) SendMessage(ev Event) error {
	if ev.ConversationID == "" || ev.SenderID == "" {
		return fmt.Errorf("relay: message event missing conversation or sender")
	}
	if ev.MessageID == "" || ev.CreatedAt == "" {
		return fmt.Errorf("relay: message event missing persisted identity")
	}
	ev.Kind = KindMessage

	start := time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal message event: %w", err)
	}
	if err := r.bus.PublishChatEvent(ev.ConversationID, data); err != nil {
		return fmt.Errorf("relay: publish message event: %w", err)
	}
	metrics.MessagesRelayed.WithLabelValues("message").Inc()

	if ev.RecipientID != "" {
		notif, err := json.Marshal(Notification{
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			SenderName:     ev.SenderName,
		})
		if err != nil {
			return fmt.Errorf("relay: marshal notification: %w", err)
		}
		if err := r.bus.PublishNotify(ev.RecipientID, notif); err != nil {
			return fmt.Errorf("relay: publish notification: %w", err)
		}
		metrics.MessagesRelayed.WithLabelValues("notification").Inc()
	}

	metrics.RelayPublishLatency.Observe(time.Since(start).Seconds())
	return nil
}

// SendTyping publishes a typing indicator to the conversation's subject.
// Pure forward: the relay does not expire typing state server-side; the
// sender owns the quiet-window stop and disconnect cleanup covers the rest.
func (r *Relay) SendTyping(kind, conversationID, userID string) error {
	if kind != KindTypingStart && kind != KindTypingStop {
		return fmt.Errorf("relay: invalid typing kind %q", kind)
	}
	data, err := json.Marshal(Event{
		Kind:           kind,
		ConversationID: conversationID,
		SenderID:       userID,
	})
	if err != nil {
		return fmt.Errorf("relay: marshal typing event: %w", err)
	}
	if err := r.bus.PublishChatEvent(conversationID, data); err != nil {
		return fmt.Errorf("relay: publish typing event: %w", err)
	}
	metrics.MessagesRelayed.WithLabelValues("typing").Inc()
	return nil
}

// DecodeEvent parses a conversation-subject payload back into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("relay: decode event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("relay: event missing kind")
	}
	return ev, nil
}

// DecodeNotification parses a notify-subject payload.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("relay: decode notification: %w", err)
	}
	return n, nil
}
