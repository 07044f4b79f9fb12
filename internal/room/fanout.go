package room

import (
	"log"

	"github.com/Raditt10/IRMA-Verse/internal/protocol"
	"github.com/Raditt10/IRMA-Verse/internal/relay"
)

// Delivery is how the fanout reaches live connections. The WebSocket
// connection manager satisfies it in production.
type Delivery interface {
	// ConnUserID reports which user holds the given connection. The second
	// return is false when the connection is gone.
	ConnUserID(connID string) (string, bool)
	// Send writes a server message to a single connection.
	Send(connID string, data []byte) error
}

// Fanout turns a conversation event published on the bus back into a server
// message and delivers it to the room's members. Every connection that
// belongs to the event's sender is skipped: the sender already applied the
// message locally, so an echo would only duplicate it.
type Fanout struct {
	router   *Router
	delivery Delivery
}

// NewFanout creates a Fanout delivering through the given Delivery. Bind the
// router afterwards — the router needs the fanout's Handle as its event
// callback, so the two cannot be constructed in one step.
func NewFanout(delivery Delivery) *Fanout {
	return &Fanout{delivery: delivery}
}

// Bind attaches the router whose membership the fanout consults.
func (f *Fanout) Bind(router *Router) {
	f.router = router
}

// Handle is the router's EventFunc: it decodes the event, translates it to
// the matching server message, and fans it out to the room.
func (f *Fanout) Handle(conversationID string, data []byte) {
	ev, err := relay.DecodeEvent(data)
	if err != nil {
		log.Printf("[room] decode error conversation=%s: %v", conversationID, err)
		return
	}

	out, ok := eventMessage(ev)
	if !ok {
		return
	}

	for _, connID := range f.router.Members(conversationID) {
		userID, found := f.delivery.ConnUserID(connID)
		if !found || userID == ev.SenderID {
			continue
		}
		if err := f.delivery.Send(connID, out); err != nil {
			log.Printf("[room] send to conn=%s failed: %v", connID, err)
		}
	}
}

// eventMessage maps a relay event to the server message delivered to room
// members. Unknown kinds are dropped.
func eventMessage(ev relay.Event) ([]byte, bool) {
	switch ev.Kind {
	case relay.KindMessage:
		out, err := protocol.NewServerMessage(protocol.TypeMessageReceive, protocol.MessageReceiveMsg{
			ConversationID: ev.ConversationID,
			SenderID:       ev.SenderID,
			Content:        ev.Content,
			MessageID:      ev.MessageID,
			SenderName:     ev.SenderName,
			CreatedAt:      ev.CreatedAt,
		})
		return out, err == nil
	case relay.KindTypingStart:
		out, err := protocol.NewServerMessage(protocol.TypeTypingStart, protocol.TypingMsg{
			ConversationID: ev.ConversationID,
			UserID:         ev.SenderID,
		})
		return out, err == nil
	case relay.KindTypingStop:
		out, err := protocol.NewServerMessage(protocol.TypeTypingStop, protocol.TypingMsg{
			ConversationID: ev.ConversationID,
			UserID:         ev.SenderID,
		})
		return out, err == nil
	default:
		return nil, false
	}
}
