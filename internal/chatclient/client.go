package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/protocol"
	"github.com/Raditt10/IRMA-Verse/internal/store"
)

// ListState tracks the conversation-list loading lifecycle.
type ListState int

const (
	ListIdle ListState = iota
	ListLoading
	ListLoaded
)

// HistoryState tracks the active conversation's message-history lifecycle.
type HistoryState int

const (
	HistoryIdle HistoryState = iota
	HistoryLoading
	HistoryLoaded
)

// TypingQuietWindow is how long after the last keystroke the client waits
// before automatically sending typing:stop.
const TypingQuietWindow = 2000 * time.Millisecond

// Client is the chat-side state machine. It keeps the conversation list, the
// active conversation's history, presence, and typing indicators consistent
// with what the REST API and the realtime socket report.
//
// The send path is two-phase: the message is first persisted through the
// REST API, applied locally from the API response, and only then relayed
// over the socket carrying the identity the API assigned. The server never
// echoes a relayed message back to its sender, and incoming messages are
// deduplicated by message ID, so a message can never appear twice.
type Client struct {
	api       API
	transport Transport
	userID    string
	userName  string

	mu            sync.Mutex
	listState     ListState
	listStale     bool
	conversations []store.ConversationSummary

	activeConv  string
	recipientID string
	histState   HistoryState
	messages    []store.Message
	seen        map[string]bool // message IDs already applied locally

	online     map[string]bool
	peerTyping map[string]bool // conversation ID -> other side typing

	typingActive bool
	typingTimer  *time.Timer
	typingQuiet  time.Duration
}

// NewClient creates a Client bound to the given API and transport and
// registers its socket handlers.
func NewClient(api API, transport Transport, userID, userName string) *Client {
	c := &Client{
		api:         api,
		transport:   transport,
		userID:      userID,
		userName:    userName,
		seen:        make(map[string]bool),
		online:      make(map[string]bool),
		peerTyping:  make(map[string]bool),
		typingQuiet: TypingQuietWindow,
	}

	transport.On(protocol.TypeMessageReceive, c.onMessageReceive)
	transport.On(protocol.TypeMessageNotification, c.onNotification)
	transport.On(protocol.TypePresenceState, c.onPresenceState)
	transport.On(protocol.TypePresenceOnline, c.onPresenceOnline)
	transport.On(protocol.TypePresenceOffline, c.onPresenceOffline)
	transport.On(protocol.TypeTypingStart, c.onTypingStart)
	transport.On(protocol.TypeTypingStop, c.onTypingStop)

	return c
}

// LoadConversations fetches the conversation list from the API. Concurrent
// calls while a load is in flight are no-ops.
func (c *Client) LoadConversations(ctx context.Context) error {
	c.mu.Lock()
	if c.listState == ListLoading {
		c.mu.Unlock()
		return nil
	}
	c.listState = ListLoading
	c.mu.Unlock()

	summaries, err := c.api.ListConversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.listState = ListIdle
		return err
	}
	c.conversations = summaries
	c.listState = ListLoaded
	c.listStale = false
	return nil
}

// Open makes conversationID the active conversation: joins its realtime
// room, fetches its history, and resets its unread count locally (the server
// marked the messages read as part of the history fetch).
func (c *Client) Open(ctx context.Context, conversationID, recipientID string) error {
	c.mu.Lock()
	if c.activeConv != "" && c.activeConv != conversationID {
		c.mu.Unlock()
		c.Close()
		c.mu.Lock()
	}
	c.activeConv = conversationID
	c.recipientID = recipientID
	c.histState = HistoryLoading
	c.messages = nil
	c.seen = make(map[string]bool)
	c.mu.Unlock()

	if err := c.transport.Send(protocol.JoinConversationMsg{
		Type:           protocol.TypeJoinConversation,
		ConversationID: conversationID,
	}); err != nil {
		return fmt.Errorf("chatclient: join: %w", err)
	}

	msgs, err := c.api.ListMessages(ctx, conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.histState = HistoryIdle
		return err
	}
	// The open may have been superseded while the fetch was in flight.
	if c.activeConv != conversationID {
		return nil
	}
	// Messages relayed while the fetch was in flight have already been
	// applied to c.messages. Keep them: they are appended after the fetched
	// history, deduplicated by ID against the fetch result, so nothing that
	// arrived during the fetch is lost.
	applied := c.messages
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = true
	}
	merged := msgs
	for _, m := range applied {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	c.messages = merged
	c.seen = seen
	c.histState = HistoryLoaded
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].UnreadCount = 0
		}
	}
	return nil
}

// StartConversation finds or creates the conversation with recipientID via
// the API and opens it.
func (c *Client) StartConversation(ctx context.Context, recipientID string) error {
	conv, err := c.api.OpenConversation(ctx, recipientID)
	if err != nil {
		return err
	}
	return c.Open(ctx, conv.ID, recipientID)
}

// Close leaves the active conversation's room and clears the active state.
// Any pending typing indicator is stopped first so the other side is not
// left with a stuck indicator.
func (c *Client) Close() {
	c.mu.Lock()
	conversationID := c.activeConv
	if conversationID == "" {
		c.mu.Unlock()
		return
	}
	c.stopTypingLocked()
	c.activeConv = ""
	c.recipientID = ""
	c.histState = HistoryIdle
	c.messages = nil
	c.mu.Unlock()

	_ = c.transport.Send(protocol.LeaveConversationMsg{
		Type:           protocol.TypeLeaveConversation,
		ConversationID: conversationID,
	})
}

// Send persists content through the API, applies the result locally, and
// relays it over the socket with the identity the API assigned.
func (c *Client) Send(ctx context.Context, content string) (*store.Message, error) {
	c.mu.Lock()
	conversationID := c.activeConv
	recipientID := c.recipientID
	c.stopTypingLocked()
	c.mu.Unlock()

	if conversationID == "" {
		return nil, fmt.Errorf("chatclient: no active conversation")
	}

	msg, err := c.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}

	c.applyMessage(*msg)

	if err := c.transport.Send(protocol.MessageSendMsg{
		Type:           protocol.TypeMessageSend,
		ConversationID: conversationID,
		SenderID:       c.userID,
		RecipientID:    recipientID,
		Content:        msg.Content,
		MessageID:      msg.ID,
		SenderName:     c.userName,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		// The message is persisted; the recipient will still see it on the
		// next history fetch even though the realtime relay failed.
		return msg, fmt.Errorf("chatclient: relay: %w", err)
	}
	return msg, nil
}

// NotifyTyping reports a keystroke. The first call in a burst sends
// typing:start; subsequent calls just push the quiet-window timer out.
// typing:stop is sent automatically once the window elapses with no
// further keystrokes.
func (c *Client) NotifyTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeConv == "" {
		return
	}

	if !c.typingActive {
		c.typingActive = true
		conversationID := c.activeConv
		go c.sendTyping(protocol.TypeTypingStart, conversationID)
	}

	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.typingQuiet, c.StopTyping)
}

// StopTyping sends typing:stop if a typing burst is active. Redundant calls
// are suppressed.
func (c *Client) StopTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTypingLocked()
}

// stopTypingLocked requires c.mu held.
func (c *Client) stopTypingLocked() {
	if !c.typingActive {
		return
	}
	c.typingActive = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	conversationID := c.activeConv
	go c.sendTyping(protocol.TypeTypingStop, conversationID)
}

func (c *Client) sendTyping(msgType, conversationID string) {
	_ = c.transport.Send(protocol.TypingMsg{
		Type:           msgType,
		ConversationID: conversationID,
		UserID:         c.userID,
	})
}

// applyMessage appends a message to the active history unless its ID has
// already been applied.
func (c *Client) applyMessage(msg store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.ConversationID != c.activeConv {
		return
	}
	if c.seen[msg.ID] {
		return
	}
	c.seen[msg.ID] = true
	c.messages = append(c.messages, msg)
}

// ---------------------------------------------------------------------------
// Socket handlers
// ---------------------------------------------------------------------------

func (c *Client) onMessageReceive(raw json.RawMessage) {
	var msg protocol.MessageReceiveMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, msg.CreatedAt)
	c.applyMessage(store.Message{
		ID:             msg.MessageID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      createdAt,
	})

	// An arriving message ends the sender's typing burst.
	c.mu.Lock()
	delete(c.peerTyping, msg.ConversationID)
	c.mu.Unlock()
}

func (c *Client) onNotification(raw json.RawMessage) {
	var msg protocol.MessageNotificationMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Messages for the open conversation arrive via message:receive and are
	// marked read server-side; only background conversations accumulate
	// unread state.
	if msg.ConversationID == c.activeConv {
		return
	}
	c.listStale = true
	for i := range c.conversations {
		if c.conversations[i].ID == msg.ConversationID {
			c.conversations[i].UnreadCount++
			return
		}
	}
}

func (c *Client) onPresenceState(raw json.RawMessage) {
	var msg protocol.PresenceStateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	c.online = make(map[string]bool, len(msg.UserIDs))
	for _, id := range msg.UserIDs {
		c.online[id] = true
	}
	c.mu.Unlock()
}

func (c *Client) onPresenceOnline(raw json.RawMessage) {
	var msg protocol.PresenceChangeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	c.online[msg.UserID] = true
	c.mu.Unlock()
}

func (c *Client) onPresenceOffline(raw json.RawMessage) {
	var msg protocol.PresenceChangeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	delete(c.online, msg.UserID)
	c.mu.Unlock()
}

func (c *Client) onTypingStart(raw json.RawMessage) {
	var msg protocol.TypingMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	c.peerTyping[msg.ConversationID] = true
	c.mu.Unlock()
}

func (c *Client) onTypingStop(raw json.RawMessage) {
	var msg protocol.TypingMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	c.mu.Lock()
	delete(c.peerTyping, msg.ConversationID)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Conversations returns a snapshot of the conversation list.
func (c *Client) Conversations() []store.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.ConversationSummary, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// Messages returns a snapshot of the active conversation's history.
func (c *Client) Messages() []store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ListStatus returns the conversation-list state and whether a notification
// has arrived since the last load (meaning the list should be refreshed).
func (c *Client) ListStatus() (ListState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listState, c.listStale
}

// HistoryStatus returns the active conversation ID and its history state.
func (c *Client) HistoryStatus() (string, HistoryState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeConv, c.histState
}

// IsOnline reports whether the given user is currently online.
func (c *Client) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[userID]
}

// PeerTyping reports whether the other side of the given conversation is
// currently typing.
func (c *Client) PeerTyping(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping[conversationID]
}
