package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/protocol"
	"github.com/Raditt10/IRMA-Verse/internal/store"
)

// fakeTransport records outbound messages and lets tests inject inbound
// server messages through the registered handlers.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []interface{}
	handlers map[string]func(json.RawMessage)
	sendErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(json.RawMessage))}
}

func (f *fakeTransport) Send(msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) On(msgType string, handler func(json.RawMessage)) {
	f.handlers[msgType] = handler
}

// deliver simulates a server message arriving on the socket.
func (f *fakeTransport) deliver(t *testing.T, msgType string, payload interface{}) {
	t.Helper()
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		t.Fatalf("build server message: %v", err)
	}
	handler, ok := f.handlers[msgType]
	if !ok {
		t.Fatalf("no handler registered for %q", msgType)
	}
	handler(data)
}

func (f *fakeTransport) sentOfType(msgType string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, m := range f.sent {
		switch v := m.(type) {
		case protocol.JoinConversationMsg:
			if v.Type == msgType {
				out = append(out, v)
			}
		case protocol.LeaveConversationMsg:
			if v.Type == msgType {
				out = append(out, v)
			}
		case protocol.MessageSendMsg:
			if v.Type == msgType {
				out = append(out, v)
			}
		case protocol.TypingMsg:
			if v.Type == msgType {
				out = append(out, v)
			}
		}
	}
	return out
}

// fakeAPI returns canned values and records calls.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []store.ConversationSummary
	conversation  *store.Conversation
	messages      []store.Message
	sendResult    *store.Message
	err           error
	listCalls     int
	sendCalls     int

	// When set, ListMessages signals fetchStarted and then blocks until
	// fetchRelease is closed, letting tests interleave socket events with an
	// in-flight history fetch.
	fetchStarted chan struct{}
	fetchRelease chan struct{}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]store.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.conversations, f.err
}

func (f *fakeAPI) OpenConversation(ctx context.Context, recipientID string) (*store.Conversation, error) {
	return f.conversation, f.err
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	started, release := f.fetchStarted, f.fetchRelease
	msgs, err := f.messages, f.err
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return msgs, err
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sendResult, nil
}

func (f *fakeAPI) SearchUsers(ctx context.Context, q string) ([]store.User, error) {
	return nil, f.err
}

func newTestClient(api *fakeAPI, tr *fakeTransport) *Client {
	c := NewClient(api, tr, "alice", "Alice")
	c.typingQuiet = 30 * time.Millisecond // fast quiet window for tests
	return c
}

func TestLoadConversations(t *testing.T) {
	api := &fakeAPI{
		conversations: []store.ConversationSummary{{ID: "c1", UnreadCount: 3}},
	}
	c := newTestClient(api, newFakeTransport())

	if state, _ := c.ListStatus(); state != ListIdle {
		t.Fatalf("expected ListIdle, got %v", state)
	}
	if err := c.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations() error: %v", err)
	}
	if state, stale := c.ListStatus(); state != ListLoaded || stale {
		t.Fatalf("expected fresh ListLoaded, got state=%v stale=%v", state, stale)
	}
	if got := c.Conversations(); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("unexpected list: %+v", got)
	}
}

func TestLoadConversationsError(t *testing.T) {
	api := &fakeAPI{err: errors.New("boom")}
	c := newTestClient(api, newFakeTransport())

	if err := c.LoadConversations(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// Failure returns to idle so a retry is possible.
	if state, _ := c.ListStatus(); state != ListIdle {
		t.Fatalf("expected ListIdle after failure, got %v", state)
	}
}

func TestOpenJoinsRoomAndLoadsHistory(t *testing.T) {
	api := &fakeAPI{
		conversations: []store.ConversationSummary{{ID: "c1", UnreadCount: 5}},
		messages: []store.Message{
			{ID: "m1", ConversationID: "c1", Content: "hi"},
			{ID: "m2", ConversationID: "c1", Content: "yo"},
		},
	}
	tr := newFakeTransport()
	c := newTestClient(api, tr)
	_ = c.LoadConversations(context.Background())

	if err := c.Open(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	joins := tr.sentOfType(protocol.TypeJoinConversation)
	if len(joins) != 1 {
		t.Fatalf("expected 1 join, got %d", len(joins))
	}
	if active, state := c.HistoryStatus(); active != "c1" || state != HistoryLoaded {
		t.Fatalf("unexpected history status: %s %v", active, state)
	}
	if got := c.Messages(); len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	// Opening zeroed the unread badge locally.
	if got := c.Conversations(); got[0].UnreadCount != 0 {
		t.Errorf("expected unread reset, got %d", got[0].UnreadCount)
	}
}

func TestMessageArrivingDuringHistoryFetchIsKept(t *testing.T) {
	api := &fakeAPI{
		messages: []store.Message{
			{ID: "m1", ConversationID: "c1", Content: "hi"},
		},
		fetchStarted: make(chan struct{}),
		fetchRelease: make(chan struct{}),
	}
	tr := newFakeTransport()
	c := newTestClient(api, tr)

	done := make(chan error, 1)
	go func() {
		done <- c.Open(context.Background(), "c1", "bob")
	}()

	// A message relayed while the history fetch is still in flight must
	// survive the fetch completing.
	<-api.fetchStarted
	tr.deliver(t, protocol.TypeMessageReceive, protocol.MessageReceiveMsg{
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "yo",
		MessageID:      "m2",
		CreatedAt:      time.Now().Format(time.RFC3339Nano),
	})
	close(api.fetchRelease)

	if err := <-done; err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	got := c.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after fetch, got %d: %+v", len(got), got)
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("expected history then live message, got %s, %s", got[0].ID, got[1].ID)
	}

	// A redelivery of either message is still deduplicated.
	tr.deliver(t, protocol.TypeMessageReceive, protocol.MessageReceiveMsg{
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "yo",
		MessageID:      "m2",
		CreatedAt:      time.Now().Format(time.RFC3339Nano),
	})
	if got := c.Messages(); len(got) != 2 {
		t.Fatalf("duplicate applied after fetch merge: %d messages", len(got))
	}
}

func TestSendPersistsThenRelays(t *testing.T) {
	api := &fakeAPI{
		sendResult: &store.Message{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        "hello",
			CreatedAt:      time.Now(),
		},
	}
	tr := newFakeTransport()
	c := newTestClient(api, tr)
	if err := c.Open(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	msg, err := c.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("expected persisted identity, got %+v", msg)
	}

	// Applied locally exactly once.
	if got := c.Messages(); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected 1 local message, got %+v", got)
	}

	// Relayed with the API-assigned identity.
	relayed := tr.sentOfType(protocol.TypeMessageSend)
	if len(relayed) != 1 {
		t.Fatalf("expected 1 relay, got %d", len(relayed))
	}
	send := relayed[0].(protocol.MessageSendMsg)
	if send.MessageID != "m1" || send.RecipientID != "bob" || send.CreatedAt == "" {
		t.Errorf("relay missing identity: %+v", send)
	}
}

func TestSendFailureDoesNotApplyLocally(t *testing.T) {
	api := &fakeAPI{err: errors.New("api down")}
	tr := newFakeTransport()
	c := newTestClient(api, tr)
	_ = c.Open(context.Background(), "c1", "bob")
	api.err = errors.New("api down") // Open cleared nothing; keep failing

	if _, err := c.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if got := c.Messages(); len(got) != 0 {
		t.Fatalf("failed send must not appear locally: %+v", got)
	}
	if relayed := tr.sentOfType(protocol.TypeMessageSend); len(relayed) != 0 {
		t.Fatalf("failed send must not be relayed: %d", len(relayed))
	}
}

func TestIncomingMessageDedup(t *testing.T) {
	api := &fakeAPI{}
	tr := newFakeTransport()
	c := newTestClient(api, tr)
	_ = c.Open(context.Background(), "c1", "bob")

	incoming := protocol.MessageReceiveMsg{
		ConversationID: "c1",
		SenderID:       "bob",
		Content:        "hey",
		MessageID:      "m9",
		SenderName:     "Bob",
		CreatedAt:      time.Now().Format(time.RFC3339Nano),
	}
	tr.deliver(t, protocol.TypeMessageReceive, incoming)
	tr.deliver(t, protocol.TypeMessageReceive, incoming) // duplicate

	if got := c.Messages(); len(got) != 1 || got[0].ID != "m9" {
		t.Fatalf("expected 1 deduplicated message, got %+v", got)
	}

	// Messages for other conversations are ignored.
	other := incoming
	other.ConversationID = "c2"
	other.MessageID = "m10"
	tr.deliver(t, protocol.TypeMessageReceive, other)
	if got := c.Messages(); len(got) != 1 {
		t.Fatalf("foreign conversation leaked into history: %+v", got)
	}
}

func TestNotificationBumpsUnread(t *testing.T) {
	api := &fakeAPI{
		conversations: []store.ConversationSummary{{ID: "c1"}, {ID: "c2", UnreadCount: 1}},
	}
	tr := newFakeTransport()
	c := newTestClient(api, tr)
	_ = c.LoadConversations(context.Background())
	_ = c.Open(context.Background(), "c1", "bob")

	// Notification for a background conversation bumps its badge.
	tr.deliver(t, protocol.TypeMessageNotification, protocol.MessageNotificationMsg{
		ConversationID: "c2", SenderID: "carol", SenderName: "Carol",
	})
	if got := c.Conversations(); got[1].UnreadCount != 2 {
		t.Errorf("expected unread bump, got %d", got[1].UnreadCount)
	}
	if _, stale := c.ListStatus(); !stale {
		t.Error("expected list marked stale")
	}

	// Notification for the open conversation is ignored.
	tr.deliver(t, protocol.TypeMessageNotification, protocol.MessageNotificationMsg{
		ConversationID: "c1", SenderID: "bob", SenderName: "Bob",
	})
	if got := c.Conversations(); got[0].UnreadCount != 0 {
		t.Errorf("open conversation must not accumulate unread, got %d", got[0].UnreadCount)
	}
}

func TestPresenceTracking(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(&fakeAPI{}, tr)

	tr.deliver(t, protocol.TypePresenceState, protocol.PresenceStateMsg{
		UserIDs: []string{"bob", "carol"},
	})
	if !c.IsOnline("bob") || !c.IsOnline("carol") {
		t.Fatal("presence snapshot not applied")
	}

	tr.deliver(t, protocol.TypePresenceOffline, protocol.PresenceChangeMsg{UserID: "bob"})
	if c.IsOnline("bob") {
		t.Error("bob should be offline")
	}
	tr.deliver(t, protocol.TypePresenceOnline, protocol.PresenceChangeMsg{UserID: "dave"})
	if !c.IsOnline("dave") {
		t.Error("dave should be online")
	}
}

func TestTypingBurst(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(&fakeAPI{}, tr)
	_ = c.Open(context.Background(), "c1", "bob")

	// A burst of keystrokes produces exactly one typing:start.
	c.NotifyTyping()
	c.NotifyTyping()
	c.NotifyTyping()
	time.Sleep(10 * time.Millisecond)
	if starts := tr.sentOfType(protocol.TypeTypingStart); len(starts) != 1 {
		t.Fatalf("expected 1 typing:start, got %d", len(starts))
	}
	if stops := tr.sentOfType(protocol.TypeTypingStop); len(stops) != 0 {
		t.Fatalf("typing:stop sent too early: %d", len(stops))
	}

	// After the quiet window, typing:stop fires automatically; a redundant
	// manual stop is suppressed.
	time.Sleep(60 * time.Millisecond)
	c.StopTyping()
	time.Sleep(10 * time.Millisecond)
	if stops := tr.sentOfType(protocol.TypeTypingStop); len(stops) != 1 {
		t.Fatalf("expected exactly 1 typing:stop, got %d", len(stops))
	}

	// A new burst starts over.
	c.NotifyTyping()
	time.Sleep(10 * time.Millisecond)
	if starts := tr.sentOfType(protocol.TypeTypingStart); len(starts) != 2 {
		t.Fatalf("expected a second typing:start, got %d", len(starts))
	}
}

func TestPeerTypingIndicator(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(&fakeAPI{}, tr)
	_ = c.Open(context.Background(), "c1", "bob")

	tr.deliver(t, protocol.TypeTypingStart, protocol.TypingMsg{ConversationID: "c1", UserID: "bob"})
	if !c.PeerTyping("c1") {
		t.Fatal("expected typing indicator on")
	}

	// An arriving message clears the indicator even without typing:stop.
	tr.deliver(t, protocol.TypeMessageReceive, protocol.MessageReceiveMsg{
		ConversationID: "c1", SenderID: "bob", Content: "done typing",
		MessageID: "m1", CreatedAt: time.Now().Format(time.RFC3339Nano),
	})
	if c.PeerTyping("c1") {
		t.Fatal("expected typing indicator cleared by message")
	}

	tr.deliver(t, protocol.TypeTypingStart, protocol.TypingMsg{ConversationID: "c1", UserID: "bob"})
	tr.deliver(t, protocol.TypeTypingStop, protocol.TypingMsg{ConversationID: "c1", UserID: "bob"})
	if c.PeerTyping("c1") {
		t.Fatal("expected typing indicator cleared by stop")
	}
}

func TestCloseLeavesRoomAndStopsTyping(t *testing.T) {
	tr := newFakeTransport()
	c := newTestClient(&fakeAPI{}, tr)
	_ = c.Open(context.Background(), "c1", "bob")

	c.NotifyTyping()
	c.Close()
	time.Sleep(10 * time.Millisecond)

	if leaves := tr.sentOfType(protocol.TypeLeaveConversation); len(leaves) != 1 {
		t.Fatalf("expected 1 leave, got %d", len(leaves))
	}
	if stops := tr.sentOfType(protocol.TypeTypingStop); len(stops) != 1 {
		t.Fatalf("expected typing stopped on close, got %d", len(stops))
	}
	if active, state := c.HistoryStatus(); active != "" || state != HistoryIdle {
		t.Fatalf("expected cleared active state, got %q %v", active, state)
	}
}
