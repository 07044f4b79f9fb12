// Package presence tracks which users currently have at least one live
// WebSocket connection, and which conversations they are typing in. All state
// is in-memory and rebuilt from live connections after a restart — there is
// no durability requirement for presence.
package presence

import (
	"sync"
	"time"
)

// EdgeFunc is invoked when a user's online state flips, exactly once per
// 0->1 or 1->0 transition. Edges are dispatched serially, in transition
// order: a reconnect's online edge cannot overtake the preceding offline
// edge. The callback must not call Connect or Disconnect.
type EdgeFunc func(userID string)

type typingKey struct {
	conversationID string
	userID         string
}

// Tracker maintains per-user connection-id sets and transient typing state.
// A user is online while it has at least one registered connection; multiple
// simultaneous connections (multiple tabs) never flap presence off.
type Tracker struct {
	// edgeMu is taken for the whole of a Connect/Disconnect, including the
	// edge callback, so edges reach subscribers in transition order. mu is
	// only ever acquired while edgeMu is held or alone — never the reverse.
	edgeMu sync.Mutex

	mu     sync.RWMutex
	conns  map[string]string              // connection ID -> user ID
	users  map[string]map[string]struct{} // user ID -> set of connection IDs
	typing map[typingKey]time.Time        // typing entry -> start time

	onOnline  EdgeFunc
	onOffline EdgeFunc
}

// NewTracker creates an empty Tracker. The edge callbacks may be nil.
func NewTracker(onOnline, onOffline EdgeFunc) *Tracker {
	return &Tracker{
		conns:     make(map[string]string),
		users:     make(map[string]map[string]struct{}),
		typing:    make(map[typingKey]time.Time),
		onOnline:  onOnline,
		onOffline: onOffline,
	}
}

// Connect registers a live connection for a user. If this is the user's first
// connection the online edge callback fires. Re-registering a known
// connection ID is a no-op.
func (t *Tracker) Connect(userID, connID string) {
	t.edgeMu.Lock()
	defer t.edgeMu.Unlock()

	t.mu.Lock()
	if _, ok := t.conns[connID]; ok {
		t.mu.Unlock()
		return
	}
	t.conns[connID] = userID

	set, ok := t.users[userID]
	if !ok {
		set = make(map[string]struct{})
		t.users[userID] = set
	}
	set[connID] = struct{}{}
	first := len(set) == 1
	t.mu.Unlock()

	if first && t.onOnline != nil {
		t.onOnline(userID)
	}
}

// Disconnect removes a connection. When the user's last connection goes away
// the offline edge callback fires, and any typing entries the user held are
// cleared. It returns the owning user ID (empty if the connection was
// unknown) and the conversation IDs of cleared typing entries, so the caller
// can broadcast typing:stop for them.
func (t *Tracker) Disconnect(connID string) (userID string, typingCleared []string) {
	t.edgeMu.Lock()
	defer t.edgeMu.Unlock()

	t.mu.Lock()
	userID, ok := t.conns[connID]
	if !ok {
		t.mu.Unlock()
		return "", nil
	}
	delete(t.conns, connID)

	set := t.users[userID]
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(t.users, userID)
		// The user is gone entirely; clear their typing entries so other
		// clients don't show a stale indicator forever.
		for key := range t.typing {
			if key.userID == userID {
				typingCleared = append(typingCleared, key.conversationID)
				delete(t.typing, key)
			}
		}
	}
	t.mu.Unlock()

	if last && t.onOffline != nil {
		t.onOffline(userID)
	}
	return userID, typingCleared
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	_, ok := t.users[userID]
	t.mu.RUnlock()
	return ok
}

// Online returns a snapshot of all currently-online user IDs.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.users))
	for id := range t.users {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	return ids
}

// Connections returns the number of live connections for a user.
func (t *Tracker) Connections(userID string) int {
	t.mu.RLock()
	n := len(t.users[userID])
	t.mu.RUnlock()
	return n
}

// SetTyping records that a user started typing in a conversation. Repeated
// starts refresh the entry's timestamp.
func (t *Tracker) SetTyping(conversationID, userID string) {
	t.mu.Lock()
	t.typing[typingKey{conversationID, userID}] = time.Now()
	t.mu.Unlock()
}

// ClearTyping removes a typing entry. It returns false if the entry did not
// exist, which lets callers suppress redundant typing:stop broadcasts.
func (t *Tracker) ClearTyping(conversationID, userID string) bool {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	_, ok := t.typing[key]
	delete(t.typing, key)
	t.mu.Unlock()
	return ok
}

// IsTyping reports whether a typing entry exists for the pair.
func (t *Tracker) IsTyping(conversationID, userID string) bool {
	t.mu.RLock()
	_, ok := t.typing[typingKey{conversationID, userID}]
	t.mu.RUnlock()
	return ok
}
