// Package room routes conversation identifiers to the connections that have
// the conversation's chat view open. Membership is routing metadata only —
// participant checks in the persistence layer are the access control.
package room

import (
	"fmt"
	"sync"
)

// EventBus is the subset of the messaging client the router needs. A
// non-empty room holds exactly one subscription on the conversation's event
// subject; the last leave tears it down.
type EventBus interface {
	SubscribeChatEvents(conversationID string, handler func(data []byte)) error
	UnsubscribeChatEvents(conversationID string) error
}

// EventFunc receives the raw event payload published for a conversation the
// router has members in. It is called from the bus's delivery goroutine.
type EventFunc func(conversationID string, data []byte)

// Router is a thread-safe registry mapping conversation IDs to member
// connection IDs, with reverse lookup for whole-connection cleanup.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // conversation ID -> connection ID set
	conns map[string]map[string]struct{} // connection ID -> conversation ID set

	bus     EventBus
	onEvent EventFunc
}

// NewRouter creates an empty Router. The bus may be nil, in which case no
// subscriptions are managed (useful for tests of pure membership logic).
func NewRouter(bus EventBus, onEvent EventFunc) *Router {
	return &Router{
		rooms:   make(map[string]map[string]struct{}),
		conns:   make(map[string]map[string]struct{}),
		bus:     bus,
		onEvent: onEvent,
	}
}

// Join adds a connection to a conversation's room. The first member of a
// room establishes the bus subscription for that conversation. Joining a
// room the connection is already in is a no-op.
func (r *Router) Join(conversationID, connID string) error {
	r.mu.Lock()
	members, ok := r.rooms[conversationID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[conversationID] = members
	}
	if _, already := members[connID]; already {
		r.mu.Unlock()
		return nil
	}
	members[connID] = struct{}{}

	convs, ok := r.conns[connID]
	if !ok {
		convs = make(map[string]struct{})
		r.conns[connID] = convs
	}
	convs[conversationID] = struct{}{}
	first := len(members) == 1
	r.mu.Unlock()

	if first && r.bus != nil {
		convID := conversationID
		if err := r.bus.SubscribeChatEvents(convID, func(data []byte) {
			r.onEvent(convID, data)
		}); err != nil {
			// Roll the membership back so a retry re-attempts the subscribe.
			r.Leave(conversationID, connID)
			return fmt.Errorf("room: subscribe %s: %w", conversationID, err)
		}
	}
	return nil
}

// Leave removes a connection from a room. Leaving a room the connection
// never joined is a no-op, not an error. The last member leaving drops the
// room's bus subscription.
func (r *Router) Leave(conversationID, connID string) {
	r.mu.Lock()
	members, ok := r.rooms[conversationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, in := members[connID]; !in {
		r.mu.Unlock()
		return
	}
	delete(members, connID)
	empty := len(members) == 0
	if empty {
		delete(r.rooms, conversationID)
	}

	if convs, ok := r.conns[connID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.conns, connID)
		}
	}
	r.mu.Unlock()

	if empty && r.bus != nil {
		_ = r.bus.UnsubscribeChatEvents(conversationID)
	}
}

// DisconnectAll removes a connection from every room it joined and returns
// the conversation IDs it was removed from.
func (r *Router) DisconnectAll(connID string) []string {
	r.mu.RLock()
	convs := make([]string, 0, len(r.conns[connID]))
	for convID := range r.conns[connID] {
		convs = append(convs, convID)
	}
	r.mu.RUnlock()

	for _, convID := range convs {
		r.Leave(convID, connID)
	}
	return convs
}

// Members returns a snapshot of the connection IDs joined to a conversation.
func (r *Router) Members(conversationID string) []string {
	r.mu.RLock()
	members := make([]string, 0, len(r.rooms[conversationID]))
	for connID := range r.rooms[conversationID] {
		members = append(members, connID)
	}
	r.mu.RUnlock()
	return members
}

// InRoom reports whether a connection is currently joined to a conversation.
func (r *Router) InRoom(conversationID, connID string) bool {
	r.mu.RLock()
	_, ok := r.rooms[conversationID][connID]
	r.mu.RUnlock()
	return ok
}

// Rooms returns the number of non-empty rooms.
func (r *Router) Rooms() int {
	r.mu.RLock()
	n := len(r.rooms)
	r.mu.RUnlock()
	return n
}
