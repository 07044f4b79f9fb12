package ws

import (
	"net"
	"testing"
	"time"
)

func newTestConnection(id, userID string, fd int) *Connection {
	server, client := net.Pipe()
	// Drain the client side so writes to the server side don't block.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	return &Connection{
		ID:        id,
		UserID:    userID,
		UserName:  "user " + userID,
		Conn:      server,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}
}

func TestConnectionManagerLookups(t *testing.T) {
	cm := NewConnectionManager()

	c1 := newTestConnection("c1", "alice", 10)
	c2 := newTestConnection("c2", "alice", 11)
	c3 := newTestConnection("c3", "bob", 12)
	cm.Add(c1)
	cm.Add(c2)
	cm.Add(c3)

	if cm.Count() != 3 {
		t.Fatalf("expected 3 connections, got %d", cm.Count())
	}
	if got := cm.Get("c2"); got != c2 {
		t.Errorf("Get(c2) returned %v", got)
	}
	if got := cm.GetByFd(12); got != c3 {
		t.Errorf("GetByFd(12) returned %v", got)
	}
	if got := cm.ByUser("alice"); len(got) != 2 {
		t.Errorf("expected 2 connections for alice, got %d", len(got))
	}
	if got := cm.ByUser("nobody"); len(got) != 0 {
		t.Errorf("expected no connections for unknown user, got %d", len(got))
	}
	if userID, ok := cm.ConnUserID("c3"); !ok || userID != "bob" {
		t.Errorf("ConnUserID(c3) = %q, %v", userID, ok)
	}
	if _, ok := cm.ConnUserID("missing"); ok {
		t.Error("ConnUserID resolved an unknown connection")
	}
}

func TestConnectionManagerRemove(t *testing.T) {
	cm := NewConnectionManager()

	c1 := newTestConnection("c1", "alice", 10)
	c2 := newTestConnection("c2", "alice", 11)
	cm.Add(c1)
	cm.Add(c2)

	if !cm.Remove("c1") {
		t.Fatal("expected Remove to report success")
	}
	if cm.Remove("c1") {
		t.Fatal("expected second Remove to report already gone")
	}
	if cm.Get("c1") != nil {
		t.Error("removed connection still resolvable by ID")
	}
	if cm.GetByFd(10) != nil {
		t.Error("removed connection still resolvable by fd")
	}
	// Alice still has one tab open.
	if got := cm.ByUser("alice"); len(got) != 1 || got[0] != c2 {
		t.Errorf("expected only c2 for alice, got %v", got)
	}

	cm.Remove("c2")
	if got := cm.ByUser("alice"); len(got) != 0 {
		t.Errorf("expected alice fully gone, got %v", got)
	}
}
