// Package chatclient implements the chat-side client: a WebSocket connection
// to the realtime server, a REST client for the persistence API, and the
// state machine that keeps the local view consistent with both.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Raditt10/IRMA-Verse/internal/protocol"
)

// Transport is the socket surface the state machine needs. Socket is the
// real implementation; tests substitute a fake.
type Transport interface {
	Send(msg interface{}) error
	On(msgType string, handler func(json.RawMessage))
}

// Socket is a WebSocket connection to the realtime chat server. It connects
// using gobwas/ws (the same library the server uses), dispatches incoming
// messages to registered handlers, and captures the session:ready handshake.
type Socket struct {
	conn         net.Conn
	mu           sync.Mutex // serializes writes
	handlersMu   sync.RWMutex
	handlers     map[string]func(json.RawMessage)
	connectionID string
	done         chan struct{}
	closeOnce    sync.Once
}

// Dial connects to the realtime server at url, passing the auth token as a
// query parameter (browsers cannot set headers on WebSocket handshakes, and
// the server accepts both). A background goroutine begins reading messages
// immediately.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	conn, _, _, err := ws.Dial(ctx, url+"?token="+token)
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial: %w", err)
	}

	s := &Socket{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go s.readLoop()

	return s, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (s *Socket) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chatclient: marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteClientMessage(s.conn, ws.OpText, data)
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding. Handlers
// are invoked from the read loop goroutine so they should not block for
// extended periods. Registering a second handler for the same type replaces
// the first.
func (s *Socket) On(msgType string, handler func(json.RawMessage)) {
	s.handlersMu.Lock()
	s.handlers[msgType] = handler
	s.handlersMu.Unlock()
}

// WaitForSession blocks until the server has acknowledged the connection
// with session:ready or the context is cancelled.
func (s *Socket) WaitForSession(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return fmt.Errorf("chatclient: connection closed before session was ready")
		case <-ticker.C:
			if s.ConnectionID() != "" {
				return nil
			}
		}
	}
}

// ConnectionID returns the connection ID assigned by the server, or an empty
// string if the handshake has not completed yet.
func (s *Socket) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (s *Socket) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(s.conn)
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Capture session:ready internally before dispatching.
		if envelope.Type == protocol.TypeSessionReady {
			var msg protocol.SessionReadyMsg
			if err := json.Unmarshal(data, &msg); err == nil && msg.ConnectionID != "" {
				s.mu.Lock()
				s.connectionID = msg.ConnectionID
				s.mu.Unlock()
			}
		}

		s.handlersMu.RLock()
		handler, ok := s.handlers[envelope.Type]
		s.handlersMu.RUnlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
