// Package messaging provides a NATS client wrapper for the chat backend's
// pub/sub fan-out. Conversation events travel on chat.event.<conversation_id>
// subjects; per-user notification nudges travel on chat.notify.<user_id>.
// It handles connection lifecycle and keyed subscription bookkeeping.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used by the chat backend.
const (
	SubjectChatEvent = "chat.event"  // + .<conversation_id>
	SubjectNotify    = "chat.notify" // + .<user_id>
)

// Client wraps the NATS connection with helper methods for the chat subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "irmaverse-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishChatEvent publishes a conversation event (message, typing) to the
// conversation's subject.
func (c *Client) PublishChatEvent(conversationID string, data []byte) error {
	return c.conn.Publish(SubjectChatEvent+"."+conversationID, data)
}

// PublishNotify publishes a notification nudge to a specific user's subject.
func (c *Client) PublishNotify(userID string, data []byte) error {
	return c.conn.Publish(SubjectNotify+"."+userID, data)
}

// SubscribeChatEvents subscribes to a conversation's event subject. The room
// router holds at most one of these per non-empty room; re-subscribing the
// same conversation replaces the previous subscription.
func (c *Client) SubscribeChatEvents(conversationID string, handler func(data []byte)) error {
	subject := SubjectChatEvent + "." + conversationID
	key := "room:" + conversationID

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeChatEvents drops the subscription for a conversation's subject.
// Unsubscribing a conversation that was never subscribed is a no-op.
func (c *Client) UnsubscribeChatEvents(conversationID string) error {
	return c.unsubscribe("room:" + conversationID)
}

// SubscribeNotify subscribes to a user's notification subject, keyed by the
// user ID so each connected user holds one subscription per server.
func (c *Client) SubscribeNotify(userID string, handler func(data []byte)) error {
	subject := SubjectNotify + "." + userID
	key := "notify:" + userID

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeNotify drops a user's notification subscription.
func (c *Client) UnsubscribeNotify(userID string) error {
	return c.unsubscribe("notify:" + userID)
}

func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

// Flush blocks until all published messages have been processed by the server.
// Used by tests to make publish/subscribe ordering deterministic.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Close drains remaining subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	c.mu.Unlock()
	c.conn.Close()
}
