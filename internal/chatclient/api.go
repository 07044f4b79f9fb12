package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/store"
)

// API is the REST surface the chat client needs. RESTClient is the real
// implementation; tests substitute a fake.
type API interface {
	ListConversations(ctx context.Context) ([]store.ConversationSummary, error)
	OpenConversation(ctx context.Context, recipientID string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*store.Message, error)
	SearchUsers(ctx context.Context, q string) ([]store.User, error)
}

const (
	getRetries   = 3
	retryBackoff = 200 * time.Millisecond
)

// RESTClient talks to the persistence API over HTTP with bearer-token auth.
// Idempotent GETs are retried with doubling backoff; writes are attempted
// exactly once so a flaky network cannot duplicate messages.
type RESTClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTClient creates a RESTClient for the given API base URL and token.
func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is a non-2xx response from the API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("chatclient: api status %d: %s", e.Status, e.Message)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chatclient: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chatclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &errBody)
		return &apiError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("chatclient: decode response: %w", err)
		}
	}
	return nil
}

// get performs a GET with bounded retries. Only network-level failures are
// retried; an HTTP error status is returned immediately.
func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	backoff := retryBackoff
	var err error
	for attempt := 0; attempt < getRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		var ae *apiError
		if errors.As(err, &ae) {
			return err
		}
	}
	return err
}

// ListConversations fetches the caller's conversation list.
func (c *RESTClient) ListConversations(ctx context.Context) ([]store.ConversationSummary, error) {
	var resp struct {
		Conversations []store.ConversationSummary `json:"conversations"`
	}
	if err := c.get(ctx, "/api/chat/conversations", &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// OpenConversation finds or creates the conversation with recipientID.
func (c *RESTClient) OpenConversation(ctx context.Context, recipientID string) (*store.Conversation, error) {
	var conv store.Conversation
	err := c.do(ctx, http.MethodPost, "/api/chat/conversations",
		map[string]string{"participant_id": recipientID}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches the full history of a conversation. The server marks
// the other side's messages read as part of this call.
func (c *RESTClient) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/chat/conversations/"+conversationID+"/messages", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage persists a message and returns it with its server-assigned
// identity. Never retried: duplicating a send is worse than failing it.
func (c *RESTClient) SendMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	var msg store.Message
	err := c.do(ctx, http.MethodPost, "/api/chat/conversations/"+conversationID+"/messages",
		map[string]string{"content": content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SearchUsers searches users by name.
func (c *RESTClient) SearchUsers(ctx context.Context, q string) ([]store.User, error) {
	var resp struct {
		Users []store.User `json:"users"`
	}
	if err := c.get(ctx, "/api/users/search?q="+url.QueryEscape(q), &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}
