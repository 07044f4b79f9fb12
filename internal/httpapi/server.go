// Package httpapi serves the REST persistence API: conversation and message
// history, user search, and material invites. The realtime path (WebSocket)
// never writes to the database; everything durable goes through this API.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/auth"
	"github.com/Raditt10/IRMA-Verse/internal/metrics"
	"github.com/Raditt10/IRMA-Verse/internal/store"
)

// Store is the persistence surface the API needs. *store.Store satisfies it;
// tests substitute a stub.
type Store interface {
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, bool, error)
	ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error)
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]store.Message, error)
	SearchUsers(ctx context.Context, q, role string, limit int) ([]store.User, error)
	CreateMaterialInvites(ctx context.Context, materialID, invitedByID string, userIDs []string) (int, error)
	SearchInvitableUsers(ctx context.Context, materialID, q string, limit int) ([]store.User, error)
}

// ServerConfig holds tunable parameters for the API server.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":8081",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the REST API server.
type Server struct {
	config     ServerConfig
	store      Store
	tokens     *auth.TokenManager
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates an API server bound to the given store and token manager.
func NewServer(config ServerConfig, st Store, tokens *auth.TokenManager) *Server {
	return &Server{
		config: config,
		store:  st,
		tokens: tokens,
	}
}

// Handler builds the route table. Authenticated routes go through the token
// middleware; /health and /metrics do not.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler {
		return s.tokens.Middleware(h)
	}

	mux.Handle("GET /api/chat/conversations", authed(s.handleListConversations))
	mux.Handle("POST /api/chat/conversations", authed(s.handleOpenConversation))
	mux.Handle("GET /api/chat/conversations/{id}/messages", authed(s.handleListMessages))
	mux.Handle("POST /api/chat/conversations/{id}/messages", authed(s.handleSendMessage))
	mux.Handle("GET /api/users/search", authed(s.handleSearchUsers))
	mux.Handle("GET /api/materials/{id}/invite", authed(s.handleSearchInvitable))
	mux.Handle("POST /api/materials/{id}/invite", authed(s.handleCreateInvites))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// Start begins serving HTTP requests and blocks until shutdown.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	log.Printf("httpapi: server listening on %s", s.config.ListenAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP listener gracefully.
func (s *Server) Shutdown() error {
	log.Println("httpapi: shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
