package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Raditt10/IRMA-Verse/internal/auth"
	"github.com/Raditt10/IRMA-Verse/internal/store"
)

const searchLimit = 10

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store sentinel errors to HTTP status codes. Unknown
// errors are logged and reported as 500 without leaking detail.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "not a participant")
	case errors.Is(err, store.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, "empty content")
	case errors.Is(err, store.ErrSelfConversation):
		writeError(w, http.StatusBadRequest, "cannot open a conversation with yourself")
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleListConversations returns the caller's conversations ordered by most
// recent activity, with last message and unread count.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())

	summaries, err := s.store.ListConversations(r.Context(), claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": summaries})
}

// handleOpenConversation finds or creates the conversation between the caller
// and the requested recipient. 201 when a new conversation was created, 200
// when an existing one was found.
func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())

	var req struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	conv, created, err := s.store.FindOrCreateConversation(r.Context(), claims.UserID, req.ParticipantID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conv)
}

// handleListMessages returns the full message history of a conversation in
// ascending creation order. Fetching also marks the other side's messages as
// read for the caller.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	convID := r.PathValue("id")

	msgs, err := s.store.ListMessages(r.Context(), convID, claims.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// handleSendMessage appends a message to a conversation. The response carries
// the server-assigned message ID and creation timestamp; the client relays
// that identity over the socket so both sides render the same message.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	convID := r.PathValue("id")

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.store.AppendMessage(r.Context(), convID, claims.UserID, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// handleSearchUsers searches users by name for starting a new conversation.
// An optional role parameter narrows the results.
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": []store.User{}})
		return
	}
	// Students are the default search target; instructors are reachable
	// through their material rooms, not open search.
	role := r.URL.Query().Get("role")
	if role == "" {
		role = auth.RoleUser
	}

	users, err := s.store.SearchUsers(r.Context(), q, role, searchLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// handleSearchInvitable lists users who can still be invited to a material
// room, excluding those already enrolled. Admins may browse the list too;
// only instructors may actually send the invites.
func (s *Server) handleSearchInvitable(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	if claims.Role != auth.RoleInstructor && claims.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "instructor or admin role required")
		return
	}

	materialID := r.PathValue("id")
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	users, err := s.store.SearchInvitableUsers(r.Context(), materialID, q, searchLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// handleCreateInvites creates material invites for a batch of users. Users
// already invited are skipped, not errors; the response reports how many
// invites were actually created.
func (s *Server) handleCreateInvites(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	if claims.Role != auth.RoleInstructor {
		writeError(w, http.StatusForbidden, "instructor role required")
		return
	}

	materialID := r.PathValue("id")

	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_ids is required")
		return
	}

	created, err := s.store.CreateMaterialInvites(r.Context(), materialID, claims.UserID, req.UserIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"created": created})
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}
