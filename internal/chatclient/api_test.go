package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Raditt10/IRMA-Verse/internal/store"
)

func TestSearchUsersEscapesQuery(t *testing.T) {
	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		_ = json.NewEncoder(w).Encode(map[string][]store.User{
			"users": {{ID: "u1", Name: gotQ}},
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "test-token")

	// Spaces and metacharacters in the name must survive the round trip
	// instead of being swallowed as separate query parameters.
	const q = "budi santoso & friends"
	users, err := c.SearchUsers(context.Background(), q)
	if err != nil {
		t.Fatalf("SearchUsers() error: %v", err)
	}
	if gotQ != q {
		t.Fatalf("server saw q=%q, want %q", gotQ, q)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("unexpected result: %+v", users)
	}
}
