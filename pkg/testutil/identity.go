// Package testutil provides a stub identity service for end-to-end tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// IdentityServer answers profile-by-id requests the way the session server
// does: 200 with {"id","name"} for known ids, 204 otherwise. Status overrides
// the answer for one hex id.
type IdentityServer struct {
	*httptest.Server

	mu     sync.Mutex
	names  map[string]string
	status map[string]int
	calls  map[string]int
}

// NewIdentityServer starts a stub serving names, keyed by dashed or undashed
// profile id. It is closed when the test ends.
func NewIdentityServer(t *testing.T, names map[string]string) *IdentityServer {
	t.Helper()
	s := &IdentityServer{
		names:  make(map[string]string, len(names)),
		status: make(map[string]int),
		calls:  make(map[string]int),
	}
	for id, name := range names {
		s.names[hex(id)] = name
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Respond makes every request for id answer with status.
func (s *IdentityServer) Respond(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[hex(id)] = status
}

// Calls reports how many requests were made for id.
func (s *IdentityServer) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[hex(id)]
}

// TotalCalls reports how many requests were made overall.
func (s *IdentityServer) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *IdentityServer) serve(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	s.mu.Lock()
	s.calls[id]++
	status, forced := s.status[id]
	name, known := s.names[id]
	s.mu.Unlock()

	switch {
	case forced:
		w.WriteHeader(status)
	case known:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": name})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func hex(id string) string {
	return strings.ReplaceAll(id, "-", "")
}
