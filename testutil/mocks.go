package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Halunen/GiveawayTracker/giveaway"
)

// MockLedgerServer is a test server standing in for the ledger webhook. It
// answers with the queued statuses in order, then with the fallback status.
type MockLedgerServer struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	fallback int
	ok       bool
	records  []giveaway.Record
	auth     []string
}

// NewMockLedgerServer creates a server that accepts every record with 200 {"ok":true}.
func NewMockLedgerServer(t *testing.T) *MockLedgerServer {
	t.Helper()
	m := &MockLedgerServer{fallback: http.StatusOK, ok: true}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec giveaway.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.records = append(m.records, rec)
		m.auth = append(m.auth, r.Header.Get("Authorization"))
		status := m.fallback
		if len(m.statuses) > 0 {
			status = m.statuses[0]
			m.statuses = m.statuses[1:]
		}
		ok := m.ok
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": ok && status < 300}) //nolint:errcheck // test mock response
	}))
	t.Cleanup(m.Close)
	return m
}

// QueueStatuses makes the next requests answer with codes, in order.
func (m *MockLedgerServer) QueueStatuses(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, codes...)
}

// SetFallback sets the status returned once queued statuses run out.
func (m *MockLedgerServer) SetFallback(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = code
}

// RejectAll makes successful responses carry {"ok":false}.
func (m *MockLedgerServer) RejectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok = false
}

// Records returns every record received so far.
func (m *MockLedgerServer) Records() []giveaway.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]giveaway.Record(nil), m.records...)
}

// AuthHeaders returns the Authorization header of every request received.
func (m *MockLedgerServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.auth...)
}
