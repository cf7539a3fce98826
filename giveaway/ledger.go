package giveaway

import (
	"fmt"
	"math"
	"sync"
)

// SessionLedger accumulates confirmed amounts for the life of the process.
// A bump carrying a dedupe token is applied at most once per token.
type SessionLedger struct {
	mu    sync.Mutex
	total float64
	seen  map[string]struct{}
}

// NewSessionLedger returns a ledger with a zero total.
func NewSessionLedger() *SessionLedger {
	return &SessionLedger{seen: make(map[string]struct{})}
}

// Bump adds amount to the total unless token was already applied. It returns
// the resulting total and whether the call was deduplicated. An empty token is
// never deduplicated.
func (l *SessionLedger) Bump(amount float64, token string) (float64, bool, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, false, fmt.Errorf("bump %v: %w", amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if token != "" {
		if _, ok := l.seen[token]; ok {
			return l.total, true, nil
		}
		l.seen[token] = struct{}{}
	}
	l.total += amount
	return l.total, false, nil
}

// Total returns the accumulated amount.
func (l *SessionLedger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
