package giveaway

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// Message is one chat line kept for a user.
type Message struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// MessageStore keeps the most recent chat lines per user, bounded by count and age.
// It is independent of giveaway rounds.
type MessageStore struct {
	mu         sync.RWMutex
	maxPerUser int
	keepWindow time.Duration
	now        func() time.Time
	byUser     map[string][]Message
}

// NewMessageStore creates a store keeping at most maxPerUser lines per user,
// none older than keepWindow. A nil now defaults to time.Now.
func NewMessageStore(maxPerUser int, keepWindow time.Duration, now func() time.Time) *MessageStore {
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	if now == nil {
		now = time.Now
	}
	return &MessageStore{
		maxPerUser: maxPerUser,
		keepWindow: keepWindow,
		now:        now,
		byUser:     make(map[string][]Message),
	}
}

// Record inserts a line for user in timestamp order, then drops every line
// outside the keep window and evicts from the oldest end down to the count cap.
// Lines with equal timestamps keep their arrival order.
func (s *MessageStore) Record(user, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.byUser[user]
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].At.After(at) })
	msgs = slices.Insert(msgs, i, Message{Text: text, At: at})

	msgs = s.fresh(msgs, s.now())
	if len(msgs) > s.maxPerUser {
		msgs = msgs[len(msgs)-s.maxPerUser:]
	}
	if len(msgs) == 0 {
		delete(s.byUser, user)
		return
	}
	// copy so the backing array of evicted entries can be collected
	s.byUser[user] = append([]Message(nil), msgs...)
}

// fresh filters msgs in place to the lines inside the keep window.
func (s *MessageStore) fresh(msgs []Message, now time.Time) []Message {
	return slices.DeleteFunc(msgs, func(m Message) bool { return now.Sub(m.At) > s.keepWindow })
}

// Recent returns a copy of user's lines that are still inside the keep window,
// optionally restricted to at >= since, truncated to the newest limit entries
// and ordered oldest first. A zero since disables the filter; limit <= 0 means
// no truncation.
func (s *MessageStore) Recent(user string, since time.Time, limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]Message, 0, len(s.byUser[user]))
	for _, m := range s.byUser[user] {
		if now.Sub(m.At) > s.keepWindow {
			continue
		}
		if !since.IsZero() && m.At.Before(since) {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Prune drops aged-out lines for every user and forgets users left with none.
// It returns the number of users still tracked.
func (s *MessageStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for user, msgs := range s.byUser {
		kept := s.fresh(slices.Clone(msgs), now)
		switch {
		case len(kept) == 0:
			delete(s.byUser, user)
		case len(kept) < len(msgs):
			s.byUser[user] = kept
		}
	}
	return len(s.byUser)
}

// Users returns how many users currently have lines stored.
func (s *MessageStore) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}
