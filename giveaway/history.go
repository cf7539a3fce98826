package giveaway

import "time"

// DefaultHistoryLimit is the number of confirmed winners kept.
const DefaultHistoryLimit = 50

// Win is a confirmed winner.
type Win struct {
	Winner     string    `json:"winner"`
	RoundToken string    `json:"round_token"`
	Amount     float64   `json:"amount"`
	Mod        string    `json:"mod,omitempty"`
	At         time.Time `json:"at"`
}

// History keeps the most recent wins, newest first.
type History struct {
	limit   int
	entries []Win
}

// NewHistory creates a history holding at most limit wins.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Add puts w at the front, dropping the oldest entry when over the limit.
func (h *History) Add(w Win) {
	entries := make([]Win, 0, min(len(h.entries)+1, h.limit))
	entries = append(entries, w)
	for _, e := range h.entries {
		if len(entries) == h.limit {
			break
		}
		entries = append(entries, e)
	}
	h.entries = entries
}

// List returns a copy of the wins, newest first.
func (h *History) List() []Win {
	out := make([]Win, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of wins kept.
func (h *History) Len() int { return len(h.entries) }
