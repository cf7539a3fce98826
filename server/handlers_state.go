package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Halunen/GiveawayTracker/giveaway"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	eventKeepAlive      = 25 * time.Second
)

// HandleState returns the current giveaway snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.machine.Snapshot())
}

// HandleMessages returns a user's recent chat lines, oldest first.
// Params: user (required), since (RFC3339 or unix seconds), limit (default 50, max 500).
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	since, err := parseTimeQuery(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseIntQuery(r, "limit", defaultMessageLimit)
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	limit = min(limit, maxMessageLimit)
	msgs := h.machine.Messages(user, since, limit)
	if msgs == nil {
		msgs = []giveaway.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "messages": msgs})
}

// HandleEvents streams a snapshot on connect and after every state change
// using Server-Sent Events. Slow clients skip intermediate snapshots.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := h.machine.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	enc := json.NewEncoder(w)
	send := func(snap giveaway.Snapshot) bool {
		if _, err := w.Write([]byte("event: state\ndata: ")); err != nil {
			return false
		}
		// Encode terminates the data line with '\n'
		if err := enc.Encode(snap); err != nil {
			slog.Warn("failed to encode SSE snapshot", slog.Any("err", err))
			return false
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(h.machine.Snapshot()) {
		return
	}

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok || !send(snap) {
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
