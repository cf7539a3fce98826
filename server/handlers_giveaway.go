package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Handlers) commandFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := telemetry.LoggerWithCorr(r.Context())
	if status >= 500 {
		log.Error("giveaway command failed", slog.String("op", op), slog.Any("err", err), slog.String("component", "http"))
	} else {
		log.Info("giveaway command rejected", slog.String("op", op), slog.Any("err", err), slog.String("component", "http"))
	}
	writeError(w, status, err.Error())
}

// HandleStart opens a round. Body: {"keyword": "..."}.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Keyword string `json:"keyword"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	snap, err := h.machine.Start(r.Context(), body.Keyword)
	if err != nil {
		h.commandFailed(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleStop closes the open round; 409 when no round is open.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	snap, err := h.machine.Stop(r.Context())
	if err != nil {
		h.commandFailed(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleRoll draws a pending winner. An empty round yields {"winner": ""}.
func (h *Handlers) HandleRoll(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.machine.Roll(r.Context()))
}

// HandleReroll redraws the pending winner.
func (h *Handlers) HandleReroll(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.machine.Reroll(r.Context()))
}

// HandleCancel discards the pending winner.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.machine.Cancel(r.Context()))
}

// HandleConfirm settles a win. Body: {"winner"?: "...", "amount": n, "mod"?: "..."}.
// Without mod the Basic Auth user, when present, is recorded as moderator.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Winner string   `json:"winner"`
		Amount *float64 `json:"amount"`
		Mod    string   `json:"mod"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if body.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	mod := strings.TrimSpace(body.Mod)
	if mod == "" && isAuthenticated(r.Context()) {
		if user, _, ok := r.BasicAuth(); ok {
			mod = user
		}
	}

	res, err := h.machine.Confirm(r.Context(), giveaway.ConfirmRequest{
		Winner: body.Winner,
		Amount: *body.Amount,
		Mod:    mod,
	})
	if err != nil {
		h.commandFailed(w, r, "confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
