package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Halunen/GiveawayTracker/giveaway"
)

// maxBodyBytes caps JSON command bodies.
const maxBodyBytes = 64 << 10

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// parseTimeQuery extracts an RFC3339 or unix-seconds timestamp; zero when absent.
func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339 or unix seconds")
	}
	return time.Unix(secs, 0), nil
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps giveaway errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, giveaway.ErrNotOpen), errors.Is(err, giveaway.ErrNoWinnerToConfirm):
		return http.StatusConflict
	case errors.Is(err, giveaway.ErrInvalidAmount), errors.Is(err, giveaway.ErrEmptyKeyword):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func strconvSeconds(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}
