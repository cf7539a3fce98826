// Package ledger delivers confirmed wins to external records: an HTTP webhook
// (typically a spreadsheet script) and an optional Postgres audit table.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

const (
	defaultAttempts = 3
	defaultBase     = time.Second
	maxErrorBody    = 512
)

// Webhook posts each record as JSON and expects {"ok": true} back. Failed
// posts are retried with doubling delays (base, 2*base, ...) until Attempts
// is reached or the error is fatal.
type Webhook struct {
	URL      string
	Token    string
	Attempts int
	Base     time.Duration
	Client   *http.Client
}

// NewWebhook returns a Webhook with a traced HTTP client.
func NewWebhook(url, token string, attempts int, base time.Duration) *Webhook {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	if base < 0 {
		base = defaultBase
	}
	return &Webhook{
		URL:      url,
		Token:    token,
		Attempts: attempts,
		Base:     base,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Name identifies the backend in metrics.
func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) http() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return http.DefaultClient
}

// Submit posts rec, retrying transient failures.
func (w *Webhook) Submit(ctx context.Context, rec giveaway.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	attempts := max(w.Attempts, 1)
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.Base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         w.Base << attempts,
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "ledger_webhook"), slog.String("round_token", rec.RoundToken))

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := w.post(ctx, body)
		if err != nil && IsFatalError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.IncLedgerRetry()
			log.Warn("ledger webhook attempt failed, retrying", slog.Any("err", err), slog.Duration("next", next))
		}),
	)
	if err != nil {
		return fmt.Errorf("ledger webhook (%s): %w", Classify(err), err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	resp, err := w.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	var out struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("%w: undecodable response: %v", ErrRejected, err)
	}
	if !out.OK {
		return ErrRejected
	}
	return nil
}
