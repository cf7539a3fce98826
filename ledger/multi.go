package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

// Backend is a named ledger destination.
type Backend interface {
	giveaway.Ledger
	Name() string
}

// Multi fans a record out to every backend concurrently. One backend failing
// does not stop the others; their errors are joined.
type Multi struct {
	backends []Backend
}

// NewMulti returns a fan-out over backends, skipping nil entries.
func NewMulti(backends ...Backend) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Len reports how many backends are configured.
func (m *Multi) Len() int { return len(m.backends) }

// Names lists the configured backends.
func (m *Multi) Names() []string {
	out := make([]string, len(m.backends))
	for i, b := range m.backends {
		out[i] = b.Name()
	}
	return out
}

// Submit delivers rec to every backend and waits for all of them.
func (m *Multi) Submit(ctx context.Context, rec giveaway.Record) error {
	ctx, span := telemetry.StartSpan(ctx, "ledger", "ledger.submit",
		attribute.String("round_token", rec.RoundToken), attribute.Int("backends", len(m.backends)))
	defer span.End()

	errs := make([]error, len(m.backends))
	var g errgroup.Group
	for i, b := range m.backends {
		g.Go(func() error {
			var err error
			telemetry.TimeFunc(telemetry.LedgerSubmitDuration, func() {
				err = b.Submit(ctx, rec)
			})
			if err != nil {
				telemetry.IncLedgerSubmit(b.Name(), "failed")
				errs[i] = fmt.Errorf("%s: %w", b.Name(), err)
				return nil
			}
			telemetry.IncLedgerSubmit(b.Name(), "ok")
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

// submitTimeout bounds a single detached submission including retries.
const submitTimeout = 2 * time.Minute

// WithTimeout wraps l so each Submit runs under a deadline.
func WithTimeout(l giveaway.Ledger, d time.Duration) giveaway.Ledger {
	if d <= 0 {
		d = submitTimeout
	}
	return timeoutLedger{next: l, d: d}
}

type timeoutLedger struct {
	next giveaway.Ledger
	d    time.Duration
}

func (t timeoutLedger) Submit(ctx context.Context, rec giveaway.Record) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.Submit(ctx, rec)
}
