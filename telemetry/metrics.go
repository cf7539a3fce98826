// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessages    prometheus.Counter
	EntriesAccepted prometheus.Counter
	EntriesRejected prometheus.Counter
	Commands        *prometheus.CounterVec // labels: command, outcome
	NotifyFailures  prometheus.Counter
	LedgerSubmits   *prometheus.CounterVec // labels: backend, outcome
	LedgerRetries   prometheus.Counter
	DispatchedTasks *prometheus.CounterVec // labels: task
	DispatchPanics  prometheus.Counter

	// Histograms (seconds)
	LedgerSubmitDuration prometheus.Observer

	// Gauges
	EntrantsGauge      prometheus.Gauge
	PendingWinnerGauge prometheus.Gauge // 1=pending,0=none
	SessionTotalGauge  prometheus.Gauge
	ChatUsersGauge     prometheus.Gauge
	InflightTasksGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_chat_messages_total", Help: "Number of chat lines observed"})
		EntriesAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_entries_accepted_total", Help: "Number of users admitted to a round"})
		EntriesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_entries_rejected_total", Help: "Number of entries rejected because the round was full"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_commands_total", Help: "Operator commands by outcome"}, []string{"command", "outcome"})
		NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_notify_failures_total", Help: "Number of chat notifications that failed"})
		LedgerSubmits = promauto.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_ledger_submits_total", Help: "Ledger submissions by backend and outcome"}, []string{"backend", "outcome"})
		LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_ledger_retries_total", Help: "Number of ledger webhook retry attempts"})
		DispatchedTasks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "giveaway_dispatched_tasks_total", Help: "Detached tasks dispatched by name"}, []string{"task"})
		DispatchPanics = promauto.NewCounter(prometheus.CounterOpts{Name: "giveaway_dispatch_panics_total", Help: "Detached tasks that panicked"})
		LedgerSubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "giveaway_ledger_submit_duration_seconds", Help: "Ledger submit duration seconds including retries", Buckets: prometheus.DefBuckets})
		EntrantsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "giveaway_entrants", Help: "Current number of entrants"})
		PendingWinnerGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "giveaway_pending_winner", Help: "Pending winner present=1 none=0"})
		SessionTotalGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "giveaway_session_total", Help: "Confirmed amount accumulated by this process"})
		ChatUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "giveaway_chat_users", Help: "Users with chat lines in the rolling buffer"})
		InflightTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "giveaway_inflight_tasks", Help: "Detached tasks currently running"})
	})
}

// IncChatMessage counts one observed chat line.
func IncChatMessage() {
	if ChatMessages != nil {
		ChatMessages.Inc()
	}
}

// IncEntry counts an accepted or capacity-rejected entry.
func IncEntry(accepted bool) {
	if accepted && EntriesAccepted != nil {
		EntriesAccepted.Inc()
	} else if !accepted && EntriesRejected != nil {
		EntriesRejected.Inc()
	}
}

// IncCommand counts an operator command with its outcome (ok, rejected, empty).
func IncCommand(command, outcome string) {
	if Commands != nil {
		Commands.WithLabelValues(command, outcome).Inc()
	}
}

// IncNotifyFailure counts a failed chat notification.
func IncNotifyFailure() {
	if NotifyFailures != nil {
		NotifyFailures.Inc()
	}
}

// IncLedgerSubmit counts a ledger submission for backend (ok, failed).
func IncLedgerSubmit(backend, outcome string) {
	if LedgerSubmits != nil {
		LedgerSubmits.WithLabelValues(backend, outcome).Inc()
	}
}

// IncLedgerRetry counts a webhook retry attempt.
func IncLedgerRetry() {
	if LedgerRetries != nil {
		LedgerRetries.Inc()
	}
}

// IncDispatched counts a dispatched detached task.
func IncDispatched(task string) {
	if DispatchedTasks != nil {
		DispatchedTasks.WithLabelValues(task).Inc()
	}
}

// IncDispatchPanic counts a recovered panic in a detached task.
func IncDispatchPanic() {
	if DispatchPanics != nil {
		DispatchPanics.Inc()
	}
}

// SetEntrants records the current entrant count.
func SetEntrants(n int) {
	if EntrantsGauge != nil {
		EntrantsGauge.Set(float64(n))
	}
}

// SetPending sets the pending-winner gauge to 1 if a winner is pending else 0.
func SetPending(pending bool) {
	if PendingWinnerGauge != nil {
		if pending {
			PendingWinnerGauge.Set(1)
		} else {
			PendingWinnerGauge.Set(0)
		}
	}
}

// SetSessionTotal records the session total.
func SetSessionTotal(v float64) {
	if SessionTotalGauge != nil {
		SessionTotalGauge.Set(v)
	}
}

// SetChatUsers records how many users the rolling buffer tracks.
func SetChatUsers(n int) {
	if ChatUsersGauge != nil {
		ChatUsersGauge.Set(float64(n))
	}
}

// AddInflight adjusts the running detached task gauge by delta.
func AddInflight(delta int) {
	if InflightTasksGauge != nil {
		InflightTasksGauge.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
