// Package server exposes the HTTP API: health, metrics, the giveaway state for
// dashboards, an SSE stream of state changes, and the operator commands. It
// injects correlation IDs into request contexts for consistent logging and
// protects the command routes with admin auth and rate limiting.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Halunen/GiveawayTracker/config"
	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

// Machine is the giveaway surface the API drives.
type Machine interface {
	Start(ctx context.Context, keyword string) (giveaway.Snapshot, error)
	Stop(ctx context.Context) (giveaway.Snapshot, error)
	Roll(ctx context.Context) giveaway.RollResult
	Reroll(ctx context.Context) giveaway.RollResult
	Cancel(ctx context.Context) giveaway.Snapshot
	Confirm(ctx context.Context, req giveaway.ConfirmRequest) (giveaway.ConfirmResult, error)
	Snapshot() giveaway.Snapshot
	Messages(user string, since time.Time, limit int) []giveaway.Message
	Subscribe() (<-chan giveaway.Snapshot, func())
}

// ChatStatus reports the chat connection for readiness checks.
type ChatStatus interface {
	Connected() bool
}

// Deps are the collaborators the handlers need. DB and Chat are optional.
type Deps struct {
	Machine Machine
	DB      *sql.DB
	Chat    ChatStatus
	Config  *config.Config
}

const adminPrefix = "/api/giveaway/"

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine and open event streams.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	authCfg := newAuthConfig(cfg)
	corsCfg := newCORSConfig(cfg)
	rateLimiter := newIPRateLimiter(ctx, newRateLimiterConfig(cfg))

	h := NewHandlers(ctx, deps)

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	mux.HandleFunc("/api/state", h.HandleState)
	mux.HandleFunc("/api/messages", h.HandleMessages)
	mux.HandleFunc("/api/events", h.HandleEvents)

	mux.HandleFunc(adminPrefix+"start", h.HandleStart)
	mux.HandleFunc(adminPrefix+"stop", h.HandleStop)
	mux.HandleFunc(adminPrefix+"roll", h.HandleRoll)
	mux.HandleFunc(adminPrefix+"reroll", h.HandleReroll)
	mux.HandleFunc(adminPrefix+"cancel", h.HandleCancel)
	mux.HandleFunc(adminPrefix+"confirm", h.HandleConfirm)

	// operator commands: auth first, then rate limiting
	protected := adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg)
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, adminPrefix) {
			protected.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// It returns only after in-flight requests have finished or the shutdown
// deadline has passed, so work they started is visible to the caller.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		// no WriteTimeout: /api/events streams for as long as the client stays
		IdleTimeout: 60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	<-shutdownDone
	slog.Info("http server stopped", slog.String("addr", addr))
	return nil
}
