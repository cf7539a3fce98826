// Command GiveawayTracker runs a Twitch chat giveaway.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Optionally connects to Postgres and migrates the giveaway_wins audit table.
//   - Joins the Twitch channel and feeds chat into the giveaway state machine.
//   - Delivers confirmed wins to the configured ledgers in the background.
//   - Serves the dashboard/operator HTTP API with /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: the HTTP server and chat connection
// close first, then in-flight announcements and ledger submissions are drained.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Halunen/GiveawayTracker/chat"
	"github.com/Halunen/GiveawayTracker/config"
	"github.com/Halunen/GiveawayTracker/db"
	"github.com/Halunen/GiveawayTracker/dispatch"
	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/ledger"
	"github.com/Halunen/GiveawayTracker/server"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

const (
	serviceName    = "giveaway-tracker"
	serviceVersion = "1.0.0"
	drainTimeout   = 15 * time.Second
)

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var database *sql.DB
	if cfg.LedgerDBEnabled {
		database, err = openDatabase(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	pool := dispatch.NewPool(cfg.DispatchMaxInflight)

	var backends []ledger.Backend
	if cfg.LedgerWebhookURL != "" {
		backends = append(backends, ledger.NewWebhook(cfg.LedgerWebhookURL, cfg.LedgerWebhookToken, cfg.LedgerRetryAttempts, cfg.LedgerRetryBase))
	}
	if database != nil {
		backends = append(backends, ledger.NewPostgres(database))
	}
	var winLedger giveaway.Ledger
	if multi := ledger.NewMulti(backends...); multi.Len() > 0 {
		winLedger = ledger.WithTimeout(multi, 0)
		slog.Info("ledger enabled", slog.Any("backends", multi.Names()))
	} else {
		slog.Warn("no ledger configured; confirmed wins are only kept in memory. Set LEDGER_WEBHOOK_URL or LEDGER_DB_ENABLED=1")
	}

	ircClient := chat.NewClient(cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
	var notifier giveaway.Notifier = chat.LogNotifier{}
	if err := cfg.ValidateChatReady(); err == nil {
		notifier = chat.NewTwitchNotifier(ircClient, cfg.TwitchChannel)
	} else {
		slog.Info("chat announcements disabled; logging them instead", slog.Any("reason", err))
	}

	machine := giveaway.New(giveaway.Options{
		Channel:        cfg.TwitchChannel,
		MaxEntrants:    cfg.MaxEntrants,
		MaxPerUser:     cfg.ChatMaxPerUser,
		KeepWindow:     cfg.ChatKeepWindow,
		WinnerMessages: cfg.WinnerMessageLimit,
		Notifier:       notifier,
		Ledger:         winLedger,
		Dispatcher:     pool,
	})

	deps := server.Deps{Machine: machine, DB: database, Config: cfg}
	if cfg.TwitchChannel != "" {
		listener := chat.NewListener(ircClient, cfg.TwitchChannel, machine)
		deps.Chat = listener
		go listener.Run(ctx)
	} else {
		slog.Info("chat listener disabled (TWITCH_CHANNEL not set)")
	}

	go giveaway.StartJanitor(ctx, machine, cfg.ChatPruneInterval)

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// commands still being served may dispatch more work; drain only after they finish
	<-serverDone

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	slog.Info("draining background tasks", slog.Int("active", pool.Active()), slog.Int("limit", pool.Limit()))
	if err := pool.Wait(drainCtx); err != nil {
		slog.Warn("background tasks still running at shutdown", slog.Int("active", pool.Active()), slog.Any("err", err))
	}
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openDatabase connects and applies versioned migrations, falling back to the
// embedded schema when the versioned run fails.
func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("could not read schema version", slog.Any("err", err), slog.String("component", "db_migrate"))
	} else {
		slog.Info("database ready", slog.Uint64("schema_version", uint64(version)), slog.Bool("dirty", dirty), slog.String("component", "db_migrate"))
	}
	return database, nil
}

func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
