package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/invigilo-ai/sentinel/internal/alert"
	"github.com/invigilo-ai/sentinel/internal/api"
	"github.com/invigilo-ai/sentinel/internal/auth"
	"github.com/invigilo-ai/sentinel/internal/config"
	"github.com/invigilo-ai/sentinel/internal/detector"
	"github.com/invigilo-ai/sentinel/internal/evaluate"
	"github.com/invigilo-ai/sentinel/internal/evread"
	"github.com/invigilo-ai/sentinel/internal/metrics"
	"github.com/invigilo-ai/sentinel/internal/session"
	"github.com/invigilo-ai/sentinel/internal/storage"
	"github.com/invigilo-ai/sentinel/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.Load()

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting sentinel server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("detector_base_url", cfg.DetectorBaseURL),
		zap.Duration("detector_timeout", cfg.DetectorTimeout),
	)

	// Detector sidecar client
	det := detector.NewHTTPClient(cfg.DetectorBaseURL, cfg.DetectorTimeout, logger)

	// Evaluator and server-default thresholds
	evaluator := evaluate.NewEvaluator(evaluate.DefaultRules(), logger)
	defaults := api.Defaults{
		Evaluate: evaluate.Config{
			PollInterval:         secondsToDuration(cfg.PollIntervalSeconds),
			SensitivityThreshold: cfg.SensitivityThreshold,
			WarnThreshold:        secondsToDuration(cfg.WarnSeconds),
			AlertThreshold:       secondsToDuration(cfg.AlertSeconds),
			AlertCooldown:        secondsToDuration(cfg.CooldownSeconds),
		},
		MaxTabSwitches: cfg.MaxTabSwitches,
		GraceDelay:     secondsToDuration(cfg.GraceSeconds),
	}

	// Event storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (event history and analytics endpoints)
	var reader *evread.Reader
	if cfg.ClickHouseDSN != "" {
		var err error
		reader, err = evread.NewReader(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = reader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Postgres pool (courses, recipients, session mirror, auth)
	var pgStore *store.Store
	var authn auth.Authenticator
	var mirror session.Mirror
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		mirror = &storeMirror{store: pgStore}
		authn = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cfg.AuthCacheTTL,
			Logger:   logger,
		})
		logger.Info("postgres connected")
	} else {
		authn = auth.NewStaticAuthenticator()
		logger.Warn("no POSTGRES_DSN set, using static dev auth; course management disabled")
	}

	// Alert channels
	var senders []alert.Sender
	if cfg.SMTPUser != "" && cfg.SMTPPassword != "" {
		senders = append(senders, alert.NewEmailSender(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword,
			cfg.EmailSender, cfg.FallbackInbox,
		))
		logger.Info("email alerts enabled", zap.String("smtp_host", cfg.SMTPHost))
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		senders = append(senders, alert.NewWhatsAppSender(
			cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsFrom,
		))
		logger.Info("whatsapp alerts enabled")
	}
	if len(senders) == 0 {
		logger.Warn("no alert channels configured, alerts will not be delivered")
	}
	dispatcher := alert.NewDispatcher(senders, logger)

	deps := &api.Dependencies{
		Store:      pgStore,
		Sessions:   session.NewManager(evaluator, mirror, logger),
		Evaluator:  evaluator,
		Detector:   det,
		Dispatcher: dispatcher,
		Writer:     writer,
		Reader:     reader,
		Auth:       authn,
		Metrics:    metrics.New(),
		Defaults:   defaults,
		Logger:     logger,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("sentinel server stopped")
}

// storeMirror adapts the Postgres store to the session tracker's mirror
// interface.
type storeMirror struct {
	store *store.Store
}

func (m *storeMirror) CreateSession(ctx context.Context, rec session.Record) error {
	return m.store.InsertSession(ctx, sessionRow(rec))
}

func (m *storeMirror) UpdateSession(ctx context.Context, rec session.Record) error {
	return m.store.UpdateSessionCounters(ctx, sessionRow(rec))
}

func (m *storeMirror) MarkEnded(ctx context.Context, id, reason string, at time.Time) error {
	return m.store.MarkSessionEnded(ctx, id, reason, at)
}

func sessionRow(rec session.Record) store.SessionRow {
	return store.SessionRow{
		ID:             rec.ID,
		UserID:         rec.UserID,
		CourseID:       rec.CourseID,
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
		EndReason:      rec.EndReason,
		TabSwitchCount: rec.TabSwitchCount,
		ViolationCount: rec.ViolationCount,
		Locked:         rec.Locked,
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
