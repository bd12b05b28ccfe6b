package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/config"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/dialogue"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/logging"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ops"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/secrets"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/transcript"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/whatsapp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := setup(ctx, configPath(cmd))
			if err != nil {
				return err
			}
			return serve(ctx, cfg, logger)
		},
	}
}

// setup loads configuration, builds the logger and resolves secrets.
func setup(ctx context.Context, path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Debug)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	if cfg.Secrets.ParamPrefix != "" {
		params, err := newParamStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.ResolveSecrets(ctx, params); err != nil {
			logger.Warn("some secrets could not be resolved", "prefix", cfg.Secrets.ParamPrefix, "err", err)
		}
	}
	return cfg, logger, nil
}

func newParamStore(ctx context.Context) (*secrets.ParamStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secrets.NewParamStore(ssm.NewFromConfig(awsCfg))
}

// openTranscripts returns the file store, the appender every entry goes
// through and a func closing the SQL mirror if one is configured.
func openTranscripts(ctx context.Context, cfg *config.Config) (*transcript.FileStore, transcript.Appender, func() error, error) {
	store, err := transcript.NewFileStore(cfg.Transcript.Directory)
	if err != nil {
		return nil, nil, nil, err
	}

	var driver, dsn string
	switch {
	case cfg.Transcript.DatabaseURL != "":
		driver, dsn = "postgres", cfg.Transcript.DatabaseURL
	case cfg.Transcript.SQLitePath != "":
		driver, dsn = "sqlite", cfg.Transcript.SQLitePath
	default:
		return store, store, func() error { return nil }, nil
	}

	mirror, err := transcript.OpenSQLMirror(ctx, driver, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s transcript mirror: %w", driver, err)
	}
	slog.Info("transcript mirror enabled", "driver", driver)
	return store, transcript.NewTee(store, mirror), mirror.Close, nil
}

func newBackend(cfg *config.Config, logger *slog.Logger) ai.Backend {
	if !cfg.AIEnabled() {
		logger.Warn("OpenAI credentials missing, every message will get the error reply")
		return ai.Unavailable{}
	}
	client, err := ai.NewAssistantClient(cfg.OpenAI.APIKey, cfg.OpenAI.AssistantID, ai.AssistantOptions{
		BaseURL:         cfg.OpenAI.BaseURL,
		PollInterval:    cfg.OpenAI.PollInterval,
		MaxPollInterval: cfg.OpenAI.PollMaxInterval,
		RunTimeout:      cfg.OpenAI.RunTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.Warn("assistant client unavailable", "err", err)
		return ai.Unavailable{}
	}
	return client
}

func newOutbound(cfg *config.Config) *whatsapp.Outbound {
	return whatsapp.NewOutbound(cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.WhatsApp.APIBase),
		whatsapp.WithAPIVersion(cfg.WhatsApp.APIVersion),
	)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, issue := range cfg.Issues() {
		logger.Warn("configuration issue", "key", issue.Key, "reason", issue.Reason)
	}

	store, appender, closeMirror, err := openTranscripts(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeMirror(); err != nil {
			logger.Warn("close transcript mirror", "err", err)
		}
	}()

	svc := dialogue.NewService(newBackend(cfg, logger), appender, newOutbound(cfg), dialogue.Options{
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Hub-Signature-256"},
	}))

	whatsapp.RegisterRoutes(r, whatsapp.NewHandler(cfg.WhatsApp.VerifyToken, svc, logger))
	ops.RegisterRoutes(r, ops.NewHandler(store, logger))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "chat_directory", store.Dir())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("worker shutdown: %w", err))
	}
	return errors.Join(errs...)
}
