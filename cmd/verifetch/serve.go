package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stevedev/verifetch/internal/cleanup"
	"github.com/stevedev/verifetch/internal/config"
	"github.com/stevedev/verifetch/internal/downloader"
	"github.com/stevedev/verifetch/internal/http/rest"
	"github.com/stevedev/verifetch/internal/logctx"
	"github.com/stevedev/verifetch/internal/notifier"
	"github.com/stevedev/verifetch/internal/storage"
	"github.com/stevedev/verifetch/internal/storage/sqlite"
	"github.com/stevedev/verifetch/internal/telemetry"
	"github.com/stevedev/verifetch/internal/transfer"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download manager behind an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("verifetch starting...", "version", version, "log_level", cfg.LogLevel)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedLogRepository(database, tel)

	// =========================================================================
	// Start Download Manager
	recorders := storage.Recorders{repo}

	if cfg.DiscordWebhookURL != "" {
		recorders = append(recorders, &notifier.Recorder{
			Notifier: &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL},
		})
	}

	// The manager outlives the signal context so Shutdown can apply its grace
	// period to running transfers.
	manager, err := downloader.New(context.WithoutCancel(ctx), downloader.Options{
		MaxConcurrent:  cfg.MaxConcurrent,
		DownloadDir:    cfg.DownloadDir,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		RateLimit:      cfg.RateLimit,
		ShutdownGrace:  cfg.ShutdownGrace,
		Recorder:       recorders,
		Telemetry:      tel,
	})
	if err != nil {
		return fmt.Errorf("failed to start download manager: %w", err)
	}

	manager.SetListener(func(s transfer.Snapshot) {
		if s.Status.IsTerminal() {
			logger.Info("transfer finished",
				"transfer_id", s.ID,
				"status", s.Status.String(),
				"file", s.FileName,
				"bytes", s.DownloadedSize,
			)
		}
	})

	// =========================================================================
	// Start Cleanup
	go cleanup.Watch(ctx, repo, cfg.KeepDownloadedFor, cfg.CleanupInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, manager, repo, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"max_concurrent", cfg.MaxConcurrent,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	select {
	case err := <-serverErrors:
		shutdownManager(ctx, manager)

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		shutdownManager(ctx, manager)

		return nil
	}
}

func shutdownManager(ctx context.Context, manager *downloader.Manager) {
	if err := manager.Shutdown(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, downloader.ErrManagerClosed) {
		logctx.LoggerFromContext(ctx).Error("failed to shutdown download manager", "err", err)
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, manager *downloader.Manager, history storage.LogReader, tel *telemetry.Telemetry) *http.Server {
	handler := rest.NewTransferHandler(cfg.Web.Username, cfg.Web.Password, manager, history, tel)

	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "verifetch"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
