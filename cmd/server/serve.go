package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kurobon/imagepro/internal/ai"
	"github.com/kurobon/imagepro/internal/auth"
	"github.com/kurobon/imagepro/internal/config"
	"github.com/kurobon/imagepro/internal/pipeline"
	"github.com/kurobon/imagepro/internal/server"
	"github.com/kurobon/imagepro/internal/state"
	"github.com/kurobon/imagepro/internal/stats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Core Dependencies
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if cfg.CatalogDir != "" {
		if err := cat.Watch(ctx, cfg.CatalogDir, logger); err != nil {
			logger.Warn("catalog hot reload disabled", "error", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tracker := stats.NewTracker(reg)

	sessions := state.NewSessionManager(cfg.History.Capacity, cfg.Sessions.IdleTTL.Std())
	authStore := auth.NewStore(cfg.Auth.TokenTTL.Std())
	go sessions.Run(ctx, cfg.Sessions.SweepInterval.Std(), func(removed int) {
		tracker.SetActiveSessions(sessions.Count())
		if n := authStore.PurgeExpired(); n > 0 || removed > 0 {
			logger.Info("swept idle state", "sessions", removed, "tokens", n)
		}
	})

	engine := &pipeline.Engine{
		Catalog:     cat,
		Stats:       tracker,
		Providers:   providers(cfg),
		PreviewEdge: cfg.Preview.MaxEdge,
		MaxPixels:   cfg.Uploads.MaxPixels,
		Logger:      logger,
	}

	srv, err := server.NewServer(server.Options{
		Sessions:     sessions,
		Engine:       engine,
		Auth:         authStore,
		Stats:        tracker,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MaxUpload:    cfg.Uploads.MaxBytes,
		AllowedFiles: cfg.Uploads.Allowed,
		AuthDisabled: cfg.Auth.Disabled,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if cfg.Auth.Disabled {
		logger.Warn("authentication is disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "tools", len(cat.List("en")))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// providers builds the vendor clients. Clients without credentials are
// still created; their tools report ai.ErrNotConfigured.
func providers(cfg *config.Config) pipeline.Providers {
	v := cfg.Vendors
	timeout := v.Timeout.Std()
	return pipeline.Providers{
		Groq:           ai.NewGroqClient(v.Groq.APIKey, v.Groq.BaseURL, v.Groq.Model, timeout),
		RemoveBG:       ai.NewRemoveBGClient(v.RemoveBG.APIKey, v.RemoveBG.BaseURL, timeout),
		Replicate:      ai.NewReplicateClient(v.Replicate.APIToken, v.Replicate.BaseURL, v.Replicate.PollInterval.Std(), timeout),
		Gradio:         ai.NewGradioClient(v.Gradio.SpaceURL, v.Gradio.Endpoint, v.Gradio.Token, timeout),
		UpscaleVersion: v.Replicate.UpscaleVersion,
		FaceVersion:    v.Replicate.FaceVersion,
	}
}
