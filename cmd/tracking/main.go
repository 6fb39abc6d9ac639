// Command tracking serves only the pixel, event and redirect routes and
// forwards every hit to the analytics queue. It runs apart from cmd/server
// so beacon traffic scales independently of ad rendering.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cygnusb2b/fortnight-graph/internal/api"
	"github.com/cygnusb2b/fortnight-graph/internal/bootstrap"
	"github.com/cygnusb2b/fortnight-graph/internal/config"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
	"github.com/cygnusb2b/fortnight-graph/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("tracking service exited", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.SetupLogging(cfg.Log)
	defer logger.Sync()

	if cfg.Analytics.QueueURL == "" {
		return fmt.Errorf("analytics.queue_url (SQS_ANALYTICS_QUEUE_URL) is required")
	}
	if cfg.Tracking.Secret == "" {
		return fmt.Errorf("tracking.secret (TRACKING_SECRET) is required")
	}

	ctx := context.Background()
	res, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	catalog, err := res.Catalog()
	if err != nil {
		return err
	}
	aws, err := res.AWS(ctx)
	if err != nil {
		return err
	}
	signer, err := token.NewSigner(cfg.Tracking.Secret)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pub := tracking.NewQueueRecorder(aws.SQS(), cfg.Analytics.QueueURL, m)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	health := api.NewHealthChecker(res.DB, res.Redis)
	r.Get("/health", health.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	tracking.NewHandler(signer, catalog, pub, m).Register(r)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("tracking service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down tracking service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracking shutdown error", "error", err)
	}
	pub.Wait()
	return nil
}
