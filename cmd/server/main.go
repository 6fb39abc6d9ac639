package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cygnusb2b/fortnight-graph/internal/api"
	"github.com/cygnusb2b/fortnight-graph/internal/bootstrap"
	"github.com/cygnusb2b/fortnight-graph/internal/config"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
	"github.com/cygnusb2b/fortnight-graph/internal/tracking"
)

// waiter is a recorder that can drain in-flight writes on shutdown.
type waiter interface {
	analytics.Recorder
	Wait()
}

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("server exited", "error", err)
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
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	catalog, err := res.Catalog()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var recorder waiter
	if cfg.Analytics.QueueURL != "" {
		aws, err := res.AWS(ctx)
		if err != nil {
			return err
		}
		recorder = tracking.NewQueueRecorder(aws.SQS(), cfg.Analytics.QueueURL, m)
		logger.Info("analytics events go to SQS", "queue", cfg.Analytics.QueueURL)
	} else {
		counters, err := res.CounterStore(ctx)
		if err != nil {
			return err
		}
		recorder = analytics.NewAsyncRecorder(analytics.NewService(counters), cfg.Analytics.WriteTimeout(), m)
		logger.Info("analytics events written in-process", "store", cfg.Analytics.Store)
	}

	signer, err := token.NewSigner(cfg.Tracking.Secret)
	if err != nil {
		return err
	}
	renderer := templating.NewRenderer(signer, templating.Config{
		BaseURL:     cfg.Tracking.BaseURL,
		PixelTTL:    cfg.Tracking.PixelTTL(),
		RedirectTTL: cfg.Tracking.RedirectTTL(),
	})

	ads := delivery.NewService(delivery.Deps{
		Campaigns:  catalog,
		Placements: catalog,
		Templates:  catalog,
		Renderer:   renderer,
		Recorder:   recorder,
		Metrics:    m,
		MaxAds:     cfg.Delivery.MaxAds,
	})

	server := api.NewServer(cfg.Server, api.Deps{
		Ads:      ads,
		Tracking: tracking.NewHandler(signer, catalog, recorder, m),
		Health:   api.NewHealthChecker(res.DB, res.Redis),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	recorder.Wait()

	logger.Info("server stopped")
	return nil
}
