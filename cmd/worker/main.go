package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cygnusb2b/fortnight-graph/internal/bootstrap"
	"github.com/cygnusb2b/fortnight-graph/internal/config"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
	"github.com/cygnusb2b/fortnight-graph/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("worker exited", "error", err)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	counters, err := res.CounterStore(ctx)
	if err != nil {
		return err
	}
	aws, err := res.AWS(ctx)
	if err != nil {
		return err
	}

	consumer := tracking.NewConsumer(aws.SQS(), cfg.Analytics.QueueURL, analytics.NewService(counters), nil)
	consumer.Start(ctx)
	logger.Info("analytics worker running", "store", cfg.Analytics.Store)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	cancel()
	consumer.Stop()
	logger.Info("worker stopped")
	return nil
}
