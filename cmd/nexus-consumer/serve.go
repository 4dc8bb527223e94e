package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/httpapi"
	"github.com/hatsunemiku3939/nexusconsumer/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingress and, when configured, the SQS ingress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

// logHandler accepts any JSON object and logs its top-level keys.
func logHandler(logger *slog.Logger) nexusconsumer.Handler[map[string]any] {
	return nexusconsumer.HandlerFunc[map[string]any](func(_ context.Context, queueName string, msg map[string]any) error {
		keys := make([]string, 0, len(msg))
		for k := range msg {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		logger.Info("message received", slog.String("queue", queueName), slog.Any("keys", keys))
		return nil
	})
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded", slog.String("config", cfg.String()))

	var (
		recorder nexusconsumer.Recorder
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(prometheus.DefaultRegisterer)
		if err := collector.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		recorder, gatherer = collector, prometheus.DefaultGatherer
	}

	dispatcherOpts := []nexusconsumer.Option{nexusconsumer.WithLogger(logger)}
	if recorder != nil {
		dispatcherOpts = append(dispatcherOpts, nexusconsumer.WithRecorder(recorder))
	}
	dispatcher, err := nexusconsumer.NewDispatcher(logHandler(logger), cfg.Nexus, dispatcherOpts...)
	if err != nil {
		return err
	}
	dispatcher.Use(nexusconsumer.MessageID[map[string]any]())

	mux := nexusconsumer.NewQueueMux()
	mux.RequireAPIKey(cfg.Nexus.APIKey)
	mux.Handle("*", dispatcher)

	server := httpapi.New(cfg.Server, cfg.Metrics, mux, gatherer, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	if cfg.SQS.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		consumer := nexusconsumer.NewConsumer(sqs.NewFromConfig(awsCfg), nexusconsumer.ConsumerConfigFrom(cfg.SQS), mux, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("http ingress failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	wg.Wait()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("pending delay notifications: %w", err))
	}

	logger.Info("nexus consumer stopped")
	return runErr
}
