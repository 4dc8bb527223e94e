package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/httpapi"
)

// --- Schemas ---

var userProfileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "userId": { "type": "string" },
    "username": { "type": "string" },
    "email": { "type": "string", "format": "email" }
  },
  "required": ["userId", "username", "email"]
}`

const QueueUpdateUserProfile = "updateUserProfile"

// --- Message Payloads ---

// UserProfileMessage is the payload pushed on the "updateUserProfile" queue.
type UserProfileMessage struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// --- Message Handlers ---

// UpdateUserProfile simulates slow work. Run with NEXUS_SERVICE_WAIT_TIMEOUT=1
// and NEXUS_ENABLE_DELAY_NOTIFICATION=true to see delay notifications.
func UpdateUserProfile(logger *slog.Logger) nexusconsumer.HandlerFunc[UserProfileMessage] {
	return func(ctx context.Context, queueName string, msg UserProfileMessage) error {
		logger.Info("processing user update", slog.String("queue", queueName), slog.String("user_id", msg.UserID), slog.String("username", msg.Username))

		select {
		case <-time.After(2 * time.Second):
			logger.Info("finished processing", slog.String("user_id", msg.UserID))
			return nil
		case <-ctx.Done():
			return nexusconsumer.WrapServiceError(http.StatusServiceUnavailable, ctx.Err())
		}
	}
}

// --- Entry Point ---

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// --- 1. Setup Context for Graceful Shutdown ---
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Load Configuration ---
	cfg, err := config.Load("", ".env")
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// --- 3. Setup Dispatcher and Routes ---
	dispatcher, err := nexusconsumer.NewDispatcher[UserProfileMessage](UpdateUserProfile(logger), cfg.Nexus, nexusconsumer.WithLogger(logger))
	if err != nil {
		logger.Error("could not initialize dispatcher", slog.Any("error", err))
		os.Exit(1)
	}
	if err := dispatcher.RegisterSchema(QueueUpdateUserProfile, userProfileSchema); err != nil {
		logger.Error("could not register schema", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher.Use(nexusconsumer.MessageID[UserProfileMessage](), nexusconsumer.QueueName[UserProfileMessage]())

	mux := nexusconsumer.NewQueueMux()
	mux.RequireAPIKey(cfg.Nexus.APIKey)
	mux.Handle(QueueUpdateUserProfile, dispatcher)

	// --- 4. Start the Ingresses ---
	server := httpapi.New(cfg.Server, config.MetricsConfig{}, mux, nil, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http ingress failed", slog.Any("error", err))
			stop()
		}
	}()

	if cfg.SQS.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(appCtx)
		if err != nil {
			logger.Error("failed to load aws config", slog.Any("error", err))
			os.Exit(1)
		}
		consumer := nexusconsumer.NewConsumer(sqs.NewFromConfig(awsCfg), nexusconsumer.ConsumerConfigFrom(cfg.SQS), mux, logger)
		consumer.Start(appCtx)
	} else {
		<-appCtx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("pending delay notifications", slog.Any("error", err))
	}
	logger.Info("application has shut down")
}
