package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/policy"
)

const QueueE2ETest = "e2eTest"

// E2ETestMessage is the payload sent by the e2e script.
type E2ETestMessage struct {
	TestID  string `json:"testId"`
	Payload string `json:"payload"`
}

// E2ETestHandler logs the message. The test script greps the output for the markers.
func E2ETestHandler(_ context.Context, queueName string, msg E2ETestMessage) error {
	log.Printf("E2E_TEST_SUCCESS: Received message on %s for test ID %s with payload: %s", queueName, msg.TestID, msg.Payload)
	if os.Getenv("E2E_HANDLER_FORCE_ERR") == "1" {
		return errors.New("e2e handler forced error")
	}
	return nil
}

// E2EMiddleware logs before and after the handler and can fail the chain on demand.
func E2EMiddleware() nexusconsumer.Middleware[E2ETestMessage] {
	return func(next nexusconsumer.Step[E2ETestMessage]) nexusconsumer.Step[E2ETestMessage] {
		return func(ctx context.Context, s *nexusconsumer.DispatchState[E2ETestMessage]) error {
			log.Printf("E2E_MW_BEFORE queue=%s message_id=%s", s.QueueName, s.Headers.Get(nexusconsumer.HeaderMessageID))

			if os.Getenv("E2E_MW_FAIL") == "1" {
				err := errors.New("e2e middleware forced failure")
				log.Printf("E2E_MW_AFTER_ERR err=%v", err)
				return err
			}

			err := next(ctx, s)
			switch {
			case err != nil:
				log.Printf("E2E_MW_AFTER_ERR err=%v", err)
			case s.HandlerErr != nil:
				log.Printf("E2E_MW_AFTER_HANDLER_ERR err=%v", s.HandlerErr)
			default:
				log.Printf("E2E_MW_AFTER_OK queue=%s", s.QueueName)
			}
			return err
		}
	}
}

// loggingEndpoint prints the dispatcher response so the script can assert on status.
type loggingEndpoint struct {
	next nexusconsumer.Endpoint
}

func (e loggingEndpoint) OnPayload(ctx context.Context, queueName string, headers nexusconsumer.Headers, contentType string, raw []byte) nexusconsumer.DispatcherResponse {
	resp := e.next.OnPayload(ctx, queueName, headers, contentType, raw)
	log.Printf("E2E_RESPONSE status=%d status_header=%s", resp.Status, resp.Info[nexusconsumer.HeaderStatus])
	return resp
}

func main() {
	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsEndpointURL := os.Getenv("AWS_ENDPOINT_URL")
	if awsEndpointURL == "" {
		log.Fatal("AWS_ENDPOINT_URL environment variable is not set.")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(appCtx)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(awsEndpointURL)
	})

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.SQS.QueueURL == "" {
		log.Fatal("SQS_QUEUE_URL environment variable is not set.")
	}

	var opts []nexusconsumer.Option
	if os.Getenv("E2E_POLICY_SERVER_ERROR") == "1" {
		// unclassified handler errors become 500, so the message stays on the queue
		opts = append(opts, nexusconsumer.WithPolicy(policy.ServerErrorPolicy{}))
	}

	dispatcher, err := nexusconsumer.NewDispatcher[E2ETestMessage](nexusconsumer.HandlerFunc[E2ETestMessage](E2ETestHandler), cfg.Nexus, opts...)
	if err != nil {
		log.Fatalf("Could not initialize dispatcher: %v", err)
	}

	testSchema := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"required": ["testId", "payload"],
		"properties": {
			"testId": { "type": "string" },
			"payload": { "type": "string" }
		},
		"additionalProperties": false
	}`
	if err := dispatcher.RegisterSchema(QueueE2ETest, testSchema); err != nil {
		log.Fatalf("Could not register schema: %v", err)
	}
	dispatcher.Use(nexusconsumer.MessageID[E2ETestMessage](), E2EMiddleware())

	mux := nexusconsumer.NewQueueMux()
	mux.Handle(QueueE2ETest, dispatcher)

	consumer := nexusconsumer.NewConsumer(sqsClient, nexusconsumer.ConsumerConfigFrom(cfg.SQS), loggingEndpoint{next: mux}, nil)
	consumer.Start(appCtx)

	if err := dispatcher.Close(context.Background()); err != nil {
		log.Printf("Pending delay notifications: %v", err)
	}
	log.Println("Application has shut down.")
}
