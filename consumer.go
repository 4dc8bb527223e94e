package nexusconsumer

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/hatsunemiku3939/nexusconsumer/config"
)

const (
	// deleteTimeout sets a client-side timeout for the DeleteMessage API call.
	deleteTimeout = 5 * time.Second
	// receiveRetryDelay is the pause after a failed ReceiveMessage call.
	receiveRetryDelay = 2 * time.Second
	// contentTypeAttribute carries the payload content type as a message attribute.
	contentTypeAttribute = "content-type"
)

// SQSClient defines the SQS operations needed by the Consumer.
// This allows for easier testing by mocking the SQS client.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ConsumerConfig configures the SQS ingress.
type ConsumerConfig struct {
	QueueURL  string
	QueueName string
	// MaxMessages is the number of messages fetched per ReceiveMessage call.
	MaxMessages int32
	// WaitTimeSeconds enables long polling.
	WaitTimeSeconds int32
	// ProcessingTimeout bounds a single dispatch. Keep it below the visibility timeout.
	ProcessingTimeout time.Duration
}

// ConsumerConfigFrom extracts the ingress settings from cfg.
func ConsumerConfigFrom(cfg config.SQSConfig) ConsumerConfig {
	return ConsumerConfig{
		QueueURL:          cfg.QueueURL,
		QueueName:         cfg.QueueName,
		MaxMessages:       cfg.MaxMessages,
		WaitTimeSeconds:   cfg.WaitTimeSeconds,
		ProcessingTimeout: cfg.ProcessingTimeout,
	}
}

// Consumer polls an SQS queue and hands each message to an Endpoint.
// String message attributes become headers. Messages whose response status is
// below 500 are deleted; 5xx outcomes are left for redelivery.
type Consumer struct {
	client   SQSClient
	cfg      ConsumerConfig
	endpoint Endpoint
	logger   *slog.Logger
}

// NewConsumer creates a new SQS message consumer.
func NewConsumer(client SQSClient, cfg ConsumerConfig, endpoint Endpoint, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		cfg:      cfg,
		endpoint: endpoint,
		logger:   logger.With(slog.String("queue", cfg.QueueName)),
	}
}

// Start runs the polling loop until ctx is canceled, then waits for
// in-flight messages to finish.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("sqs consumer started", slog.String("queue_url", c.cfg.QueueURL))
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			c.logger.Info("shutdown initiated, no longer polling for new messages")
			break
		}

		output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages:   c.cfg.MaxMessages,
			WaitTimeSeconds:       c.cfg.WaitTimeSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Info("context canceled, stopping poller")
				break
			}
			c.logger.Error("failed to receive messages, retrying", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		if len(output.Messages) == 0 {
			continue
		}
		c.logger.Debug("received messages", slog.Int("count", len(output.Messages)))

		for _, msg := range output.Messages {
			wg.Add(1)
			go func(m types.Message) {
				defer wg.Done()
				msgCtx, cancel := c.processingContext()
				defer cancel()
				c.processMessage(msgCtx, &m)
			}(msg)
		}
	}

	c.logger.Info("waiting for in-flight messages to be processed")
	wg.Wait()
	c.logger.Info("graceful shutdown complete")
}

func (c *Consumer) processingContext() (context.Context, context.CancelFunc) {
	if c.cfg.ProcessingTimeout > 0 {
		return context.WithTimeout(context.Background(), c.cfg.ProcessingTimeout)
	}
	return context.WithCancel(context.Background())
}

// processMessage dispatches a single message and deletes it unless the outcome was a server error.
func (c *Consumer) processMessage(ctx context.Context, msg *types.Message) {
	if msg.Body == nil {
		c.logger.Error("received message with empty body", slog.String("message_id", aws.ToString(msg.MessageId)))
		return
	}

	headers := messageHeaders(msg)
	contentType := headers.Get(contentTypeAttribute)
	if contentType == "" {
		contentType = ContentTypeJSON
	}

	raw := []byte(*msg.Body)
	if IsProtobuf(contentType) {
		decoded, err := base64.StdEncoding.DecodeString(*msg.Body)
		if err != nil {
			c.logger.Error("protobuf message body is not base64, deleting",
				slog.String("message_id", aws.ToString(msg.MessageId)),
				slog.Any("error", err))
			c.deleteMessage(msg)
			return
		}
		raw = decoded
	}

	resp := c.endpoint.OnPayload(ctx, c.cfg.QueueName, headers, contentType, raw)

	attrs := []any{
		slog.String("message_id", aws.ToString(msg.MessageId)),
		slog.Int("status", resp.Status),
	}
	if cause := resp.Info[HeaderCause]; cause != "" {
		c.logger.Warn("message failed", append(attrs, slog.String("cause", cause))...)
	} else {
		c.logger.Info("message processed", attrs...)
	}

	if resp.Status >= http.StatusInternalServerError {
		c.logger.Info("leaving message for redelivery", attrs...)
		return
	}
	c.deleteMessage(msg)
}

func (c *Consumer) deleteMessage(msg *types.Message) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	_, err := c.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete message",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
		return
	}
	c.logger.Debug("deleted message", slog.String("message_id", aws.ToString(msg.MessageId)))
}

// messageHeaders maps string and number attributes to headers. The SQS
// message id fills "message_id" when the producer did not set one.
func messageHeaders(msg *types.Message) Headers {
	headers := NewHeaders()
	for name, attr := range msg.MessageAttributes {
		if attr.StringValue == nil {
			continue
		}
		dataType := aws.ToString(attr.DataType)
		if strings.HasPrefix(dataType, "String") || strings.HasPrefix(dataType, "Number") {
			headers.Add(name, *attr.StringValue)
		}
	}
	if headers.Get(HeaderMessageID) == "" && msg.MessageId != nil {
		headers.Set(HeaderMessageID, *msg.MessageId)
	}
	return headers
}
