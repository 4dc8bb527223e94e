package nexusconsumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/internal/jsoncodec"
)

// DelayNotificationPath is appended to the platform host, followed by the queue name.
const DelayNotificationPath = "/nexus/dispatch/notifyOnDelay/"

const (
	responseLogFormat = "Dispatcher-Response : status: %d"
	errorLogFormat    = "Dispatcher-Error : Error while notifying Nexus service on API Delays. Reason : %s"

	maxResponseBytes = 1 << 20
)

// NotifyResult is the outcome of one delay notification. Body is the parsed
// JSON response, or {"error": "..."} when the call could not be completed, in
// which case Err holds the underlying failure.
type NotifyResult struct {
	StatusCode int
	Body       any
	Err        error
}

// Notifier informs the platform that a response was produced after its wait window.
type Notifier interface {
	NotifyOnDelay(ctx context.Context, queueName string, headers Headers) NotifyResult
}

// Sender performs the outbound POST. HTTPSender is the production implementation.
type Sender interface {
	Send(ctx context.Context, target string, payload []byte) (status int, body []byte, err error)
}

// HTTPSender implements Sender over net/http.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender returns a sender using client, or a client with a 30s ceiling when nil.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{client: client}
}

// Send posts payload as JSON and returns the response status and body.
// Non-2xx responses are not errors.
func (s *HTTPSender) Send(ctx context.Context, target string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", ContentTypeJSON)
	req.Header.Set("Content-Type", ContentTypeJSON)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// NotifierConfig configures a DelayNotifier. Zero RateLimit or BreakerThreshold disables that guard.
type NotifierConfig struct {
	Host             string
	Timeout          time.Duration
	RateLimit        float64
	Burst            int
	BreakerThreshold int
	BreakerReset     time.Duration
}

// NotifierConfigFrom extracts the notifier settings from the platform configuration.
func NotifierConfigFrom(cfg config.NexusConfig) NotifierConfig {
	return NotifierConfig{
		Host:             cfg.Host,
		Timeout:          cfg.NotifyTimeout,
		RateLimit:        cfg.NotifyRateLimit,
		Burst:            cfg.NotifyBurst,
		BreakerThreshold: cfg.NotifyBreakerThreshold,
		BreakerReset:     cfg.NotifyBreakerReset,
	}
}

// DelayNotifier makes at most one POST per late message to
// {host}/nexus/dispatch/notifyOnDelay/{queue}. Failures never propagate;
// they are logged and returned as an {"error": ...} body.
type DelayNotifier struct {
	host    string
	timeout time.Duration
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewDelayNotifier creates a notifier. A nil sender uses NewHTTPSender(nil).
func NewDelayNotifier(cfg NotifierConfig, sender Sender, logger *slog.Logger) *DelayNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = NewHTTPSender(nil)
	}

	n := &DelayNotifier{
		host:    strings.TrimRight(cfg.Host, "/"),
		timeout: cfg.Timeout,
		sender:  sender,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}

	if cfg.BreakerThreshold > 0 {
		threshold := uint32(cfg.BreakerThreshold)
		n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "nexus-notify",
			MaxRequests: 1,
			Timeout:     cfg.BreakerReset,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("delay notification circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return n
}

// URL returns the notification target for queueName.
func (n *DelayNotifier) URL(queueName string) string {
	return n.host + DelayNotificationPath + url.PathEscape(queueName)
}

// NotifyOnDelay posts the flattened headers to the platform.
func (n *DelayNotifier) NotifyOnDelay(ctx context.Context, queueName string, headers Headers) NotifyResult {
	ctx, span := n.tracer.Start(ctx, "nexus.notifyOnDelay",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("nexus.queue", queueName)))
	defer span.End()

	res := n.notify(ctx, queueName, headers)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode))
	}
	return res
}

func (n *DelayNotifier) notify(ctx context.Context, queueName string, headers Headers) NotifyResult {
	if n.limiter != nil && !n.limiter.Allow() {
		return n.absorb(queueName, ErrNotifyRateLimited)
	}

	payload, err := jsoncodec.Marshal(headers.Flatten())
	if err != nil {
		return n.absorb(queueName, fmt.Errorf("failed to encode headers: %w", err))
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	target := n.URL(queueName)
	exchange := func() (any, error) {
		status, body, err := n.sender.Send(ctx, target, payload)
		if err != nil {
			return nil, err
		}
		parsed, err := decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("unparsable response with status %d: %w", status, err)
		}
		return NotifyResult{StatusCode: status, Body: parsed}, nil
	}

	var out any
	if n.breaker != nil {
		out, err = n.breaker.Execute(exchange)
	} else {
		out, err = exchange()
	}
	if err != nil {
		return n.absorb(queueName, err)
	}

	res := out.(NotifyResult)
	n.logger.Info(fmt.Sprintf(responseLogFormat, res.StatusCode),
		slog.String("queue", queueName),
		slog.String("url", target))
	return res
}

func (n *DelayNotifier) absorb(queueName string, err error) NotifyResult {
	msg := fmt.Sprintf(errorLogFormat, err.Error())
	n.logger.Warn(msg, slog.String("queue", queueName))
	return NotifyResult{
		Body: map[string]any{"error": msg},
		Err:  err,
	}
}

func decodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var v any
	if err := jsoncodec.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// notifyResultLabel classifies a NotifyResult for metrics.
func notifyResultLabel(res NotifyResult) string {
	switch {
	case res.Err == nil:
		return "ok"
	case errors.Is(res.Err, ErrNotifyRateLimited):
		return "rate_limited"
	case errors.Is(res.Err, gobreaker.ErrOpenState), errors.Is(res.Err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}
