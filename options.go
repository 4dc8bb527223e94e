package nexusconsumer

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatsunemiku3939/nexusconsumer/pkg/jsonschema"
	"github.com/hatsunemiku3939/nexusconsumer/policy"
)

// Option configures a Dispatcher at construction time.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	clock    clockwork.Clock
	notifier Notifier
	sender   Sender
	policy   policy.Policy
	recorder Recorder
	tracer   trace.Tracer
	schemas  *jsonschema.Registry
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used to time dispatches.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifier replaces the delay notifier built from the configuration.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithSender sets the transport used by the default delay notifier.
func WithSender(s Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithPolicy sets a custom failure policy.
// Example: d, _ := NewDispatcher(h, cfg, WithPolicy(policy.ServerErrorPolicy{}))
func WithPolicy(p policy.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithSchemas shares a schema registry between dispatchers.
func WithSchemas(r *jsonschema.Registry) Option {
	return func(o *options) { o.schemas = r }
}
