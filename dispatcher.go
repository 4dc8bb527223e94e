// Package nexusconsumer receives push messages from the Nexus dispatch
// platform, authenticates them with a shared api key, runs a consumer
// handler and reports late responses back to the platform.
package nexusconsumer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/pkg/jsonschema"
	"github.com/hatsunemiku3939/nexusconsumer/policy"
)

const tracerName = "github.com/hatsunemiku3939/nexusconsumer"

// Dispatcher runs AuthGate, the handler, timing and response shaping for one
// consumer. It is safe for concurrent use; each call owns its Headers.
type Dispatcher[T any] struct {
	handler Handler[T]
	auth    AuthGate
	builder *ResponseBuilder
	schemas *jsonschema.Registry
	policy  policy.Policy
	clock   clockwork.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	rec     Recorder

	mu          sync.RWMutex
	decoder     Decoder[T]
	middlewares []Middleware[T]
}

// NewDispatcher creates a Dispatcher for handler using the platform settings in cfg.
func NewDispatcher[T any](handler Handler[T], cfg config.NexusConfig, opts ...Option) (*Dispatcher[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.policy == nil {
		o.policy = policy.StatusPolicy{}
	}
	if o.recorder == nil {
		o.recorder = noopRecorder{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.schemas == nil {
		o.schemas = jsonschema.NewRegistry()
	}
	if o.notifier == nil {
		o.notifier = NewDelayNotifier(NotifierConfigFrom(cfg), o.sender, o.logger)
	}

	return &Dispatcher[T]{
		handler: handler,
		auth:    NewAuthGate(cfg.APIKey),
		builder: NewResponseBuilder(cfg.EnableDelayNotification, cfg.ServiceWaitTimeout, cfg.DetachNotification, o.notifier, o.recorder, o.logger),
		schemas: o.schemas,
		policy:  o.policy,
		clock:   o.clock,
		logger:  o.logger,
		tracer:  o.tracer,
		rec:     o.recorder,
		decoder: JSONDecoder[T]{},
	}, nil
}

// Use appends middlewares. The first registered runs outermost.
func (d *Dispatcher[T]) Use(mw ...Middleware[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw...)
}

// SetDecoder replaces the payload decoder used by OnPayload. The default decodes JSON.
func (d *Dispatcher[T]) SetDecoder(dec Decoder[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decoder = dec
}

// RegisterSchema validates JSON payloads for queueName against schema in OnPayload.
func (d *Dispatcher[T]) RegisterSchema(queueName, schema string) error {
	return d.schemas.Register(queueName, schema)
}

// OnMessage dispatches an already decoded message. It always returns a response.
func (d *Dispatcher[T]) OnMessage(ctx context.Context, queueName string, headers Headers, message T) DispatcherResponse {
	if headers == nil {
		headers = NewHeaders()
	}
	timer := StartTimer(d.clock)
	ctx, span := d.startSpan(ctx, queueName)
	defer span.End()

	kind, inner := d.authenticate(headers)
	if kind == policy.FailNone {
		kind, inner = d.handle(ctx, queueName, headers, message)
	}
	return d.respond(ctx, span, timer, queueName, headers, kind, inner)
}

// OnPayload authenticates, validates and decodes raw before dispatching it.
// Authentication always runs first, so unauthenticated payloads are never parsed.
func (d *Dispatcher[T]) OnPayload(ctx context.Context, queueName string, headers Headers, contentType string, raw []byte) DispatcherResponse {
	if headers == nil {
		headers = NewHeaders()
	}
	timer := StartTimer(d.clock)
	ctx, span := d.startSpan(ctx, queueName)
	defer span.End()

	kind, inner := d.authenticate(headers)
	if kind == policy.FailNone {
		var msg T
		msg, kind, inner = d.decode(queueName, contentType, raw)
		if kind == policy.FailNone {
			kind, inner = d.handle(ctx, queueName, headers, msg)
		}
	}
	return d.respond(ctx, span, timer, queueName, headers, kind, inner)
}

// Close waits for detached delay notifications to finish or ctx to end.
func (d *Dispatcher[T]) Close(ctx context.Context) error {
	return d.builder.Wait(ctx)
}

func (d *Dispatcher[T]) startSpan(ctx context.Context, queueName string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "nexus.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("nexus.queue", queueName)))
}

func (d *Dispatcher[T]) authenticate(headers Headers) (policy.FailureKind, error) {
	if err := d.auth.Authenticate(headers); err != nil {
		return policy.FailUnauthorized, err
	}
	return policy.FailNone, nil
}

func (d *Dispatcher[T]) decode(queueName, contentType string, raw []byte) (T, policy.FailureKind, error) {
	var zero T
	if !IsProtobuf(contentType) && d.schemas.Has(queueName) {
		if err := d.schemas.Validate(queueName, raw); err != nil {
			return zero, policy.FailPayloadSchema, fmt.Errorf("%w: %w", ErrPayloadSchema, err)
		}
	}

	d.mu.RLock()
	dec := d.decoder
	d.mu.RUnlock()

	msg, err := dec.Decode(contentType, raw)
	if err != nil {
		return zero, policy.FailPayloadDecode, err
	}
	return msg, policy.FailNone, nil
}

// handle runs the middleware chain around the handler and classifies the outcome.
func (d *Dispatcher[T]) handle(ctx context.Context, queueName string, headers Headers, message T) (kind policy.FailureKind, inner error) {
	state := &DispatchState[T]{QueueName: queueName, Headers: headers, Message: message}

	defer func() {
		if r := recover(); r != nil {
			kind, inner = policy.FailHandlerPanic, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	if err := d.chain()(ctx, state); err != nil {
		return policy.FailMiddlewareError, err
	}
	switch {
	case state.panicked:
		return policy.FailHandlerPanic, state.HandlerErr
	case state.HandlerErr != nil:
		return policy.FailHandlerError, state.HandlerErr
	default:
		return policy.FailNone, nil
	}
}

func (d *Dispatcher[T]) chain() Step[T] {
	d.mu.RLock()
	mws := d.middlewares
	d.mu.RUnlock()

	step := Step[T](d.invoke)
	for i := len(mws) - 1; i >= 0; i-- {
		step = mws[i](step)
	}
	return step
}

// invoke is the innermost step. Handler failures are recorded on the state
// so they stay distinguishable from middleware errors.
func (d *Dispatcher[T]) invoke(ctx context.Context, s *DispatchState[T]) error {
	defer func() {
		if r := recover(); r != nil {
			s.HandlerErr = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			s.panicked = true
		}
	}()
	s.HandlerErr = d.handler.Handle(ctx, s.QueueName, s.Message)
	return nil
}

func (d *Dispatcher[T]) respond(ctx context.Context, span trace.Span, timer *Timer, queueName string, headers Headers, kind policy.FailureKind, inner error) DispatcherResponse {
	elapsed := timer.Stop()

	res := d.policy.Decide(ctx, kind, inner, policy.Result{Status: http.StatusOK})
	if res.Status == 0 {
		res.Status = http.StatusOK
	}
	if res.Cause != nil {
		headers.Add(HeaderCause, res.Cause.Error())
	}

	resp := d.builder.Build(ctx, queueName, elapsed, headers, res.Status)

	span.SetAttributes(
		attribute.Int("nexus.status", res.Status),
		attribute.String("nexus.outcome", kind.String()))
	if res.Cause != nil {
		span.RecordError(res.Cause)
		span.SetStatus(codes.Error, res.Cause.Error())
	}
	d.rec.ObserveDispatch(queueName, res.Status, kind.String(), elapsed)

	attrs := []any{
		slog.String("queue", queueName),
		slog.Int("status", res.Status),
		slog.String("outcome", kind.String()),
		slog.Duration("elapsed", elapsed),
	}
	if res.Cause != nil {
		d.logger.Warn("message dispatch failed", append(attrs, slog.String("cause", res.Cause.Error()))...)
	} else {
		d.logger.Debug("message dispatched", attrs...)
	}
	return resp
}
