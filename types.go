package nexusconsumer

import (
	"context"
	"time"
)

// DispatcherResponse is returned to the dispatch platform for every message.
// Info is a single valued snapshot of the request headers, including any
// cause or status added while processing.
type DispatcherResponse struct {
	Status int               `json:"status"`
	Info   map[string]string `json:"info"`
}

// Handler processes one decoded message. A returned *ServiceError reports its
// own status; any other error is reported as 400.
type Handler[T any] interface {
	Handle(ctx context.Context, queueName string, message T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, queueName string, message T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, queueName string, message T) error {
	return f(ctx, queueName, message)
}

// DispatchState carries one authenticated message through the middleware chain
// to the handler. HandlerErr is filled in by the handler stage; an error
// returned by a Step is treated as a middleware failure instead.
type DispatchState[T any] struct {
	QueueName  string
	Headers    Headers
	Message    T
	HandlerErr error

	panicked bool
}

// Step is the function signature wrapped by middlewares.
type Step[T any] func(ctx context.Context, state *DispatchState[T]) error

// Middleware composes cross-cutting concerns around the handler stage.
// Typical use cases: correlation ids, logging, enrichment of the headers.
type Middleware[T any] func(next Step[T]) Step[T]

// Endpoint accepts undecoded payloads for a queue. *Dispatcher and *QueueMux
// implement it; the HTTP and SQS ingresses depend only on this interface.
type Endpoint interface {
	OnPayload(ctx context.Context, queueName string, headers Headers, contentType string, raw []byte) DispatcherResponse
}

// Recorder receives dispatch measurements. metrics.Collector implements it.
type Recorder interface {
	ObserveDispatch(queueName string, status int, outcome string, elapsed time.Duration)
	ObserveLate(queueName string)
	ObserveNotify(queueName string, result string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDispatch(string, int, string, time.Duration) {}
func (noopRecorder) ObserveLate(string)                                 {}
func (noopRecorder) ObserveNotify(string, string)                       {}
