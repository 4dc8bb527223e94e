package nexusconsumer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ResponseBuilder shapes the DispatcherResponse and, when delay notification
// is enabled and the dispatch ran past the wait window, notifies the platform.
type ResponseBuilder struct {
	notifyEnabled      bool
	waitTimeoutSeconds int
	detach             bool

	notifier Notifier
	recorder Recorder
	logger   *slog.Logger

	inflight sync.WaitGroup
}

// NewResponseBuilder returns a builder. waitTimeoutSeconds is compared
// against elapsed milliseconds, so a response is late only strictly past it.
func NewResponseBuilder(notifyEnabled bool, waitTimeoutSeconds int, detach bool, notifier Notifier, recorder Recorder, logger *slog.Logger) *ResponseBuilder {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseBuilder{
		notifyEnabled:      notifyEnabled,
		waitTimeoutSeconds: waitTimeoutSeconds,
		detach:             detach,
		notifier:           notifier,
		recorder:           recorder,
		logger:             logger,
	}
}

// IsLate reports whether elapsed exceeds the wait window.
func (b *ResponseBuilder) IsLate(elapsed time.Duration) bool {
	return elapsed.Milliseconds() > int64(b.waitTimeoutSeconds)*1000
}

// Build returns the response for status. Late responses add the SUCCESS or
// FAILURE marker to headers under "status" before notifying; the notification
// outcome never changes the response.
func (b *ResponseBuilder) Build(ctx context.Context, queueName string, elapsed time.Duration, headers Headers, status int) DispatcherResponse {
	if headers == nil {
		headers = NewHeaders()
	}

	marker := Success
	if IsErrorStatus(status) {
		marker = Failure
	}

	if b.notifyEnabled && b.notifier != nil && b.IsLate(elapsed) {
		headers.Add(HeaderStatus, marker)
		b.recorder.ObserveLate(queueName)
		b.logger.Info("response exceeded service wait timeout",
			slog.String("queue", queueName),
			slog.Duration("elapsed", elapsed),
			slog.Int("wait_timeout_seconds", b.waitTimeoutSeconds),
			slog.String("status", marker))

		if b.detach {
			snapshot := headers.Clone()
			detached := context.WithoutCancel(ctx)
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				b.notify(detached, queueName, snapshot)
			}()
		} else {
			b.notify(ctx, queueName, headers)
		}
	}

	return DispatcherResponse{
		Status: status,
		Info:   headers.Flatten(),
	}
}

func (b *ResponseBuilder) notify(ctx context.Context, queueName string, headers Headers) {
	res := b.notifier.NotifyOnDelay(ctx, queueName, headers)
	b.recorder.ObserveNotify(queueName, notifyResultLabel(res))
}

// Wait blocks until detached notifications finish or ctx is done.
func (b *ResponseBuilder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
