package nexusconsumer

import (
	"context"

	"github.com/hatsunemiku3939/nexusconsumer/internal/ids"
)

// MessageID assigns a ULID under "message_id" when the sender did not supply one.
func MessageID[T any]() Middleware[T] {
	return func(next Step[T]) Step[T] {
		return func(ctx context.Context, s *DispatchState[T]) error {
			if s.Headers.Get(HeaderMessageID) == "" {
				s.Headers.Set(HeaderMessageID, ids.NewMessageID())
			}
			return next(ctx, s)
		}
	}
}

// QueueName records the queue under "queue_name" when absent.
func QueueName[T any]() Middleware[T] {
	return func(next Step[T]) Step[T] {
		return func(ctx context.Context, s *DispatchState[T]) error {
			if !s.Headers.Has(HeaderQueueName) {
				s.Headers.Set(HeaderQueueName, s.QueueName)
			}
			return next(ctx, s)
		}
	}
}
