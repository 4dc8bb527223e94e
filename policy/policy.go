package policy

import (
	"context"
	"errors"
	"net/http"
)

// StatusPolicy resolves failures the way the dispatch platform expects:
// authentication failures are 401, errors carrying a status keep it, and
// everything else is a 400.
type StatusPolicy struct{}

// Decide implements StatusPolicy behavior.
func (StatusPolicy) Decide(_ context.Context, kind FailureKind, inner error, current Result) Result {
	return decide(kind, inner, current, http.StatusBadRequest)
}

// ServerErrorPolicy is StatusPolicy with unclassified handler failures and
// panics reported as 500, so queue based ingress leaves them for redelivery.
type ServerErrorPolicy struct{}

// Decide implements ServerErrorPolicy behavior.
func (ServerErrorPolicy) Decide(_ context.Context, kind FailureKind, inner error, current Result) Result {
	return decide(kind, inner, current, http.StatusInternalServerError)
}

func decide(kind FailureKind, inner error, current Result, unclassified int) Result {
	switch kind {
	case FailNone:
		return current
	case FailUnauthorized:
		current.Status = http.StatusUnauthorized
	case FailPayloadDecode, FailPayloadSchema:
		current.Status = http.StatusBadRequest
	case FailHandlerError, FailMiddlewareError, FailHandlerPanic:
		current.Status = StatusOf(inner, unclassified)
	default:
		current.Status = unclassified
	}
	if inner != nil && current.Cause == nil {
		current.Cause = inner
	}
	return current
}

// StatusOf returns the status carried by err, or fallback when err carries none.
func StatusOf(err error, fallback int) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code > 0 {
			return code
		}
	}
	return fallback
}
