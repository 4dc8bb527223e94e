package policy

import "context"

// FailureKind enumerates where in the dispatch pipeline a failure occurred.
type FailureKind int

const (
	// FailNone indicates no failure occurred.
	FailNone FailureKind = iota
	// FailUnauthorized indicates the private api key header was missing or did not match.
	FailUnauthorized
	// FailPayloadDecode indicates the raw payload could not be decoded into the consumer's message type.
	FailPayloadDecode
	// FailPayloadSchema indicates the raw payload failed the schema registered for its queue.
	FailPayloadSchema
	// FailHandlerError indicates the consumer handler returned a non-nil error.
	FailHandlerError
	// FailHandlerPanic indicates a panic inside the handler or the middleware chain.
	FailHandlerPanic
	// FailMiddlewareError indicates an error returned by middleware rather than by the handler.
	FailMiddlewareError
)

func (k FailureKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailUnauthorized:
		return "unauthorized"
	case FailPayloadDecode:
		return "payload_decode"
	case FailPayloadSchema:
		return "payload_schema"
	case FailHandlerError:
		return "handler_error"
	case FailHandlerPanic:
		return "handler_panic"
	case FailMiddlewareError:
		return "middleware_error"
	default:
		return "unknown"
	}
}

// Result is the resolved response status and the failure recorded as cause.
type Result struct {
	Status int
	Cause  error
}

// StatusCoder is implemented by errors that carry their own response status.
type StatusCoder interface {
	StatusCode() int
}

// Policy decides the final Result given a failure classification and the current decision.
type Policy interface {
	Decide(ctx context.Context, kind FailureKind, inner error, current Result) Result
}
