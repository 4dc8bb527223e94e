package nexusconsumer

import (
	"errors"
	"net/http"
)

var (
	ErrMissingAPIKey     = errors.New("missing private api key in request")
	ErrInvalidAPIKey     = errors.New("invalid private api key in request")
	ErrInvalidPayload    = errors.New("invalid message payload")
	ErrPayloadSchema     = errors.New("message payload failed schema validation")
	ErrNotifyRateLimited = errors.New("delay notification rate limited")
	ErrNilHandler        = errors.New("handler cannot be nil")
	ErrNoConsumer        = errors.New("no consumer registered for queue")
	ErrHandlerPanic      = errors.New("handler panic")
)

// AuthError is returned when the caller did not present the private api key.
// It always resolves to 401 and matches ErrMissingAPIKey or ErrInvalidAPIKey.
// Message is the text reported to the platform under "cause".
type AuthError struct {
	Err     error
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error   { return e.Err }
func (e *AuthError) StatusCode() int { return http.StatusUnauthorized }

// ServiceError is a handler failure carrying the status to report.
// Any other handler error is unclassified and reported as 400.
type ServiceError struct {
	Code    int
	Message string
	Err     error
}

// NewServiceError returns a ServiceError with the given status and message.
func NewServiceError(code int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// WrapServiceError attaches a status to err.
func WrapServiceError(code int, err error) *ServiceError {
	return &ServiceError{Code: code, Err: err}
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return http.StatusText(e.Code)
	}
}

func (e *ServiceError) Unwrap() error   { return e.Err }
func (e *ServiceError) StatusCode() int { return e.Code }

// IsErrorStatus reports whether status is a client or server error.
func IsErrorStatus(status int) bool {
	return status >= http.StatusBadRequest
}
