package nexusconsumer

import (
	"net/http"
	"strings"
)

// Header names and status markers exchanged with the dispatch platform.
const (
	HeaderAPIKey    = "x-api-key"
	HeaderCause     = "cause"
	HeaderStatus    = "status"
	HeaderQueueName = "queue_name"
	HeaderMessageID = "message_id"

	Success = "SUCCESS"
	Failure = "FAILURE"

	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Headers is the per-message request context: trace and correlation
// metadata received with a message and echoed back in the response.
// Names match case-insensitively and keep the case they were first added with.
// A Headers value belongs to a single dispatch and is not safe for concurrent use.
type Headers map[string][]string

// NewHeaders returns an empty Headers.
func NewHeaders() Headers {
	return make(Headers)
}

// HeadersFromHTTP copies an http.Header.
func HeadersFromHTTP(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

// HeadersFromMap copies single valued metadata such as queue message attributes.
func HeadersFromMap(m map[string]string) Headers {
	out := make(Headers, len(m))
	for name, v := range m {
		out.Add(name, v)
	}
	return out
}

func (h Headers) lookup(name string) (string, bool) {
	if _, ok := h[name]; ok {
		return name, true
	}
	for k := range h {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

// Has reports whether name is present, even with no values.
func (h Headers) Has(name string) bool {
	_, ok := h.lookup(name)
	return ok
}

// Get returns the most recently added value for name, or "".
func (h Headers) Get(name string) string {
	k, ok := h.lookup(name)
	if !ok {
		return ""
	}
	values := h[k]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// Values returns every value recorded for name.
func (h Headers) Values(name string) []string {
	k, ok := h.lookup(name)
	if !ok {
		return nil
	}
	return h[k]
}

// Add appends value to name.
func (h Headers) Add(name, value string) {
	if k, ok := h.lookup(name); ok {
		h[k] = append(h[k], value)
		return
	}
	h[name] = []string{value}
}

// Set replaces every value of name.
func (h Headers) Set(name, value string) {
	if k, ok := h.lookup(name); ok {
		h[k] = []string{value}
		return
	}
	h[name] = []string{value}
}

// Del removes name.
func (h Headers) Del(name string) {
	if k, ok := h.lookup(name); ok {
		delete(h, k)
	}
}

// Flatten returns a single valued snapshot, keeping the last value of each name.
func (h Headers) Flatten() map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		if len(values) == 0 {
			out[k] = ""
			continue
		}
		out[k] = values[len(values)-1]
	}
	return out
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
