package nexusconsumer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// QueueMux routes payloads to the Endpoint registered for their queue name.
// Patterns are an exact queue name, a prefix ending in "*", or "*" alone as
// the fallback. Exact names win over prefixes and the longest prefix wins.
type QueueMux struct {
	mu       sync.RWMutex
	exact    map[string]Endpoint
	prefixes map[string]Endpoint
	fallback Endpoint
	auth     *AuthGate
}

// NewQueueMux returns an empty mux.
func NewQueueMux() *QueueMux {
	return &QueueMux{
		exact:    make(map[string]Endpoint),
		prefixes: make(map[string]Endpoint),
	}
}

// Handle registers ep for pattern, replacing any previous registration.
// It panics if pattern is empty or ep is nil.
func (m *QueueMux) Handle(pattern string, ep Endpoint) {
	if pattern == "" {
		panic("nexusconsumer: empty queue pattern")
	}
	if ep == nil {
		panic("nexusconsumer: nil endpoint for " + pattern)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case pattern == "*":
		m.fallback = ep
	case strings.HasSuffix(pattern, "*"):
		m.prefixes[strings.TrimSuffix(pattern, "*")] = ep
	default:
		m.exact[pattern] = ep
	}
}

// RequireAPIKey makes unknown queues answer 401 instead of 404 unless the
// caller presents apiKey, so queue names are not revealed to unauthenticated callers.
func (m *QueueMux) RequireAPIKey(apiKey string) {
	gate := NewAuthGate(apiKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = &gate
}

// Lookup returns the endpoint for queueName.
func (m *QueueMux) Lookup(queueName string) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ep, ok := m.exact[queueName]; ok {
		return ep, true
	}
	best := -1
	var match Endpoint
	for prefix, ep := range m.prefixes {
		if strings.HasPrefix(queueName, prefix) && len(prefix) > best {
			best, match = len(prefix), ep
		}
	}
	if match != nil {
		return match, true
	}
	if m.fallback != nil {
		return m.fallback, true
	}
	return nil, false
}

// Patterns lists the registered patterns in sorted order.
func (m *QueueMux) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.exact)+len(m.prefixes)+1)
	for name := range m.exact {
		out = append(out, name)
	}
	for prefix := range m.prefixes {
		out = append(out, prefix+"*")
	}
	if m.fallback != nil {
		out = append(out, "*")
	}
	sort.Strings(out)
	return out
}

// OnPayload forwards to the matching endpoint. Unknown queues get a 404
// response with the reason under "cause", or a 401 when RequireAPIKey is set
// and the caller is not authenticated.
func (m *QueueMux) OnPayload(ctx context.Context, queueName string, headers Headers, contentType string, raw []byte) DispatcherResponse {
	ep, ok := m.Lookup(queueName)
	if ok {
		return ep.OnPayload(ctx, queueName, headers, contentType, raw)
	}

	if headers == nil {
		headers = NewHeaders()
	}
	m.mu.RLock()
	auth := m.auth
	m.mu.RUnlock()
	if auth != nil {
		if err := auth.Authenticate(headers); err != nil {
			headers.Add(HeaderCause, err.Error())
			return DispatcherResponse{Status: http.StatusUnauthorized, Info: headers.Flatten()}
		}
	}
	headers.Add(HeaderCause, fmt.Sprintf("%s: %s", ErrNoConsumer, queueName))
	return DispatcherResponse{Status: http.StatusNotFound, Info: headers.Flatten()}
}
