// Package jsonschema keeps compiled JSON schemas keyed by queue name so
// inbound payloads can be checked before they are decoded.
package jsonschema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Registry holds one compiled schema per queue. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles schema and binds it to queueName, replacing any previous one.
func (r *Registry) Register(queueName, schema string) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("%w for queue %s: %w", ErrInvalidSchema, queueName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[queueName] = compiled
	return nil
}

// Has reports whether a schema is registered for queueName.
func (r *Registry) Has(queueName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[queueName]
	return ok
}

// Validate checks doc against the schema registered for queueName.
// Queues without a schema always pass.
func (r *Registry) Validate(queueName string, doc []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[queueName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	return FormatErrors(result, err)
}

// FormatErrors turns a gojsonschema result into a single error, or nil when valid.
func FormatErrors(result *gojsonschema.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidationSystem, err)
	}
	if result.Valid() {
		return nil
	}

	var b strings.Builder
	for _, desc := range result.Errors() {
		fmt.Fprintf(&b, "- %s; ", desc)
	}
	return fmt.Errorf("%w: %s", ErrSchemaValidationFailed, b.String())
}
