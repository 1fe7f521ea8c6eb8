package document

import (
	"encoding/json"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// SchemaRegistry validates a document's materialized view against a named
// JSON Schema, adapted from the teacher's internal/schema/validator.go
// (entryType-keyed schemas generalized to document-type-keyed schemas).
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaRegistry returns an empty SchemaRegistry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles and stores definition under docType.
func (r *SchemaRegistry) Register(docType string, definition []byte) error {
	loader := gojsonschema.NewBytesLoader(definition)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return errkind.Wrap(errkind.InvalidInput, "invalid schema for "+docType, err)
	}
	r.mu.Lock()
	r.schemas[docType] = compiled
	r.mu.Unlock()
	return nil
}

// Unregister removes docType's schema, if any.
func (r *SchemaRegistry) Unregister(docType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, docType)
}

// Validate checks view against docType's registered schema. A docType with
// no registered schema always passes.
func (r *SchemaRegistry) Validate(docType string, view map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[docType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	content, err := json.Marshal(view)
	if err != nil {
		return errkind.Wrap(errkind.InvalidInput, "marshal document for validation", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return errkind.Wrap(errkind.InvalidInput, "schema validation error", err)
	}
	if result.Valid() {
		return nil
	}
	msg := "document does not satisfy schema for " + docType
	if errs := result.Errors(); len(errs) > 0 {
		msg = errs[0].Field() + ": " + errs[0].Description()
	}
	return errkind.New(errkind.InvalidInput, msg)
}
