package events

import (
	"fmt"
	"sync"

	"github.com/R3E-Network/service_layer/infrastructure/errors"
)

// Registry holds the registered schema for every event kind this process
// can publish. Registration happens once at startup; lookups are
// read-mostly, so a RWMutex would be overkill for the expected call volume
// and a plain mutex keeps the code simple. Build one with NewRegistry: the
// zero value has a nil map, so Register on it panics.
type Registry struct {
	mu      sync.Mutex
	schemas map[string]Schema
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register adds or replaces the schema for kind.
func (r *Registry) Register(schema Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Kind] = schema
}

func (r *Registry) lookup(kind string) (Schema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemas[kind]
	return s, ok
}

// Validate checks payload against kind's registered schema: every required
// field must be present with the declared type, and no schema for kind at
// all is itself an error — an event kind must be registered before anyone
// can publish it.
func (r *Registry) Validate(kind string, payload map[string]interface{}) error {
	schema, ok := r.lookup(kind)
	if !ok {
		return errors.InvalidInput("kind", fmt.Sprintf("event kind %q is not registered", kind))
	}

	for _, f := range schema.Fields {
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				return errors.InvalidInput(f.Name, "required field is missing")
			}
			continue
		}
		if !matchesType(v, f.Type) {
			return errors.InvalidInput(f.Name, fmt.Sprintf("expected type %s", f.Type))
		}
	}
	return nil
}

func matchesType(v interface{}, t FieldType) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		default:
			return false
		}
	case FieldFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		default:
			return false
		}
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return false
	}
}
