package ledgerkit

import (
	"encoding/json"
	"reflect"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts an event to bytes.
	Serialize(event interface{}) ([]byte, error)

	// Deserialize converts bytes back to an event.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (interface{}, error)
}

// EventRegistry maps event type names to Go types.
// It is used by serializers to deserialize events to the correct type.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventRegistry creates a new empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types: make(map[string]reflect.Type),
	}
}

// Register adds a mapping from eventType to the Go type of the example.
// The example may be a value or a pointer; the element type is stored.
func (r *EventRegistry) Register(eventType string, example interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := reflect.TypeOf(example)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.types[eventType] = t
}

// Lookup returns the Go type registered for an event type name.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventType]
	return t, ok
}

// Types returns the names of all registered event types.
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// GetEventType returns the type name for an event payload: the name
// registered for its type, or the bare struct name if unregistered.
func (r *EventRegistry) GetEventType(event interface{}) string {
	t := reflect.TypeOf(event)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, registered := range r.types {
		if registered == t {
			return name
		}
	}
	return t.Name()
}

// JSONSerializer serializes events as JSON, using an EventRegistry to
// resolve event types during deserialization.
type JSONSerializer struct {
	registry *EventRegistry
}

// NewJSONSerializer creates a JSONSerializer backed by the given registry.
func NewJSONSerializer(registry *EventRegistry) *JSONSerializer {
	return &JSONSerializer{registry: registry}
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event interface{}) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewSerializationError(s.registry.GetEventType(event), "serialize", err)
	}
	return data, nil
}

// Deserialize converts JSON bytes back to a pointer to the registered type.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (interface{}, error) {
	t, ok := s.registry.Lookup(eventType)
	if !ok {
		return nil, NewEventTypeNotRegisteredError(eventType)
	}

	value := reflect.New(t).Interface()
	if err := json.Unmarshal(data, value); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}
	return value, nil
}

var _ Serializer = (*JSONSerializer)(nil)
