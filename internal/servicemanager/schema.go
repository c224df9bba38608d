package servicemanager

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/agentrt/internal/memory/backend"
)

// Dependencies carries process-wide resources that service factories need
// but the built-in service manager itself does not own.
type Dependencies struct {
	MemoryBackend backend.Backend
}

var (
	reflector = &jsonschema.Reflector{
		FieldNameTag:   "json",
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schemaCache   = map[string]json.RawMessage{}
	schemaCacheMu sync.Mutex
)

// reflectSchema generates a JSON Schema for a tool's parameter struct,
// caching by Go type name since the shape never changes at runtime.
func reflectSchema(key string, v any) json.RawMessage {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if cached, ok := schemaCache[key]; ok {
		return cached
	}
	schema := reflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	schemaCache[key] = raw
	return raw
}
