package schema

import (
	"encoding/json"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Cache caches compiled JSON Schemas by receiver fingerprint to avoid
// recompiling on every event.
type Cache struct {
	mu       sync.RWMutex
	compiled map[string]*gojsonschema.Schema
}

// NewCache creates an empty schema cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[string]*gojsonschema.Schema)}
}

func (c *Cache) get(key string) (*gojsonschema.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.compiled[key]
	return s, ok
}

func (c *Cache) put(key string, s *gojsonschema.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compiled[key] = s
}

// Validate checks payload against schemaDoc. The key (typically the receiver
// fingerprint) indexes the compiled-schema cache; pass "" to skip caching.
// Violations are reported with the offending field pointer and a summary of
// what was expected.
func (c *Cache) Validate(key string, schemaDoc, payload json.RawMessage) error {
	var compiled *gojsonschema.Schema
	if key != "" {
		if s, ok := c.get(key); ok {
			compiled = s
		}
	}
	if compiled == nil {
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDoc))
		if err != nil {
			return errors.InvalidInput("schema", err.Error())
		}
		compiled = s
		if key != "" {
			c.put(key, compiled)
		}
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return errors.InvalidInput("payload", err.Error())
	}
	if result.Valid() {
		return nil
	}

	violations := make([]map[string]interface{}, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, map[string]interface{}{
			"field":       desc.Field(),
			"type":        desc.Type(),
			"description": desc.Description(),
		})
	}
	return errors.SchemaValidationFailed(violations)
}

// Validate is the uncached convenience form.
func Validate(schemaDoc, payload json.RawMessage) error {
	return NewCache().Validate("", schemaDoc, payload)
}
