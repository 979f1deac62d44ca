package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

var nameSchema = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

func TestValidateAccepts(t *testing.T) {
	err := Validate(nameSchema, json.RawMessage(`{"name":"joe"}`))
	assert.NoError(t, err)
}

func TestValidateRejectsWrongType(t *testing.T) {
	err := Validate(nameSchema, json.RawMessage(`{"name":42}`))
	require.Error(t, err)

	serviceErr := errors.GetServiceError(err)
	require.NotNil(t, serviceErr)
	assert.Equal(t, errors.KindBadRequest, serviceErr.Kind)

	violations, ok := serviceErr.Details["violations"].([]map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, violations)
	assert.Equal(t, "name", violations[0]["field"])
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	err := Validate(nameSchema, json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestCacheReusesCompiledSchema(t *testing.T) {
	cache := NewCache()

	require.NoError(t, cache.Validate("fp1", nameSchema, json.RawMessage(`{"name":"a"}`)))
	cache.mu.RLock()
	_, compiled := cache.compiled["fp1"]
	cache.mu.RUnlock()
	assert.True(t, compiled)

	// Second call goes through the cached schema.
	require.NoError(t, cache.Validate("fp1", nameSchema, json.RawMessage(`{"name":"b"}`)))
	assert.Error(t, cache.Validate("fp1", nameSchema, json.RawMessage(`{"name":1}`)))
}

func TestValidateRejectsBrokenSchema(t *testing.T) {
	err := Validate(json.RawMessage(`{"type": 12}`), json.RawMessage(`{}`))
	assert.Error(t, err)
}
