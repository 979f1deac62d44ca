package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	doc := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)

	fp1, err := Fingerprint("foobar", "foo.bar", "1.1.3", doc)
	require.NoError(t, err)
	fp2, err := Fingerprint("foobar", "foo.bar", "1.1.3", doc)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.True(t, strings.HasPrefix(fp1, "sha256:"))
	assert.Len(t, strings.TrimPrefix(fp1, "sha256:"), 64)
}

func TestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	compact := json.RawMessage(`{"properties":{"name":{"type":"string"}},"type":"object"}`)
	spaced := json.RawMessage(`{
		"type": "object",
		"properties": { "name": { "type": "string" } }
	}`)

	fp1, err := Fingerprint("foobar", "foo.bar", "1.1.3", compact)
	require.NoError(t, err)
	fp2, err := Fingerprint("foobar", "foo.bar", "1.1.3", spaced)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
}

func TestFingerprintSensitiveToIdentityFields(t *testing.T) {
	doc := json.RawMessage(`{"type":"object"}`)
	base, err := Fingerprint("foobar", "foo.bar", "1.1.3", doc)
	require.NoError(t, err)

	cases := []struct {
		name, typ, version string
		schema             json.RawMessage
	}{
		{"other", "foo.bar", "1.1.3", doc},
		{"foobar", "foo.baz", "1.1.3", doc},
		{"foobar", "foo.bar", "1.1.4", doc},
		{"foobar", "foo.bar", "1.1.3", json.RawMessage(`{"type":"object","required":["name"]}`)},
	}
	for _, c := range cases {
		fp, err := Fingerprint(c.name, c.typ, c.version, c.schema)
		require.NoError(t, err)
		assert.NotEqual(t, base, fp)
	}
}

func TestFingerprintRejectsNonObjectSchema(t *testing.T) {
	_, err := Fingerprint("n", "t", "1", json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)

	_, err = Fingerprint("n", "t", "1", json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestCanonicalizeSchemaSortsKeys(t *testing.T) {
	canonical, err := CanonicalizeSchema(json.RawMessage(`{"b":1,"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(canonical))
}
