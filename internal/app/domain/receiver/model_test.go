package receiver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/pkg/ulid"
)

var schemaDoc = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)

func TestNewReceiver(t *testing.T) {
	owner := ulid.NewUserID()
	r, err := New("foobar", "foo.bar", "1.1.3", "a receiver", schemaDoc, owner)
	require.NoError(t, err)

	assert.Equal(t, 1, r.ResourceVersion)
	assert.Equal(t, owner, r.OwnerID)
	assert.NotEmpty(t, r.Fingerprint)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestNewReceiverValidation(t *testing.T) {
	owner := ulid.NewUserID()

	cases := []struct {
		name, typ, version string
		schema             json.RawMessage
		owner              ulid.UserID
	}{
		{"", "foo.bar", "1.1.3", schemaDoc, owner},
		{"foobar", "", "1.1.3", schemaDoc, owner},
		{"foobar", "foo.bar", "", schemaDoc, owner},
		{"foobar", "foo.bar", "1.1.3", json.RawMessage(`"scalar"`), owner},
		{"foobar", "foo.bar", "1.1.3", schemaDoc, ulid.UserID{}},
	}
	for _, c := range cases {
		if _, err := New(c.name, c.typ, c.version, "", c.schema, c.owner); err == nil {
			t.Errorf("New(%q, %q, %q) succeeded, want error", c.name, c.typ, c.version)
		}
	}
}

func TestUpdateDescriptionKeepsFingerprint(t *testing.T) {
	r, err := New("foobar", "foo.bar", "1.1.3", "before", schemaDoc, ulid.NewUserID())
	require.NoError(t, err)

	fingerprint := r.Fingerprint
	r.UpdateDescription("after")

	assert.Equal(t, 2, r.ResourceVersion)
	assert.Equal(t, fingerprint, r.Fingerprint)
	assert.Equal(t, "after", r.Description)
}

func TestIdenticalTuplesShareFingerprint(t *testing.T) {
	r1, err := New("foobar", "foo.bar", "1.1.3", "one", schemaDoc, ulid.NewUserID())
	require.NoError(t, err)
	r2, err := New("foobar", "foo.bar", "1.1.3", "two", schemaDoc, ulid.NewUserID())
	require.NoError(t, err)

	assert.Equal(t, r1.Fingerprint, r2.Fingerprint)
	assert.NotEqual(t, r1.ID, r2.ID)
}
