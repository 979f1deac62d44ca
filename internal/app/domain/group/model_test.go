package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/pkg/ulid"
)

func TestNewGroup(t *testing.T) {
	owner := ulid.NewUserID()
	receivers := []ulid.EventReceiverID{ulid.NewEventReceiverID()}

	g, err := New("builders", "ci", "1.0.0", "build events", receivers, owner)
	require.NoError(t, err)

	assert.Equal(t, 1, g.ResourceVersion)
	assert.True(t, g.Enabled)
	assert.True(t, g.ContainsReceiver(receivers[0]))
	assert.False(t, g.ContainsReceiver(ulid.NewEventReceiverID()))
}

func TestNewGroupValidation(t *testing.T) {
	owner := ulid.NewUserID()

	_, err := New("", "ci", "1.0.0", "", nil, owner)
	assert.Error(t, err)

	_, err = New("builders", "ci", "1.0.0", "", []ulid.EventReceiverID{{}}, owner)
	assert.Error(t, err)

	_, err = New("builders", "ci", "1.0.0", "", nil, ulid.UserID{})
	assert.Error(t, err)
}

func TestUpdateBumpsVersion(t *testing.T) {
	g, err := New("builders", "ci", "1.0.0", "", nil, ulid.NewUserID())
	require.NoError(t, err)

	updatedAt := g.UpdatedAt
	newReceivers := []ulid.EventReceiverID{ulid.NewEventReceiverID()}
	require.NoError(t, g.Update("now with receivers", false, newReceivers))

	assert.Equal(t, 2, g.ResourceVersion)
	assert.False(t, g.Enabled)
	assert.True(t, g.ContainsReceiver(newReceivers[0]))
	assert.False(t, g.UpdatedAt.Before(updatedAt))

	require.NoError(t, g.Update("again", true, nil))
	assert.Equal(t, 3, g.ResourceVersion)
}
