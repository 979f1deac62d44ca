package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func resourceV(version int) ResourceContext {
	return ResourceContext{ResourceType: "event_receiver", ResourceID: "01ABC", ResourceVersion: version}
}

func TestCacheHitAndMiss(t *testing.T) {
	cache := NewDecisionCache(time.Minute)

	_, ok := cache.Get("u1", ActionReceiverRead, resourceV(1))
	assert.False(t, ok)

	cache.Put("u1", ActionReceiverRead, resourceV(1), true)
	allow, ok := cache.Get("u1", ActionReceiverRead, resourceV(1))
	assert.True(t, ok)
	assert.True(t, allow)

	// Different user, action, or version is a different key.
	_, ok = cache.Get("u2", ActionReceiverRead, resourceV(1))
	assert.False(t, ok)
	_, ok = cache.Get("u1", ActionReceiverUpdate, resourceV(1))
	assert.False(t, ok)
	_, ok = cache.Get("u1", ActionReceiverRead, resourceV(2))
	assert.False(t, ok)
}

func TestVersionBumpInvalidatesImplicitly(t *testing.T) {
	cache := NewDecisionCache(time.Minute)
	cache.Put("u1", ActionReceiverUpdate, resourceV(5), true)

	// After an update the caller evaluates against version 6: a miss.
	_, ok := cache.Get("u1", ActionReceiverUpdate, resourceV(6))
	assert.False(t, ok)
}

func TestInvalidateResourcePurgesAllVersions(t *testing.T) {
	cache := NewDecisionCache(time.Minute)
	cache.Put("u1", ActionReceiverRead, resourceV(1), true)
	cache.Put("u2", ActionReceiverUpdate, resourceV(2), false)
	cache.Put("u1", ActionReceiverRead, ResourceContext{ResourceType: "event_receiver", ResourceID: "OTHER", ResourceVersion: 1}, true)

	cache.InvalidateResource("event_receiver", "01ABC")

	_, ok := cache.Get("u1", ActionReceiverRead, resourceV(1))
	assert.False(t, ok)
	_, ok = cache.Get("u2", ActionReceiverUpdate, resourceV(2))
	assert.False(t, ok)

	// Unrelated resources survive.
	_, ok = cache.Get("u1", ActionReceiverRead, ResourceContext{ResourceType: "event_receiver", ResourceID: "OTHER", ResourceVersion: 1})
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	cache := NewDecisionCache(10 * time.Millisecond)
	cache.Put("u1", ActionReceiverRead, resourceV(1), true)

	time.Sleep(15 * time.Millisecond)

	_, ok := cache.Get("u1", ActionReceiverRead, resourceV(1))
	assert.False(t, ok)

	cache.Sweep()
	assert.Equal(t, 0, cache.Len())
}
