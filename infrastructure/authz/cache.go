package authz

import (
	"fmt"
	"sync"
	"time"
)

// DecisionCache memoizes authorization outcomes. The key includes the
// resource version, so any update to a resource silently invalidates every
// decision cached for the previous version; InvalidateResource exists to
// free those entries sooner. Only the decision boolean is stored.
type DecisionCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	// byResource indexes keys per (resource_type, resource_id) so explicit
	// invalidation does not scan the whole cache.
	byResource map[string][]string
}

type cacheEntry struct {
	allow     bool
	expiresAt time.Time
}

// NewDecisionCache creates a cache with the given TTL (default 5 minutes).
func NewDecisionCache(ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DecisionCache{
		ttl:        ttl,
		entries:    make(map[string]cacheEntry),
		byResource: make(map[string][]string),
	}
}

func cacheKey(userID string, action Action, resourceType, resourceID string, resourceVersion int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", userID, action, resourceType, resourceID, resourceVersion)
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "|" + resourceID
}

// Get returns the cached decision, if present and fresh.
func (c *DecisionCache) Get(userID string, action Action, resource ResourceContext) (allow, ok bool) {
	key := cacheKey(userID, action, resource.ResourceType, resource.ResourceID, resource.ResourceVersion)
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()
	if !found || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allow, true
}

// Put stores a decision.
func (c *DecisionCache) Put(userID string, action Action, resource ResourceContext, allow bool) {
	key := cacheKey(userID, action, resource.ResourceType, resource.ResourceID, resource.ResourceVersion)
	rkey := resourceKey(resource.ResourceType, resource.ResourceID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{allow: allow, expiresAt: time.Now().Add(c.ttl)}
	c.byResource[rkey] = append(c.byResource[rkey], key)
}

// InvalidateResource drops every decision cached for the resource, across
// all users, actions, and versions.
func (c *DecisionCache) InvalidateResource(resourceType, resourceID string) {
	rkey := resourceKey(resourceType, resourceID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.byResource[rkey] {
		delete(c.entries, key)
	}
	delete(c.byResource, rkey)
}

// Sweep removes expired entries; call it periodically to bound memory.
func (c *DecisionCache) Sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	for rkey, keys := range c.byResource {
		kept := keys[:0]
		for _, key := range keys {
			if _, ok := c.entries[key]; ok {
				kept = append(kept, key)
			}
		}
		if len(kept) == 0 {
			delete(c.byResource, rkey)
		} else {
			c.byResource[rkey] = kept
		}
	}
}

// Len returns the number of cached decisions.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
