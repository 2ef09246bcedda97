package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryPresenceCache is the single-process PresenceCache used when no Redis
// is configured.
type MemoryPresenceCache struct {
	mu     sync.RWMutex
	online map[string]bool
	active map[string]string
}

func NewMemoryPresenceCache() *MemoryPresenceCache {
	return &MemoryPresenceCache{
		online: make(map[string]bool),
		active: make(map[string]string),
	}
}

func (c *MemoryPresenceCache) SetOnline(ctx context.Context, providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[providerID] = true
	return nil
}

func (c *MemoryPresenceCache) SetOffline(ctx context.Context, providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, providerID)
	return nil
}

func (c *MemoryPresenceCache) IsOnline(ctx context.Context, providerID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online[providerID], nil
}

func (c *MemoryPresenceCache) OnlineProviders(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (c *MemoryPresenceCache) SetUserActiveRide(ctx context.Context, userID, rideID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[userID] = rideID
	return nil
}

func (c *MemoryPresenceCache) GetUserActiveRide(ctx context.Context, userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[userID], nil
}

func (c *MemoryPresenceCache) ClearUserActiveRide(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, userID)
	return nil
}
