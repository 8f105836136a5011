package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/redis/go-redis/v9"
)

// PresenceStore keeps (workspace, user) -> status with a TTL. A missing
// entry is offline.
type PresenceStore interface {
	Set(ctx context.Context, workspaceID, userID uuid.UUID, status models.PresenceStatus, ttl time.Duration) error

	// Refresh extends the TTL of an existing entry and reports whether one
	// existed. It never creates an entry.
	Refresh(ctx context.Context, workspaceID, userID uuid.UUID, ttl time.Duration) (bool, error)

	Delete(ctx context.Context, workspaceID, userID uuid.UUID) error

	// GetMany returns a status for every requested id, offline when absent.
	GetMany(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error)
}

type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) Set(ctx context.Context, workspaceID, userID uuid.UUID, status models.PresenceStatus, ttl time.Duration) error {
	if err := p.rdb.Set(ctx, PresenceKey(workspaceID, userID), string(status), ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Refresh(ctx context.Context, workspaceID, userID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := p.rdb.Expire(ctx, PresenceKey(workspaceID, userID), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("refresh presence: %w", err)
	}
	return ok, nil
}

func (p *RedisPresence) Delete(ctx context.Context, workspaceID, userID uuid.UUID) error {
	if err := p.rdb.Del(ctx, PresenceKey(workspaceID, userID)).Err(); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) GetMany(ctx context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error) {
	out := make(map[uuid.UUID]models.PresenceStatus, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = PresenceKey(workspaceID, id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	for i, id := range userIDs {
		out[id] = models.PresenceOffline
		if s, ok := vals[i].(string); ok && s != "" {
			out[id] = models.PresenceStatus(s)
		}
	}
	return out, nil
}

type presenceEntry struct {
	status    models.PresenceStatus
	expiresAt time.Time
}

// MemoryPresence is the single-instance fallback. Expiry is checked lazily
// on read against the injected clock. Entries nobody reads again are only
// dropped by Prune.
type MemoryPresence struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]presenceEntry
}

func NewMemoryPresence(now func() time.Time) *MemoryPresence {
	if now == nil {
		now = time.Now
	}
	return &MemoryPresence{now: now, entries: make(map[string]presenceEntry)}
}

func (p *MemoryPresence) Set(_ context.Context, workspaceID, userID uuid.UUID, status models.PresenceStatus, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[PresenceKey(workspaceID, userID)] = presenceEntry{status: status, expiresAt: p.now().Add(ttl)}
	return nil
}

func (p *MemoryPresence) Refresh(_ context.Context, workspaceID, userID uuid.UUID, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := PresenceKey(workspaceID, userID)
	e, ok := p.liveLocked(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = p.now().Add(ttl)
	p.entries[key] = e
	return true, nil
}

func (p *MemoryPresence) Delete(_ context.Context, workspaceID, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, PresenceKey(workspaceID, userID))
	return nil
}

func (p *MemoryPresence) GetMany(_ context.Context, workspaceID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]models.PresenceStatus, len(userIDs))
	for _, id := range userIDs {
		out[id] = models.PresenceOffline
		if e, ok := p.liveLocked(PresenceKey(workspaceID, id)); ok {
			out[id] = e.status
		}
	}
	return out, nil
}

func (p *MemoryPresence) liveLocked(key string) (presenceEntry, bool) {
	e, ok := p.entries[key]
	if !ok {
		return presenceEntry{}, false
	}
	if !p.now().Before(e.expiresAt) {
		delete(p.entries, key)
		return presenceEntry{}, false
	}
	return e, true
}

// Prune drops expired entries and reports how many went.
func (p *MemoryPresence) Prune() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, e := range p.entries {
		if !now.Before(e.expiresAt) {
			delete(p.entries, key)
			removed++
		}
	}
	return removed
}

// Run prunes on every tick until ctx is done.
func (p *MemoryPresence) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}
