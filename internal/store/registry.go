package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolRegistry is an explicit, injected registry of tenant database
// connection pools keyed by organization id. Lifecycle commands evict an
// org's handle on suspension, archival and deletion instead of relying
// on process memory discarding it.
type PoolRegistry struct {
	mutex sync.Mutex
	pools map[uuid.UUID]*pgxpool.Pool
}

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{pools: make(map[uuid.UUID]*pgxpool.Pool)}
}

// Get returns the pool for an organization, creating it from dsn on
// first use.
func (r *PoolRegistry) Get(ctx context.Context, orgID uuid.UUID, dsn string) (*pgxpool.Pool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if pool, exists := r.pools[orgID]; exists {
		return pool, nil
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse tenant DSN for org %s: %w", orgID, err)
	}
	config.MaxConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create tenant pool for org %s: %w", orgID, err)
	}

	r.pools[orgID] = pool
	return pool, nil
}

// Evict closes and removes the pool for an organization, if present.
func (r *PoolRegistry) Evict(orgID uuid.UUID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if pool, exists := r.pools[orgID]; exists {
		pool.Close()
		delete(r.pools, orgID)
	}
}

// Close evicts every registered pool.
func (r *PoolRegistry) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for orgID, pool := range r.pools {
		pool.Close()
		delete(r.pools, orgID)
	}
}
