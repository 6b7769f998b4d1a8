package cache

import "context"

// Cache keeps hot copies of finished-task payloads so status lookups do
// not hit the task store or database.
type Cache interface {
	Put(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Get(ctx context.Context, key string, out interface{}) error
	GetDefaultTTL() int
	ShutDown(ctx context.Context)
}
