// Package component selects concrete backends from configuration.
package component

import (
	"github.com/rvikhe/crucible/internal/cache"
	"github.com/rvikhe/crucible/internal/cache/freecache"
	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/executor"
	"github.com/rvikhe/crucible/internal/queue"
	jq "github.com/rvikhe/crucible/internal/queue/jetstream"
	"github.com/rvikhe/crucible/internal/queue/memory"
	"github.com/rvikhe/crucible/internal/storage"
	"github.com/rvikhe/crucible/internal/storage/minio"
)

func GetCache(cacheType string) (cache.Cache, error) {
	switch cacheType {
	default:
		cfg, err := config.GetFreeCacheConfig()
		if err != nil {
			return nil, err
		}
		return freecache.NewFreeCache(cfg.SIZE_BYTES, cfg.TTL), nil
	}
}

func GetQueue(qType string) (queue.Queue, error) {
	switch qType {
	case "jetstream":
		cfg, err := config.GetNatsConfig()
		if err != nil {
			return nil, err
		}
		return jq.NewJetStreamQueue(cfg.URL)
	default:
		return memory.NewMemoryQueue(0), nil
	}
}

// GetStorage returns nil when no storage type is configured; archival is
// optional and the scheduler treats a nil Storage as disabled.
func GetStorage(storageType string) (storage.Storage, error) {
	switch storageType {
	case "":
		return nil, nil
	default:
		cfg, err := config.GetMinioConfig()
		if err != nil {
			return nil, err
		}
		return minio.NewMinioClient(cfg)
	}
}

func GetExecutor() (executor.Executor, error) {
	cfg, err := config.GetExecutorConfig()
	if err != nil {
		return nil, err
	}
	return executor.New(cfg)
}
