package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	SERVICE_NAME  string
	TRACE_URL     string
	CACHE_TYPE    string
	QUEUE_TYPE    string
	STORAGE_TYPE  string
	EXECUTOR_TYPE string
}

type SchedulerConfig struct {
	WORKER_COUNT        int
	CALLBACK_TIMEOUT    int // seconds
	CALLBACK_RETRIES    int
	CANCEL_ENABLED      bool
	RESULT_CACHE_TTL    int // seconds
	PERSIST_TASKS_TO_DB bool
}

type ExecutorConfig struct {
	EXECUTOR_TYPE     string // local | docker | containerd | cluster
	IMAGE_PULL_POLICY string // always | missing | never
	K8S_NAMESPACE     string
	CONTAINERD_SOCKET string
	CONTAINERD_NS     string
}

type RegistryConfig struct {
	SCORER_SOURCE  string // path to a scorer definition file
	WATCH_INTERVAL int    // seconds; <= 0 selects inotify-based watching
}

type NatsConfig struct {
	URL string
}

type FreeCacheConfig struct {
	SIZE_BYTES int
	TTL        int
}

type MinioConfig struct {
	URL         string
	RUNS_BUCKET string
	ACCESS_KEY  string
	SECRET_KEY  string
	USE_SSL     bool
}

type PostgresConfig struct {
	URL string
}

func env(key string) string {
	v := os.Getenv(key)
	return v
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

// PrintStacktrace gates verbose diagnostics on unhandled failures.
// Structured errors are returned either way.
func PrintStacktrace() bool {
	return env("PRINT_STACKTRACE") == "true"
}

func GetConfig() (*Config, error) {
	sn := env("SERVICE_NAME")
	if sn == "" {
		return nil, fmt.Errorf("KEY: SERVICE_NAME is empty")
	}
	et := env("EXECUTOR_TYPE")
	if et == "" {
		return nil, fmt.Errorf("KEY: EXECUTOR_TYPE is empty")
	}
	return &Config{
		SERVICE_NAME:  sn,
		TRACE_URL:     env("TRACE_URL"),
		CACHE_TYPE:    envDefault("CACHE_TYPE", "freecache"),
		QUEUE_TYPE:    envDefault("QUEUE_TYPE", "memory"),
		STORAGE_TYPE:  env("STORAGE_TYPE"),
		EXECUTOR_TYPE: et,
	}, nil
}

func GetSchedulerConfig() (*SchedulerConfig, error) {
	wc, err := convertStringToInt(envDefault("WORKER_COUNT", "4"), "WORKER_COUNT")
	if err != nil {
		return nil, err
	}
	if wc < 1 {
		return nil, fmt.Errorf("KEY: WORKER_COUNT must be >= 1")
	}
	ct, err := convertStringToInt(envDefault("CALLBACK_TIMEOUT", "10"), "CALLBACK_TIMEOUT")
	if err != nil {
		return nil, err
	}
	cr, err := convertStringToInt(envDefault("CALLBACK_RETRIES", "3"), "CALLBACK_RETRIES")
	if err != nil {
		return nil, err
	}
	ttl, err := convertStringToInt(envDefault("RESULT_CACHE_TTL", "3600"), "RESULT_CACHE_TTL")
	if err != nil {
		return nil, err
	}
	return &SchedulerConfig{
		WORKER_COUNT:        wc,
		CALLBACK_TIMEOUT:    ct,
		CALLBACK_RETRIES:    cr,
		CANCEL_ENABLED:      env("CANCEL_ENABLED") == "true",
		RESULT_CACHE_TTL:    ttl,
		PERSIST_TASKS_TO_DB: env("POSTGRES_URL") != "",
	}, nil
}

func GetExecutorConfig() (*ExecutorConfig, error) {
	et := env("EXECUTOR_TYPE")
	if et == "" {
		return nil, fmt.Errorf("KEY: EXECUTOR_TYPE is empty")
	}
	pp := envDefault("IMAGE_PULL_POLICY", "missing")
	switch pp {
	case "always", "missing", "never":
	default:
		return nil, fmt.Errorf("KEY: IMAGE_PULL_POLICY is invalid")
	}
	return &ExecutorConfig{
		EXECUTOR_TYPE:     et,
		IMAGE_PULL_POLICY: pp,
		K8S_NAMESPACE:     envDefault("K8S_NAMESPACE", "default"),
		CONTAINERD_SOCKET: envDefault("CONTAINERD_SOCKET", "/run/containerd/containerd.sock"),
		CONTAINERD_NS:     envDefault("CONTAINERD_NAMESPACE", "crucible"),
	}, nil
}

func GetRegistryConfig() (*RegistryConfig, error) {
	wi, err := convertStringToInt(envDefault("WATCH_INTERVAL", "5"), "WATCH_INTERVAL")
	if err != nil {
		return nil, err
	}
	return &RegistryConfig{
		SCORER_SOURCE:  env("SCORER_SOURCE"),
		WATCH_INTERVAL: wi,
	}, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	return &NatsConfig{URL: url}, nil
}

func GetFreeCacheConfig() (*FreeCacheConfig, error) {
	ttl, err := convertStringToInt(envDefault("FREECACHE_TTL", "3600"), "FREECACHE_TTL")
	if err != nil {
		return nil, err
	}
	fs, err := convertStringToInt(envDefault("FREECACHE_SIZE", "33554432"), "FREECACHE_SIZE")
	if err != nil {
		return nil, err
	}
	return &FreeCacheConfig{
		TTL:        ttl,
		SIZE_BYTES: fs,
	}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_ENDPOINT")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_ENDPOINT is empty")
	}
	rb := env("MINIO_RUNS_BUCKET")
	if rb == "" {
		return nil, fmt.Errorf("KEY: MINIO_RUNS_BUCKET is empty")
	}
	ssl := env("MINIO_USE_SSL")
	if ssl != "true" && ssl != "false" {
		return nil, fmt.Errorf("KEY: MINIO_USE_SSL is invalid")
	}
	ak := env("MINIO_ACCESS_KEY")
	if ak == "" {
		return nil, fmt.Errorf("KEY: MINIO_ACCESS_KEY is empty")
	}
	sk := env("MINIO_SECRET_KEY")
	if sk == "" {
		return nil, fmt.Errorf("KEY: MINIO_SECRET_KEY is empty")
	}
	return &MinioConfig{
		URL:         url,
		RUNS_BUCKET: rb,
		USE_SSL:     ssl == "true",
		ACCESS_KEY:  ak,
		SECRET_KEY:  sk,
	}, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{URL: url}, nil
}
