package storage

import "context"

// Storage archives run artifacts (result.json, container.log) outside
// the workspace. Optional; the scheduler skips archival when no storage
// is configured.
type Storage interface {
	Upload(ctx context.Context, objectPath string, data []byte) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	ShutDown(ctx context.Context)
}
