package queue

import "context"

// Queue hands accepted task IDs to the worker pool. The scheduler does
// not care which broker backs it; semantics are at-least-once delivery
// of each published ID to exactly one consumer goroutine.
type Queue interface {
	Publish(ctx context.Context, taskID string) error
	Subscribe(ctx context.Context, workers int, handler func(ctx context.Context, taskID string) error) error
	Shutdown()
}
