package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rvikhe/crucible/internal/queue"
	"github.com/rvikhe/crucible/internal/service/logger"
)

// MemoryQueue is the single-process default: a buffered channel drained
// by the worker pool.
type MemoryQueue struct {
	tasks chan string
	once  sync.Once
	done  chan struct{}
}

func NewMemoryQueue(size int) queue.Queue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		tasks: make(chan string, size),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case q.tasks <- taskID:
		return nil
	case <-q.done:
		return fmt.Errorf("queue is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Subscribe(ctx context.Context, workers int, handler func(ctx context.Context, taskID string) error) error {
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case id := <-q.tasks:
					if err := handler(ctx, id); err != nil {
						logger.Log.Error().Err(err).Str("task_id", id).Msg("task handler failed")
					}
				}
			}
		}()
	}
	return nil
}

func (q *MemoryQueue) Shutdown() {
	q.once.Do(func() { close(q.done) })
}
