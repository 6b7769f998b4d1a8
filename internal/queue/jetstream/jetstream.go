package jetstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rvikhe/crucible/internal/queue"
	"github.com/rvikhe/crucible/internal/service/logger"
)

const (
	streamName  = "CRUCIBLE_TASKS"
	taskSubject = "tasks.submitted"
	durableName = "crucible-worker"
)

// JetStreamQueue backs the task queue with NATS JetStream, for
// deployments where submission and workers live in separate processes.
type JetStreamQueue struct {
	connection *nats.Conn
	context    nats.JetStreamContext
}

func NewJetStreamQueue(url string) (queue.Queue, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("crucible"),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"tasks.>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, err
	}

	_, err = js.AddConsumer(streamName, &nats.ConsumerConfig{
		Durable:       durableName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		DeliverPolicy: nats.DeliverNewPolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "consumer name already in use") {
		return nil, err
	}

	return &JetStreamQueue{connection: nc, context: js}, nil
}

func (q *JetStreamQueue) Publish(ctx context.Context, taskID string) error {
	_, err := q.context.Publish(taskSubject, []byte(taskID))
	return err
}

func (q *JetStreamQueue) Subscribe(ctx context.Context, workers int, handler func(ctx context.Context, taskID string) error) error {
	sub, err := q.context.PullSubscribe(taskSubject, durableName, nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return err
	}

	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				msgs, err := sub.Fetch(1, nats.MaxWait(30*time.Second))
				if err != nil {
					if errors.Is(err, nats.ErrTimeout) {
						continue
					}
					logger.Log.Error().Err(err).Msg("unable to fetch task messages")
					time.Sleep(time.Second)
					continue
				}

				for _, msg := range msgs {
					id := string(msg.Data)
					if err := handler(ctx, id); err != nil {
						logger.Log.Error().Err(err).Str("task_id", id).Msg("task handler failed")
						msg.Nak()
						continue
					}
					msg.Ack()
				}
			}
		}()
	}
	return nil
}

func (q *JetStreamQueue) Shutdown() {
	q.connection.Drain()
	q.connection.Close()
}
