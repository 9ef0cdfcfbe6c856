package jobs

import (
	"context"
	"fmt"

	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// RedisOptions locates the Redis instance backing the queue.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func (o RedisOptions) clientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	}
}

func NewClient(opts RedisOptions) *asynq.Client {
	return asynq.NewClient(opts.clientOpt())
}

func NewServer(opts RedisOptions, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(
		opts.clientOpt(),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Warn().
					Err(err).
					Str("type", task.Type()).
					Int("retried", retried).
					Int("max_retry", maxRetry).
					Msg("Task failed")
			}),
		},
	)
}

func NewInspector(opts RedisOptions) *asynq.Inspector {
	return asynq.NewInspector(opts.clientOpt())
}

// TaskEnqueuer is the part of *asynq.Client the Queue needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue submits document processing tasks.
type Queue struct {
	client  TaskEnqueuer
	metrics *metrics.Metrics
}

func NewQueue(client TaskEnqueuer, m *metrics.Metrics) *Queue {
	return &Queue{client: client, metrics: m}
}

// EnqueueProcessing queues a processing task and returns its task id and
// queue name.
func (q *Queue) EnqueueProcessing(ctx context.Context, orgID, documentID uuid.UUID) (string, string, error) {
	task, err := NewDocumentProcessTask(DocumentProcessPayload{
		DocumentID:     documentID,
		OrganizationID: orgID,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to build task: %w", err)
	}

	info, err := q.client.EnqueueContext(ctx, task)
	q.metrics.ObserveEnqueue(TypeDocumentProcess, err)
	if err != nil {
		return "", "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info().
		Str("job_id", info.ID).
		Str("queue", info.Queue).
		Str("document_id", documentID.String()).
		Msg("Document processing queued")

	return info.ID, info.Queue, nil
}
