package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: 5,
		timeout:  3 * time.Minute,
	}
}

// EnqueueRenderImage schedules a render. The job ID doubles as the task ID so
// a repeated start call cannot queue the same job twice.
func (c *Client) EnqueueRenderImage(ctx context.Context, payload RenderImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, c.options(payload.JobID)...)
}

func (c *Client) options(jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
