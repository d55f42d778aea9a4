package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	QueueNotifications = "notifications"
	QueueDefault       = "default"
	QueueLow           = "low"
)

// Enqueuer is the narrow surface services use to hand work to the background
// worker after their transaction commits.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuerImpl struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(context.Background(), task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}
