package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ristosmart-license/pkg/task"
	"ristosmart-license/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Outbox accepts a message for later delivery. Callers treat a failure as
// non fatal.
type Outbox interface {
	Enqueue(ctx context.Context, job Job) error
}

func NewSendTask(job Job) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.MailSend, payload), nil
}

// QueueOutbox hands messages to the asynq worker. When the broker refuses a
// task and a fallback is set, the message goes through the fallback instead.
type QueueOutbox struct {
	enqueuer task.Enqueuer
	fallback Outbox
}

func NewQueueOutbox(enqueuer task.Enqueuer, fallback Outbox) *QueueOutbox {
	return &QueueOutbox{enqueuer: enqueuer, fallback: fallback}
}

func (o *QueueOutbox) Enqueue(ctx context.Context, job Job) error {
	t, err := NewSendTask(job)
	if err != nil {
		return err
	}
	_, err = o.enqueuer.Enqueue(ctx, t,
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
	)
	if err == nil || o.fallback == nil {
		return err
	}

	zap.L().Warn("[Mail] enqueue failed, sending directly",
		zap.String("email", job.Email),
		zap.String("subject", job.Subject),
		zap.Error(err),
	)
	if ferr := o.fallback.Enqueue(ctx, job); ferr != nil {
		return errors.Join(err, ferr)
	}
	return nil
}

// DirectOutbox sends in place through a Dispatcher. It backs the outbox when
// no queue is configured and catches what the queue refuses.
type DirectOutbox struct {
	dispatcher Dispatcher
}

func NewDirectOutbox(d Dispatcher) *DirectOutbox {
	return &DirectOutbox{dispatcher: d}
}

func (o *DirectOutbox) Enqueue(ctx context.Context, job Job) error {
	return SendOne(ctx, o.dispatcher, job)
}

// HandleSendTask returns the worker handler for mail:send. Delivery failures
// are not retried.
func HandleSendTask(d Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var job Job
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", taskname.MailSend, err, asynq.SkipRetry)
		}
		if err := SendOne(ctx, d, job); err != nil {
			zap.L().Warn("[Mail] queued delivery failed", zap.String("email", job.Email), zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	}
}
