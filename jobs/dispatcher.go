package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/bottleops/bottleops/internal/orders"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IntentDispatcher turns order intents into queued tasks.
type IntentDispatcher struct {
	queue Enqueuer
}

// NewIntentDispatcher wraps an enqueuer such as *asynq.Client.
func NewIntentDispatcher(queue Enqueuer) *IntentDispatcher {
	return &IntentDispatcher{queue: queue}
}

// Publish enqueues every intent. Failures are joined so one bad intent does
// not prevent the rest from being queued.
func (d *IntentDispatcher) Publish(ctx context.Context, intents []orders.Intent) error {
	if d == nil || d.queue == nil {
		return errors.New("jobs: intent dispatcher not configured")
	}
	var errs []error
	for _, in := range intents {
		task, err := NewIntentTask(in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := d.queue.EnqueueContext(ctx, task); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s for order %s: %w", task.Type(), in.OrderID, err))
		}
	}
	return errors.Join(errs...)
}
