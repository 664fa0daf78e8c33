package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/bottleops/bottleops/internal/orders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueIntents carries notification and invoice intents.
	QueueIntents = "intents"

	// TaskIntentNotify delivers a notify intent to the notification outbox.
	TaskIntentNotify = "intent:notify"
	// TaskIntentInvoice delivers an invoice intent to the invoice request table.
	TaskIntentInvoice = "intent:invoice"

	intentMaxRetry = 10
)

// IntentPayload is the task body for intent tasks.
type IntentPayload struct {
	Intent orders.Intent `json:"intent"`
}

// TaskTypeFor maps an intent kind onto its task type.
func TaskTypeFor(kind orders.IntentKind) (string, error) {
	switch kind {
	case orders.IntentNotify:
		return TaskIntentNotify, nil
	case orders.IntentInvoice:
		return TaskIntentInvoice, nil
	default:
		return "", fmt.Errorf("jobs: unknown intent kind %q", kind)
	}
}

// NewIntentTask constructs an Asynq task for one intent.
func NewIntentTask(intent orders.Intent) (*asynq.Task, error) {
	typ, err := TaskTypeFor(intent.Kind)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(IntentPayload{Intent: intent})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data, asynq.Queue(QueueIntents), asynq.MaxRetry(intentMaxRetry)), nil
}
