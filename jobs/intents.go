package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/bottleops/bottleops/internal/jobs"
	"github.com/bottleops/bottleops/internal/orders"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Outbox stores intents for external collaborators to pick up.
type Outbox interface {
	WriteNotification(ctx context.Context, intent orders.Intent) error
	WriteInvoiceRequest(ctx context.Context, intent orders.Intent) error
}

// PGOutbox writes intents into outbox tables.
type PGOutbox struct {
	pool *pgxpool.Pool
}

// NewPGOutbox constructs the Postgres outbox.
func NewPGOutbox(pool *pgxpool.Pool) *PGOutbox {
	return &PGOutbox{pool: pool}
}

// WriteNotification inserts a pending notification row.
func (o *PGOutbox) WriteNotification(ctx context.Context, intent orders.Intent) error {
	payload, err := json.Marshal(intent.Payload)
	if err != nil {
		return err
	}
	_, err = o.pool.Exec(ctx, `INSERT INTO notification_outbox (order_id, template, payload, status, created_at)
VALUES ($1, $2, $3, 'pending', NOW())`, intent.OrderID, intent.Template, payload)
	return err
}

// WriteInvoiceRequest records an invoice request once per order and template.
func (o *PGOutbox) WriteInvoiceRequest(ctx context.Context, intent orders.Intent) error {
	payload, err := json.Marshal(intent.Payload)
	if err != nil {
		return err
	}
	_, err = o.pool.Exec(ctx, `INSERT INTO invoice_requests (order_id, template, payload, status, created_at)
VALUES ($1, $2, $3, 'pending', NOW())
ON CONFLICT (order_id, template) DO NOTHING`, intent.OrderID, intent.Template, payload)
	return err
}

// IntentJob delivers queued intents to the outbox.
type IntentJob struct {
	Outbox  Outbox
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntentJob wires dependencies for the intent handlers.
func NewIntentJob(outbox Outbox, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntentJob {
	return &IntentJob{Outbox: outbox, Logger: logger, Metrics: metrics}
}

// HandleNotify processes TaskIntentNotify tasks.
func (j *IntentJob) HandleNotify(ctx context.Context, t *asynq.Task) error {
	return j.handle(ctx, t, orders.IntentNotify)
}

// HandleInvoice processes TaskIntentInvoice tasks.
func (j *IntentJob) HandleInvoice(ctx context.Context, t *asynq.Task) error {
	return j.handle(ctx, t, orders.IntentInvoice)
}

func (j *IntentJob) handle(ctx context.Context, t *asynq.Task, kind orders.IntentKind) (resultErr error) {
	if j == nil || j.Outbox == nil {
		return errors.New("intent job: outbox not configured")
	}
	var payload IntentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Intent.Kind != kind {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(t.Type())
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("order_id", payload.Intent.OrderID.String()),
		slog.String("template", payload.Intent.Template),
	)
	var err error
	if kind == orders.IntentNotify {
		err = j.Outbox.WriteNotification(ctx, payload.Intent)
	} else {
		err = j.Outbox.WriteInvoiceRequest(ctx, payload.Intent)
	}
	if err != nil {
		logger.Error("write intent outbox", slog.Any("error", err))
		return err
	}
	j.metrics().AddOutbox(string(kind), 1)
	logger.Info("intent delivered to outbox")
	return nil
}

func (j *IntentJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntentJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", "intents"))
	}
	return slog.Default().With(slog.String("job", "intents"))
}
