package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Worker consumes ingested transactions from the event bus and runs them
// through the pipeline asynchronously.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline
	tenantID string
	logger   *slog.Logger

	sub domain.Subscription
}

// NewWorker creates a worker for one tenant's ingestion topic.
func NewWorker(bus domain.EventBus, p *Pipeline, tenantID string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		bus:      bus,
		pipeline: p,
		tenantID: tenantID,
		logger:   logger.With("component", "worker", "tenant_id", tenantID),
	}
}

// Start subscribes to the ingestion topic. Messages are handled on the
// bus's delivery goroutines; handler errors are returned to the bus for
// its redelivery policy.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, w.tenantID, domain.TopicTransactionIngested, w.handle)
	if err != nil {
		return err
	}
	w.sub = sub
	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// Stop unsubscribes from the ingestion topic.
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	err := w.sub.Unsubscribe()
	w.sub = nil
	return err
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	evt, err := bus.DecodeIngested(msg)
	if err != nil {
		// Malformed payloads cannot succeed on redelivery; drop them.
		w.logger.Error("drop malformed transaction event", "msg_id", msg.ID, "error", err)
		return nil
	}
	tx := evt.Transaction
	if tx.TenantID == "" {
		tx.TenantID = msg.TenantID
	}
	if _, err := w.pipeline.Process(ctx, &tx); err != nil {
		// A redelivered transaction that was already decided cannot
		// succeed on retry; it is done, not failed.
		if errors.Is(err, domain.ErrConflict) {
			w.logger.Info("transaction already decided", "tx_id", tx.ID)
			return nil
		}
		w.logger.Error("async decisioning failed", "tx_id", tx.ID, "error", err)
		return err
	}
	return nil
}
