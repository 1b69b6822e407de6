package worker

import (
	"context"
	"log/slog"
	"time"
)

type pendingDispatcher interface {
	DispatchPending(ctx context.Context, limit int) (int, error)
}

// DispatchWorker resends verification requests that were recorded but never
// reached the oracle network.
type DispatchWorker struct {
	correlator pendingDispatcher
	interval   time.Duration
	batch      int
}

func NewDispatchWorker(correlator pendingDispatcher, interval time.Duration, batch int) *DispatchWorker {
	return &DispatchWorker{
		correlator: correlator,
		interval:   interval,
		batch:      batch,
	}
}

func (dw *DispatchWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	slog.Info("dispatch worker started", "interval", dw.interval, "batch", dw.batch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dw.process(ctx)
		}
	}
}

func (dw *DispatchWorker) process(ctx context.Context) {
	sent, err := dw.correlator.DispatchPending(ctx, dw.batch)
	if sent > 0 {
		slog.Info("pending verification requests dispatched", "count", sent)
	}
	if err != nil {
		slog.Error("dispatch of pending verification requests failed", "error", err)
	}
}
