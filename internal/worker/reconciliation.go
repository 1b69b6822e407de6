package worker

import (
	"context"
	"fmt"
	"log/slog"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/metrics"
	"shipping-escrow/internal/repo"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type heldTotaler interface {
	TotalHeld(ctx context.Context) (int64, error)
}

type vaultToken interface {
	Vault() common.Address
	BalanceOf(ctx context.Context, holder common.Address) (int64, error)
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Stalled []domain.Order
	Held    int64
	Owed    int64
	// Vault is the payment token balance of the escrow vault.
	Vault int64
}

// Drift is held escrow minus what open orders are owed. Anything but zero is
// a ledger defect.
func (r Report) Drift() int64 {
	return r.Held - r.Owed
}

// Shortfall is the held escrow the vault's tokens do not cover. A positive
// value means releases and refunds will fail.
func (r Report) Shortfall() int64 {
	if r.Held > r.Vault {
		return r.Held - r.Vault
	}
	return 0
}

// ReconciliationWorker audits the engine periodically. It reports orders that
// have waited on the oracle for longer than stallAfter and checks that escrow
// still covers every open order. It never moves funds or changes an order.
type ReconciliationWorker struct {
	tx         repo.TxManager
	orderRepo  repo.OrderRepo
	ledger     heldTotaler
	payments   vaultToken
	interval   time.Duration
	stallAfter time.Duration
	clock      func() time.Time
	metrics    *metrics.EscrowMetrics
}

func NewReconciliationWorker(
	tx repo.TxManager,
	orderRepo repo.OrderRepo,
	ledger heldTotaler,
	payments vaultToken,
	interval time.Duration,
	stallAfter time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		tx:         tx,
		orderRepo:  orderRepo,
		ledger:     ledger,
		payments:   payments,
		interval:   interval,
		stallAfter: stallAfter,
		clock:      time.Now,
		metrics:    metrics.Escrow(),
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	slog.Info("reconciliation worker started", "interval", rw.interval, "stall_after", rw.stallAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rw.Reconcile(ctx); err != nil {
				slog.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile runs one pass and publishes its findings as metrics and logs.
func (rw *ReconciliationWorker) Reconcile(ctx context.Context) (Report, error) {
	var report Report
	err := rw.tx.WithinTx(ctx, func(ctx context.Context) error {
		stalled, err := rw.orderRepo.FindStalledVerifications(ctx, rw.clock().Add(-rw.stallAfter))
		if err != nil {
			return fmt.Errorf("find stalled verifications: %w", err)
		}
		owed, err := rw.orderRepo.SumEscrowed(ctx)
		if err != nil {
			return fmt.Errorf("sum escrowed orders: %w", err)
		}
		held, err := rw.ledger.TotalHeld(ctx)
		if err != nil {
			return fmt.Errorf("total held: %w", err)
		}
		vault, err := rw.payments.BalanceOf(ctx, rw.payments.Vault())
		if err != nil {
			return fmt.Errorf("vault balance: %w", err)
		}
		report = Report{Stalled: stalled, Held: held, Owed: owed, Vault: vault}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	rw.metrics.SetStalled(len(report.Stalled))
	rw.metrics.SetDrift(report.Drift())
	rw.metrics.SetShortfall(report.Shortfall())

	for _, order := range report.Stalled {
		slog.Warn("order stalled awaiting verification",
			"order_id", order.ID,
			"request_id", order.PendingRequestID,
			"since", order.UpdatedAt,
		)
	}
	if drift := report.Drift(); drift != 0 {
		slog.Error("escrow conservation violated", "held", report.Held, "owed", report.Owed, "drift", drift)
	}
	if shortfall := report.Shortfall(); shortfall > 0 {
		slog.Error("vault does not cover held escrow", "held", report.Held, "vault", report.Vault, "shortfall", shortfall)
	}
	return report, nil
}
