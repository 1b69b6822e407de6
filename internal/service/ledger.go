package service

import (
	"context"
	"errors"
	"fmt"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/metrics"
	"shipping-escrow/internal/repo"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EscrowLedger is the only component that moves escrowed value. It keeps its
// own per-order balance and refuses to pay out what it does not hold, which
// backs up the state machine's guards. Each operation joins the caller's store
// transaction when there is one, and token transfers ride in that same
// transaction.
type EscrowLedger struct {
	tx      repo.TxManager
	escrow  repo.EscrowRepo
	token   token.Transferer
	clock   func() time.Time
	metrics *metrics.EscrowMetrics
}

func NewEscrowLedger(tx repo.TxManager, escrow repo.EscrowRepo, tok token.Transferer, clock func() time.Time) *EscrowLedger {
	if clock == nil {
		clock = time.Now
	}
	return &EscrowLedger{
		tx:      tx,
		escrow:  escrow,
		token:   tok,
		clock:   clock,
		metrics: metrics.Escrow(),
	}
}

// Deposit collects value from payer, holds amount for the order and returns
// the excess to payer.
func (l *EscrowLedger) Deposit(ctx context.Context, orderId string, payer common.Address, value, amount int64) error {
	return l.tx.WithinTx(ctx, func(ctx context.Context) error {
		return l.deposit(ctx, orderId, payer, value, amount)
	})
}

func (l *EscrowLedger) deposit(ctx context.Context, orderId string, payer common.Address, value, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidOrder)
	}
	if value < amount {
		return fmt.Errorf("%w: sent %d, order requires %d", domain.ErrInsufficientPayment, value, amount)
	}

	held, err := l.escrow.Balance(ctx, orderId)
	if err != nil {
		return fmt.Errorf("read escrow balance: %w", err)
	}
	if held != 0 {
		return fmt.Errorf("%w: escrow for %s already holds %d", domain.ErrInvalidOrderState, orderId, held)
	}

	if err := l.escrow.Credit(ctx, orderId, amount); err != nil {
		return fmt.Errorf("credit escrow: %w", err)
	}
	if err := l.record(ctx, orderId, domain.MovementDeposit, payer, amount); err != nil {
		return err
	}
	excess := value - amount
	if excess > 0 {
		if err := l.record(ctx, orderId, domain.MovementExcessReturn, payer, excess); err != nil {
			return err
		}
	}

	if err := l.token.TransferFrom(ctx, payer, value); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("collect payment: %w", errors.Join(domain.ErrInsufficientPayment, err))
		}
		return fmt.Errorf("collect payment: %w", err)
	}
	if excess > 0 {
		if err := l.token.Transfer(ctx, payer, excess); err != nil {
			return fmt.Errorf("return excess payment: %w", err)
		}
	}
	return nil
}

// Refund returns everything held for the order to recipient.
func (l *EscrowLedger) Refund(ctx context.Context, orderId string, recipient common.Address) error {
	return l.tx.WithinTx(ctx, func(ctx context.Context) error {
		held, err := l.escrow.Balance(ctx, orderId)
		if err != nil {
			return fmt.Errorf("read escrow balance: %w", err)
		}
		if held <= 0 {
			return fmt.Errorf("%w: nothing held for %s", domain.ErrInsufficientEscrow, orderId)
		}
		return l.payOut(ctx, orderId, domain.MovementRefund, recipient, held)
	})
}

// Release pays amount held for the order to recipient.
func (l *EscrowLedger) Release(ctx context.Context, orderId string, recipient common.Address, amount int64) error {
	return l.tx.WithinTx(ctx, func(ctx context.Context) error {
		held, err := l.escrow.Balance(ctx, orderId)
		if err != nil {
			return fmt.Errorf("read escrow balance: %w", err)
		}
		if held <= 0 || amount <= 0 || held < amount {
			return fmt.Errorf("%w: %s holds %d, release of %d requested", domain.ErrInsufficientEscrow, orderId, held, amount)
		}
		return l.payOut(ctx, orderId, domain.MovementRelease, recipient, amount)
	})
}

func (l *EscrowLedger) payOut(ctx context.Context, orderId string, kind domain.MovementKind, recipient common.Address, amount int64) error {
	if err := l.escrow.Debit(ctx, orderId, amount); err != nil {
		return fmt.Errorf("debit escrow: %w", err)
	}
	if err := l.record(ctx, orderId, kind, recipient, amount); err != nil {
		return err
	}
	if err := l.token.Transfer(ctx, recipient, amount); err != nil {
		return fmt.Errorf("pay out escrow: %w", err)
	}
	l.metrics.Settled(string(kind), amount)
	return nil
}

func (l *EscrowLedger) record(ctx context.Context, orderId string, kind domain.MovementKind, counterparty common.Address, amount int64) error {
	err := l.escrow.RecordMovement(ctx, &domain.EscrowMovement{
		ID:           uuid.New(),
		OrderID:      orderId,
		Kind:         kind,
		Counterparty: counterparty,
		Amount:       amount,
		CreatedAt:    l.clock(),
	})
	if err != nil {
		return fmt.Errorf("record %s movement: %w", kind, err)
	}
	return nil
}

func (l *EscrowLedger) Balance(ctx context.Context, orderId string) (int64, error) {
	return l.escrow.Balance(ctx, orderId)
}

func (l *EscrowLedger) TotalHeld(ctx context.Context) (int64, error) {
	return l.escrow.TotalHeld(ctx)
}

func (l *EscrowLedger) Movements(ctx context.Context, orderId string) ([]domain.EscrowMovement, error) {
	return l.escrow.Movements(ctx, orderId)
}
