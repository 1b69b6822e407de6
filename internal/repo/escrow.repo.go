package repo

import (
	"context"
	"database/sql"
	"errors"
	"shipping-escrow/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type EscrowRepo interface {
	// Balance returns the units held for the order; zero when nothing was ever deposited.
	Balance(ctx context.Context, orderId string) (int64, error)
	Credit(ctx context.Context, orderId string, amount int64) error
	// Debit fails with domain.ErrInsufficientEscrow rather than going below zero.
	Debit(ctx context.Context, orderId string, amount int64) error
	TotalHeld(ctx context.Context) (int64, error)
	RecordMovement(ctx context.Context, m *domain.EscrowMovement) error
	Movements(ctx context.Context, orderId string) ([]domain.EscrowMovement, error)
}

type escrowRepo struct {
	db *sql.DB
}

func NewEscrowRepo(db *sql.DB) EscrowRepo {
	return &escrowRepo{db: db}
}

func (r *escrowRepo) Balance(ctx context.Context, orderId string) (int64, error) {
	var held int64
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT held FROM escrow_balances WHERE order_id = $1`, orderId,
	).Scan(&held)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return held, err
}

func (r *escrowRepo) Credit(ctx context.Context, orderId string, amount int64) error {
	_, err := executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO escrow_balances (order_id, held) VALUES ($1, $2)
		ON CONFLICT (order_id) DO UPDATE SET held = escrow_balances.held + EXCLUDED.held
	`, orderId, amount)
	return err
}

func (r *escrowRepo) Debit(ctx context.Context, orderId string, amount int64) error {
	res, err := executor(ctx, r.db).ExecContext(ctx, `
		UPDATE escrow_balances
		SET held = held - $2
		WHERE order_id = $1 AND held >= $2
	`, orderId, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInsufficientEscrow
	}
	return nil
}

func (r *escrowRepo) TotalHeld(ctx context.Context) (int64, error) {
	var total int64
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(held), 0) FROM escrow_balances`,
	).Scan(&total)
	return total, err
}

func (r *escrowRepo) RecordMovement(ctx context.Context, m *domain.EscrowMovement) error {
	query := `INSERT INTO escrow_movements (id, order_id, kind, counterparty, amount, created_at) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := executor(ctx, r.db).ExecContext(
		ctx, query, m.ID, m.OrderID, m.Kind, m.Counterparty.Hex(), m.Amount, m.CreatedAt,
	)
	return err
}

func (r *escrowRepo) Movements(ctx context.Context, orderId string) ([]domain.EscrowMovement, error) {
	query := `
		SELECT id, order_id, kind, counterparty, amount, created_at
		FROM escrow_movements
		WHERE order_id = $1
		ORDER BY created_at, kind
	`
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, orderId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []domain.EscrowMovement
	for rows.Next() {
		var (
			m            domain.EscrowMovement
			counterparty string
		)
		if err := rows.Scan(&m.ID, &m.OrderID, &m.Kind, &counterparty, &m.Amount, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Counterparty = common.HexToAddress(counterparty)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
