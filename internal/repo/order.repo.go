package repo

import (
	"context"
	"database/sql"
	"errors"
	"shipping-escrow/internal/domain"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type OrderRepo interface {
	// CreateOrder fails with domain.ErrDuplicateOrder when the id is taken.
	CreateOrder(ctx context.Context, order *domain.Order) error
	// FindById returns nil, nil when the order does not exist.
	FindById(ctx context.Context, id string) (*domain.Order, error)
	// FindForUpdate is FindById that also locks the row for the surrounding transaction.
	FindForUpdate(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, order *domain.Order) error
	FindStalledVerifications(ctx context.Context, before time.Time) ([]domain.Order, error)
	// SumEscrowed totals the amount of every order whose funds must be in custody.
	SumEscrowed(ctx context.Context) (int64, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, buyer, seller, amount, deadline, status, pending_request_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order   domain.Order
		buyer   string
		seller  string
		pending sql.NullString
	)
	err := row.Scan(
		&order.ID,
		&buyer,
		&seller,
		&order.Amount,
		&order.Deadline,
		&order.Status,
		&pending,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Buyer = common.HexToAddress(buyer)
	order.Seller = common.HexToAddress(seller)
	order.PendingRequestID = pending.String
	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		order.ID,
		order.Buyer.Hex(),
		order.Seller.Hex(),
		order.Amount,
		order.Deadline,
		order.Status,
		nullString(order.PendingRequestID),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOrder
	}
	return err
}

func (r *orderRepo) FindById(ctx context.Context, id string) (*domain.Order, error) {
	return r.find(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) FindForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.find(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (r *orderRepo) find(ctx context.Context, query, id string) (*domain.Order, error) {
	order, err := scanOrder(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	res, err := executor(ctx, r.db).ExecContext(ctx,
		"UPDATE orders SET status = $1, pending_request_id = $2, updated_at = $3 WHERE id = $4",
		order.Status, nullString(order.PendingRequestID), order.UpdatedAt, order.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepo) FindStalledVerifications(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = $1 AND updated_at < $2 ORDER BY updated_at",
		domain.OrderVerificationPending, before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (r *orderRepo) SumEscrowed(ctx context.Context) (int64, error) {
	var total int64
	err := executor(ctx, r.db).QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM orders WHERE status IN ($1, $2)",
		domain.OrderPaid, domain.OrderVerificationPending,
	).Scan(&total)
	return total, err
}
