package repo

import (
	"context"
	"database/sql"
	"errors"
	"shipping-escrow/internal/domain"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RequestRepo interface {
	CreateRequest(ctx context.Context, req *domain.OracleRequest) error
	// FindById returns nil, nil when the request does not exist.
	FindById(ctx context.Context, id string) (*domain.OracleRequest, error)
	// Consume marks an unresolved request as resolved and returns its order id.
	// Unknown and already resolved ids fail with domain.ErrUnknownRequest.
	Consume(ctx context.Context, id string, outcome domain.ShippingOutcome, at time.Time) (string, error)
	FindUndispatched(ctx context.Context, limit int) ([]domain.OracleRequest, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
}

type requestRepo struct {
	db *sql.DB
}

func NewRequestRepo(db *sql.DB) RequestRepo {
	return &requestRepo{db: db}
}

const requestColumns = `id, order_id, oracle, job_id, fee, carrier, tracking_number, dispatch, outcome, created_at, dispatched_at, resolved_at`

func scanRequest(row rowScanner) (*domain.OracleRequest, error) {
	var (
		req          domain.OracleRequest
		oracle       string
		outcome      sql.NullString
		dispatchedAt sql.NullTime
		resolvedAt   sql.NullTime
	)
	err := row.Scan(
		&req.ID,
		&req.OrderID,
		&oracle,
		&req.JobID,
		&req.Fee,
		&req.Shipment.Carrier,
		&req.Shipment.TrackingNumber,
		&req.Dispatch,
		&outcome,
		&req.CreatedAt,
		&dispatchedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Oracle = common.HexToAddress(oracle)
	req.Outcome = domain.ShippingOutcome(outcome.String)
	if dispatchedAt.Valid {
		req.DispatchedAt = &dispatchedAt.Time
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return &req, nil
}

func (r *requestRepo) CreateRequest(ctx context.Context, req *domain.OracleRequest) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO oracle_requests (id, order_id, oracle, job_id, fee, carrier, tracking_number, dispatch, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID,
		req.OrderID,
		req.Oracle.Hex(),
		req.JobID,
		req.Fee,
		req.Shipment.Carrier,
		req.Shipment.TrackingNumber,
		req.Dispatch,
		req.CreatedAt,
	)
	return err
}

func (r *requestRepo) FindById(ctx context.Context, id string) (*domain.OracleRequest, error) {
	req, err := scanRequest(executor(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM oracle_requests WHERE id = $1", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (r *requestRepo) Consume(ctx context.Context, id string, outcome domain.ShippingOutcome, at time.Time) (string, error) {
	var orderId string
	err := executor(ctx, r.db).QueryRowContext(ctx, `
		UPDATE oracle_requests
		SET outcome = $2, resolved_at = $3
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING order_id
	`, id, outcome, at).Scan(&orderId)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrUnknownRequest
	}
	if err != nil {
		return "", err
	}
	return orderId, nil
}

func (r *requestRepo) FindUndispatched(ctx context.Context, limit int) ([]domain.OracleRequest, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx,
		"SELECT "+requestColumns+" FROM oracle_requests WHERE dispatch = $1 AND resolved_at IS NULL ORDER BY created_at LIMIT $2",
		domain.RequestPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.OracleRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (r *requestRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		`UPDATE oracle_requests SET dispatch = $2, dispatched_at = $3 WHERE id = $1`,
		id, domain.RequestDispatched, at,
	)
	return err
}
