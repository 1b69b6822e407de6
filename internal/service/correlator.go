package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/oracle"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/metrics"
	"shipping-escrow/internal/repo"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// DetailsSource supplies the oracle details in effect right now.
type DetailsSource interface {
	OracleDetails(ctx context.Context) (domain.OracleDetails, error)
}

// OracleRequestCorrelator issues verification requests and matches the
// oracle's answers back to them. Every request is recorded before it leaves
// the process and is resolved at most once.
type OracleRequestCorrelator struct {
	requests repo.RequestRepo
	details  DetailsSource
	fees     token.Transferer
	vault    common.Address
	client   oracle.Client
	clock    func() time.Time
	metrics  *metrics.EscrowMetrics
}

func NewOracleRequestCorrelator(
	requests repo.RequestRepo,
	details DetailsSource,
	fees token.Transferer,
	vault common.Address,
	client oracle.Client,
	clock func() time.Time,
) *OracleRequestCorrelator {
	if clock == nil {
		clock = time.Now
	}
	return &OracleRequestCorrelator{
		requests: requests,
		details:  details,
		fees:     fees,
		vault:    vault,
		client:   client,
		clock:    clock,
		metrics:  metrics.Escrow(),
	}
}

// Issue records a verification request for the order once the fee vault can
// pay for it. The request is left PENDING; PayFee settles the fee and Dispatch
// hands it to the oracle network once the surrounding transaction has
// committed.
func (c *OracleRequestCorrelator) Issue(ctx context.Context, orderId string, shipment domain.Shipment) (string, error) {
	details, err := c.details.OracleDetails(ctx)
	if err != nil {
		return "", fmt.Errorf("load oracle details: %w", err)
	}

	funded, err := c.fees.BalanceOf(ctx, c.vault)
	if err != nil {
		return "", fmt.Errorf("read fee balance: %w", err)
	}
	if funded < details.Fee {
		return "", fmt.Errorf("%w: vault holds %d, request costs %d", domain.ErrInsufficientFee, funded, details.Fee)
	}

	req := &domain.OracleRequest{
		ID:        uuid.NewString(),
		OrderID:   orderId,
		Oracle:    details.Oracle,
		JobID:     details.JobID,
		Fee:       details.Fee,
		Shipment:  shipment,
		Dispatch:  domain.RequestPending,
		CreatedAt: c.clock(),
	}
	if err := c.requests.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("record verification request: %w", err)
	}
	return req.ID, nil
}

// PayFee transfers the fee recorded on the request to its oracle.
func (c *OracleRequestCorrelator) PayFee(ctx context.Context, requestId string) error {
	req, err := c.requests.FindById(ctx, requestId)
	if err != nil {
		return fmt.Errorf("find verification request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRequest, requestId)
	}
	if err := c.fees.Transfer(ctx, req.Oracle, req.Fee); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("pay oracle fee: %w", errors.Join(domain.ErrInsufficientFee, err))
		}
		return fmt.Errorf("pay oracle fee: %w", err)
	}
	return nil
}

// Dispatch sends a recorded request to the oracle network. Requests already
// sent or already answered are skipped.
func (c *OracleRequestCorrelator) Dispatch(ctx context.Context, requestId string) error {
	req, err := c.requests.FindById(ctx, requestId)
	if err != nil {
		return fmt.Errorf("find verification request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRequest, requestId)
	}
	if req.Dispatch == domain.RequestDispatched || req.Resolved() {
		return nil
	}
	return c.send(ctx, req)
}

// DispatchPending sends up to limit requests that are still waiting for their
// first successful delivery and returns how many went out.
func (c *OracleRequestCorrelator) DispatchPending(ctx context.Context, limit int) (int, error) {
	pending, err := c.requests.FindUndispatched(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find undispatched requests: %w", err)
	}

	sent := 0
	var errs []error
	for i := range pending {
		if err := c.send(ctx, &pending[i]); err != nil {
			c.metrics.DispatchFailed()
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (c *OracleRequestCorrelator) send(ctx context.Context, req *domain.OracleRequest) error {
	err := c.client.Send(ctx, domain.VerificationRequest{
		RequestID: req.ID,
		JobID:     req.JobID,
		OrderID:   req.OrderID,
		Shipment:  req.Shipment,
	})
	if err != nil {
		return fmt.Errorf("send request %s: %w", req.ID, err)
	}
	if err := c.requests.MarkDispatched(ctx, req.ID, c.clock()); err != nil {
		return fmt.Errorf("mark request %s dispatched: %w", req.ID, err)
	}
	slog.Info("verification request dispatched", "request_id", req.ID, "order_id", req.OrderID, "job_id", req.JobID)
	return nil
}

// Resolve consumes the request and returns the order it was issued for.
// Unknown and already consumed ids fail with domain.ErrUnknownRequest.
func (c *OracleRequestCorrelator) Resolve(ctx context.Context, requestId string, outcome domain.ShippingOutcome) (string, error) {
	orderId, err := c.requests.Consume(ctx, requestId, outcome, c.clock())
	if err != nil {
		if errors.Is(err, domain.ErrUnknownRequest) {
			return "", fmt.Errorf("%w: %s", domain.ErrUnknownRequest, requestId)
		}
		return "", fmt.Errorf("consume request %s: %w", requestId, err)
	}
	return orderId, nil
}

func (c *OracleRequestCorrelator) Request(ctx context.Context, requestId string) (*domain.OracleRequest, error) {
	return c.requests.FindById(ctx, requestId)
}
