package service

import (
	"context"
	"fmt"
	"log/slog"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/metrics"
	"shipping-escrow/internal/repo"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	OpCreate   = "create"
	OpPay      = "pay"
	OpCancel   = "cancel"
	OpVerify   = "check_shipping_status"
	OpCallback = "verification_result"
	OpAdmin    = "update_oracle_details"
)

type CreateOrderParams struct {
	// ID is optional; when empty it is derived from Buyer, Seller and Nonce.
	ID       string
	Buyer    common.Address
	Seller   common.Address
	Nonce    uint64
	Amount   int64
	Deadline time.Time
}

type OrderService interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	PayForOrder(ctx context.Context, id string, payer common.Address, value int64) (*domain.Order, error)
	CancelOrder(ctx context.Context, id string, caller common.Address) (*domain.Order, error)
	CheckShippingStatus(ctx context.Context, id string, shipment domain.Shipment) (*domain.Order, error)
	OnVerificationResult(ctx context.Context, result domain.VerificationResult) (*domain.Order, error)
	EscrowBalance(ctx context.Context, id string) (int64, error)
	Movements(ctx context.Context, id string) ([]domain.EscrowMovement, error)
}

type Option func(*orderService)

func WithClock(clock func() time.Time) Option {
	return func(s *orderService) {
		s.clock = clock
	}
}

type orderService struct {
	tx         repo.TxManager
	orderRepo  repo.OrderRepo
	ledger     *EscrowLedger
	correlator *OracleRequestCorrelator
	clock      func() time.Time
	metrics    *metrics.EscrowMetrics
}

func NewOrderService(
	tx repo.TxManager,
	orderRepo repo.OrderRepo,
	ledger *EscrowLedger,
	correlator *OracleRequestCorrelator,
	opts ...Option,
) OrderService {
	s := &orderService{
		tx:         tx,
		orderRepo:  orderRepo,
		ledger:     ledger,
		correlator: correlator,
		clock:      time.Now,
		metrics:    metrics.Escrow(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *orderService) CreateOrder(ctx context.Context, params CreateOrderParams) (*domain.Order, error) {
	now := s.clock()
	switch {
	case params.Buyer == (common.Address{}) || params.Seller == (common.Address{}):
		return nil, s.reject(OpCreate, params.ID, fmt.Errorf("%w: buyer and seller are required", domain.ErrInvalidOrder))
	case params.Amount <= 0:
		return nil, s.reject(OpCreate, params.ID, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidOrder))
	case !params.Deadline.After(now):
		return nil, s.reject(OpCreate, params.ID, fmt.Errorf("%w: deadline must be in the future", domain.ErrInvalidOrder))
	}

	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = domain.DeriveOrderID(params.Buyer, params.Seller, params.Nonce)
	}

	order := &domain.Order{
		ID:        id,
		Buyer:     params.Buyer,
		Seller:    params.Seller,
		Amount:    params.Amount,
		Deadline:  params.Deadline,
		Status:    domain.OrderCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.orderRepo.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, s.reject(OpCreate, id, err)
	}

	slog.Info("order created", "order_id", order.ID, "buyer", order.Buyer.Hex(), "seller", order.Seller.Hex(), "amount", order.Amount, "deadline", order.Deadline)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return order, nil
}

func (s *orderService) PayForOrder(ctx context.Context, id string, payer common.Address, value int64) (*domain.Order, error) {
	var paid *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderCreated {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, id, order.Status)
		}
		if payer != order.Buyer {
			return fmt.Errorf("%w: only the buyer can pay for order %s", domain.ErrUnauthorized, id)
		}
		now := s.clock()
		if now.After(order.Deadline) {
			return fmt.Errorf("%w: order %s expired at %s", domain.ErrDeadlinePassed, id, order.Deadline)
		}
		if value < order.Amount {
			return fmt.Errorf("%w: sent %d, order requires %d", domain.ErrInsufficientPayment, value, order.Amount)
		}

		if err := s.transition(ctx, order, domain.OrderPaid, now); err != nil {
			return err
		}
		if err := s.ledger.Deposit(ctx, order.ID, payer, value, order.Amount); err != nil {
			return err
		}
		paid = order
		return nil
	})
	if err != nil {
		return nil, s.reject(OpPay, id, err)
	}

	s.metrics.Transition(string(domain.OrderCreated), string(domain.OrderPaid))
	slog.Info("order paid", "order_id", id, "payer", payer.Hex(), "value", value, "amount", paid.Amount)
	return paid, nil
}

func (s *orderService) CancelOrder(ctx context.Context, id string, caller common.Address) (*domain.Order, error) {
	var (
		cancelled *domain.Order
		from      domain.OrderStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		if !order.IsParty(caller) {
			return fmt.Errorf("%w: %s is not a party to order %s", domain.ErrUnauthorized, caller.Hex(), id)
		}
		if order.Status != domain.OrderCreated && order.Status != domain.OrderPaid {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, id, order.Status)
		}
		now := s.clock()
		if !now.After(order.Deadline) {
			return fmt.Errorf("%w: order %s can be cancelled after %s", domain.ErrTooEarly, id, order.Deadline)
		}

		from = order.Status
		if err := s.transition(ctx, order, domain.OrderCancelled, now); err != nil {
			return err
		}
		if from == domain.OrderPaid {
			if err := s.ledger.Refund(ctx, order.ID, order.Buyer); err != nil {
				return err
			}
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, s.reject(OpCancel, id, err)
	}

	s.metrics.Transition(string(from), string(domain.OrderCancelled))
	slog.Info("order cancelled", "order_id", id, "caller", caller.Hex(), "refunded", from == domain.OrderPaid)
	return cancelled, nil
}

func (s *orderService) CheckShippingStatus(ctx context.Context, id string, shipment domain.Shipment) (*domain.Order, error) {
	var pending *domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPaid {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, id, order.Status)
		}

		requestId, err := s.correlator.Issue(ctx, order.ID, shipment)
		if err != nil {
			return err
		}
		order.PendingRequestID = requestId
		if err := s.transition(ctx, order, domain.OrderVerificationPending, s.clock()); err != nil {
			return err
		}
		if err := s.correlator.PayFee(ctx, requestId); err != nil {
			return err
		}
		pending = order
		return nil
	})
	if err != nil {
		return nil, s.reject(OpVerify, id, err)
	}

	s.metrics.Transition(string(domain.OrderPaid), string(domain.OrderVerificationPending))
	slog.Info("shipping verification requested", "order_id", id, "request_id", pending.PendingRequestID)

	// The dispatch worker retries whatever is not sent here.
	if err := s.correlator.Dispatch(ctx, pending.PendingRequestID); err != nil {
		s.metrics.DispatchFailed()
		slog.Warn("verification request not dispatched yet", "order_id", id, "request_id", pending.PendingRequestID, "error", err)
	}
	return pending, nil
}

func (s *orderService) OnVerificationResult(ctx context.Context, result domain.VerificationResult) (*domain.Order, error) {
	requestId := strings.TrimSpace(result.RequestID)
	if requestId == "" {
		return nil, s.reject(OpCallback, "", fmt.Errorf("%w: empty request id", domain.ErrUnknownRequest))
	}
	outcome, err := domain.ParseShippingOutcome(result.Outcome)
	if err != nil {
		return nil, s.reject(OpCallback, "", fmt.Errorf("request %s: %w", requestId, err))
	}

	var settled *domain.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		orderId, err := s.correlator.Resolve(ctx, requestId, outcome)
		if err != nil {
			return err
		}
		order, err := s.orderRepo.FindForUpdate(ctx, orderId)
		if err != nil {
			return err
		}
		if order == nil || order.Status != domain.OrderVerificationPending || order.PendingRequestID != requestId {
			return fmt.Errorf("%w: %s is not the pending request of order %s", domain.ErrUnknownRequest, requestId, orderId)
		}
		if err := s.finalize(ctx, order, outcome); err != nil {
			return err
		}
		settled = order
		return nil
	})
	if err != nil {
		return nil, s.reject(OpCallback, "", err)
	}

	s.metrics.Transition(string(domain.OrderVerificationPending), string(settled.Status))
	slog.Info("order settled", "order_id", settled.ID, "request_id", requestId, "outcome", outcome, "status", settled.Status)
	return settled, nil
}

// finalize settles a verified order. Only OnVerificationResult calls it.
func (s *orderService) finalize(ctx context.Context, order *domain.Order, outcome domain.ShippingOutcome) error {
	var (
		to        domain.OrderStatus
		recipient common.Address
	)
	switch outcome {
	case domain.OutcomeDelivered:
		to, recipient = domain.OrderDelivered, order.Seller
	case domain.OutcomeReturnedToSender:
		to, recipient = domain.OrderReturnedToSender, order.Buyer
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownOutcome, outcome)
	}

	order.PendingRequestID = ""
	if err := s.transition(ctx, order, to, s.clock()); err != nil {
		return err
	}
	return s.ledger.Release(ctx, order.ID, recipient, order.Amount)
}

func (s *orderService) EscrowBalance(ctx context.Context, id string) (int64, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return 0, err
	}
	return s.ledger.Balance(ctx, id)
}

func (s *orderService) Movements(ctx context.Context, id string) ([]domain.EscrowMovement, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Movements(ctx, id)
}

func (s *orderService) lock(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orderRepo.FindForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return order, nil
}

func (s *orderService) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus, at time.Time) error {
	order.Status = to
	order.UpdatedAt = at
	if err := s.orderRepo.UpdateOrderStatus(ctx, order); err != nil {
		return fmt.Errorf("update order %s to %s: %w", order.ID, to, err)
	}
	return nil
}

// reject logs and counts guard failures. Other errors are passed through
// unchanged and logged as errors.
func (s *orderService) reject(op, orderId string, err error) error {
	reason := domain.Reason(err)
	if reason == "" {
		slog.Error("order operation failed", "operation", op, "order_id", orderId, "error", err)
		return err
	}
	s.metrics.Rejected(op, reason)
	slog.Warn("order operation rejected", "operation", op, "order_id", orderId, "reason", reason, "error", err)
	return err
}
