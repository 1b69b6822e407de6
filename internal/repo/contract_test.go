package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"shipping-escrow/internal/domain"
)

// backend bundles one storage implementation so both run the same checks.
type backend struct {
	tx       TxManager
	orders   OrderRepo
	escrow   EscrowRepo
	requests RequestRepo
	settings SettingsRepo
	tokens   TokenRepo
}

var (
	t0     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	buyer  = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	seller = common.HexToAddress("0x0000000000000000000000000000000000005e5e")
)

func newOrder(id string) *domain.Order {
	return &domain.Order{
		ID:        id,
		Buyer:     buyer,
		Seller:    seller,
		Amount:    100,
		Deadline:  t0.Add(1000 * time.Second),
		Status:    domain.OrderCreated,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func runRepoContract(t *testing.T, newBackend func(t *testing.T) backend) {
	t.Run("orders", func(t *testing.T) { testOrders(t, newBackend(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newBackend(t)) })
	t.Run("escrow", func(t *testing.T) { testEscrow(t, newBackend(t)) })
	t.Run("requests", func(t *testing.T) { testRequests(t, newBackend(t)) })
	t.Run("settings", func(t *testing.T) { testSettings(t, newBackend(t)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, newBackend(t)) })
}

func testOrders(t *testing.T, b backend) {
	ctx := context.Background()

	missing, err := b.orders.FindById(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, b.orders.CreateOrder(ctx, newOrder("O1")))
	err = b.orders.CreateOrder(ctx, newOrder("O1"))
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)

	got, err := b.orders.FindById(ctx, "O1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, buyer, got.Buyer)
	require.Equal(t, seller, got.Seller)
	require.Equal(t, int64(100), got.Amount)
	require.True(t, got.Deadline.Equal(t0.Add(1000*time.Second)))
	require.Equal(t, domain.OrderCreated, got.Status)
	require.Empty(t, got.PendingRequestID)

	got.Status = domain.OrderVerificationPending
	got.PendingRequestID = "R1"
	got.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, b.orders.UpdateOrderStatus(ctx, got))

	owed, err := b.orders.SumEscrowed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), owed)

	stalled, err := b.orders.FindStalledVerifications(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	require.Equal(t, "R1", stalled[0].PendingRequestID)

	stalled, err = b.orders.FindStalledVerifications(ctx, t0)
	require.NoError(t, err)
	require.Empty(t, stalled)

	err = b.orders.UpdateOrderStatus(ctx, newOrder("missing"))
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func testTransactions(t *testing.T, b backend) {
	ctx := context.Background()
	require.NoError(t, b.orders.CreateOrder(ctx, newOrder("O1")))

	boom := errors.New("boom")
	err := b.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := b.orders.FindForUpdate(ctx, "O1")
		if err != nil {
			return err
		}
		order.Status = domain.OrderPaid
		if err := b.orders.UpdateOrderStatus(ctx, order); err != nil {
			return err
		}
		if err := b.escrow.Credit(ctx, "O1", 100); err != nil {
			return err
		}

		held, err := b.escrow.Balance(ctx, "O1")
		if err != nil {
			return err
		}
		if held != 100 {
			return errors.New("credit not visible inside the transaction")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := b.orders.FindById(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderCreated, order.Status)
	held, err := b.escrow.Balance(ctx, "O1")
	require.NoError(t, err)
	require.Zero(t, held)

	err = b.tx.WithinTx(ctx, func(ctx context.Context) error {
		order.Status = domain.OrderPaid
		if err := b.orders.UpdateOrderStatus(ctx, order); err != nil {
			return err
		}
		return b.escrow.Credit(ctx, "O1", 100)
	})
	require.NoError(t, err)

	order, err = b.orders.FindById(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderPaid, order.Status)
	held, err = b.escrow.Balance(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, int64(100), held)
}

func testEscrow(t *testing.T, b backend) {
	ctx := context.Background()
	require.NoError(t, b.orders.CreateOrder(ctx, newOrder("O1")))
	require.NoError(t, b.orders.CreateOrder(ctx, newOrder("O2")))

	require.NoError(t, b.escrow.Credit(ctx, "O1", 100))
	require.NoError(t, b.escrow.Credit(ctx, "O2", 40))

	total, err := b.escrow.TotalHeld(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(140), total)

	err = b.escrow.Debit(ctx, "O2", 41)
	require.ErrorIs(t, err, domain.ErrInsufficientEscrow)
	err = b.escrow.Debit(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrInsufficientEscrow)

	require.NoError(t, b.escrow.Debit(ctx, "O2", 40))
	held, err := b.escrow.Balance(ctx, "O2")
	require.NoError(t, err)
	require.Zero(t, held)

	for i, kind := range []domain.MovementKind{domain.MovementDeposit, domain.MovementRelease} {
		require.NoError(t, b.escrow.RecordMovement(ctx, &domain.EscrowMovement{
			ID:           uuid.New(),
			OrderID:      "O1",
			Kind:         kind,
			Counterparty: buyer,
			Amount:       100,
			CreatedAt:    t0.Add(time.Duration(i) * time.Second),
		}))
	}
	movements, err := b.escrow.Movements(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, domain.MovementDeposit, movements[0].Kind)
	require.Equal(t, domain.MovementRelease, movements[1].Kind)
	require.Equal(t, buyer, movements[1].Counterparty)

	none, err := b.escrow.Movements(ctx, "O2")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testRequests(t *testing.T, b backend) {
	ctx := context.Background()
	require.NoError(t, b.orders.CreateOrder(ctx, newOrder("O1")))

	for i, id := range []string{"R1", "R2"} {
		require.NoError(t, b.requests.CreateRequest(ctx, &domain.OracleRequest{
			ID:        id,
			OrderID:   "O1",
			Oracle:    seller,
			JobID:     "job",
			Fee:       1,
			Shipment:  domain.Shipment{Carrier: "ups", TrackingNumber: "1Z" + id},
			Dispatch:  domain.RequestPending,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	pending, err := b.requests.FindUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "R1", pending[0].ID)
	require.Equal(t, "1ZR1", pending[0].Shipment.TrackingNumber)

	limited, err := b.requests.FindUndispatched(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, b.requests.MarkDispatched(ctx, "R1", t0.Add(time.Minute)))
	pending, err = b.requests.FindUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "R2", pending[0].ID)

	orderId, err := b.requests.Consume(ctx, "R2", domain.OutcomeDelivered, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "O1", orderId)

	_, err = b.requests.Consume(ctx, "R2", domain.OutcomeDelivered, t0.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrUnknownRequest)
	_, err = b.requests.Consume(ctx, "nope", domain.OutcomeDelivered, t0)
	require.ErrorIs(t, err, domain.ErrUnknownRequest)

	pending, err = b.requests.FindUndispatched(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	r2, err := b.requests.FindById(ctx, "R2")
	require.NoError(t, err)
	require.True(t, r2.Resolved())
	require.Equal(t, domain.OutcomeDelivered, r2.Outcome)

	r1, err := b.requests.FindById(ctx, "R1")
	require.NoError(t, err)
	require.Equal(t, domain.RequestDispatched, r1.Dispatch)
	require.NotNil(t, r1.DispatchedAt)
	require.False(t, r1.Resolved())

	missing, err := b.requests.FindById(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func testSettings(t *testing.T, b backend) {
	ctx := context.Background()

	details, err := b.settings.OracleDetails(ctx)
	require.NoError(t, err)
	require.Nil(t, details)

	first := domain.OracleDetails{Oracle: seller, Reference: buyer, JobID: "job-a", Fee: 1, UpdatedAt: t0}
	require.NoError(t, b.settings.SaveOracleDetails(ctx, first))
	second := domain.OracleDetails{Oracle: buyer, JobID: "job-b", Fee: 2, UpdatedAt: t0.Add(time.Hour)}
	require.NoError(t, b.settings.SaveOracleDetails(ctx, second))

	details, err = b.settings.OracleDetails(ctx)
	require.NoError(t, err)
	require.NotNil(t, details)
	require.Equal(t, buyer, details.Oracle)
	require.Equal(t, common.Address{}, details.Reference)
	require.Equal(t, "job-b", details.JobID)
	require.Equal(t, int64(2), details.Fee)
	require.True(t, details.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func testTokens(t *testing.T, b backend) {
	ctx := context.Background()
	vault := common.HexToAddress("0x000000000000000000000000000000000000e5e5")

	balanceIn := func(ctx context.Context, symbol string, holder common.Address) int64 {
		t.Helper()
		got, err := b.tokens.BalanceOf(ctx, symbol, holder)
		require.NoError(t, err)
		return got
	}
	balance := func(symbol string, holder common.Address) int64 {
		t.Helper()
		return balanceIn(ctx, symbol, holder)
	}

	require.Zero(t, balance("PAY", buyer))
	require.NoError(t, b.tokens.Seed(ctx, "PAY", map[common.Address]int64{buyer: 100}))
	require.NoError(t, b.tokens.Move(ctx, "PAY", buyer, vault, 40))
	require.NoError(t, b.tokens.Seed(ctx, "PAY", map[common.Address]int64{buyer: 100, seller: 5}))
	require.Equal(t, int64(60), balance("PAY", buyer))
	require.Equal(t, int64(40), balance("PAY", vault))
	require.Equal(t, int64(5), balance("PAY", seller))

	err := b.tokens.Move(ctx, "PAY", vault, seller, 41)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, int64(40), balance("PAY", vault))
	require.Error(t, b.tokens.Move(ctx, "PAY", vault, seller, -1))

	require.NoError(t, b.tokens.Mint(ctx, "FEE", vault, 3))
	require.Equal(t, int64(3), balance("FEE", vault))
	require.Equal(t, int64(40), balance("PAY", vault))

	boom := errors.New("rollback")
	err = b.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := b.tokens.Move(ctx, "PAY", vault, seller, 40); err != nil {
			return err
		}
		require.Equal(t, int64(45), balanceIn(ctx, "PAY", seller))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(40), balance("PAY", vault))
	require.Equal(t, int64(5), balance("PAY", seller))
}
