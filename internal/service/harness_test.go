package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/repo"
	"shipping-escrow/internal/service"
)

var (
	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	owner    = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	vault    = common.HexToAddress("0x000000000000000000000000000000000000e5e5")
	oracleA  = common.HexToAddress("0x000000000000000000000000000000000000c1c1")
	oracleB  = common.HexToAddress("0x000000000000000000000000000000000000c2c2")
	buyerB   = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	sellerS  = common.HexToAddress("0x0000000000000000000000000000000000005e5e")
	stranger = common.HexToAddress("0x000000000000000000000000000000000000dddd")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

type recordingClient struct {
	mu   sync.Mutex
	sent []domain.VerificationRequest
	fail error
}

func (c *recordingClient) Send(ctx context.Context, req domain.VerificationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, req)
	return nil
}

func (c *recordingClient) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *recordingClient) requests() []domain.VerificationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.VerificationRequest(nil), c.sent...)
}

// commitGate runs transactions on the memory store and can fail the next
// commit after the work inside it has succeeded. The staged writes are
// discarded, as a failed COMMIT would discard them.
type commitGate struct {
	store *repo.MemoryStore

	mu   sync.Mutex
	fail error
}

func (g *commitGate) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		err := g.fail
		g.fail = nil
		return err
	})
}

func (g *commitGate) failNextCommit(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

type harness struct {
	ctx        context.Context
	clock      *testClock
	store      *repo.MemoryStore
	tx         *commitGate
	payments   *token.Ledger
	fees       *token.Ledger
	client     *recordingClient
	admin      service.AdminService
	ledger     *service.EscrowLedger
	correlator *service.OracleRequestCorrelator
	orders     service.OrderService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ctx:    context.Background(),
		clock:  &testClock{now: t0},
		store:  repo.NewMemoryStore(),
		client: &recordingClient{},
	}
	h.tx = &commitGate{store: h.store}
	h.payments = token.NewLedger("PAY", vault, h.store.Tokens())
	require.NoError(t, h.payments.Seed(h.ctx, map[common.Address]int64{
		buyerB:   1_000,
		stranger: 1_000,
	}))
	h.fees = token.NewLedger("FEE", vault, h.store.Tokens())
	require.NoError(t, h.fees.Seed(h.ctx, map[common.Address]int64{vault: 10}))

	h.admin = service.NewAdminService(h.store.Settings(), owner, domain.OracleDetails{
		Oracle: oracleA,
		JobID:  "job-a",
		Fee:    1,
	}, h.clock.Now)
	h.ledger = service.NewEscrowLedger(h.store, h.store.Escrow(), h.payments, h.clock.Now)
	h.correlator = service.NewOracleRequestCorrelator(h.store.Requests(), h.admin, h.fees, vault, h.client, h.clock.Now)
	h.orders = service.NewOrderService(h.tx, h.store.Orders(), h.ledger, h.correlator, service.WithClock(h.clock.Now))
	return h
}

// createOrder creates order id with amount 100 and a deadline of t0+1000s.
func (h *harness) createOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	order, err := h.orders.CreateOrder(h.ctx, service.CreateOrderParams{
		ID:       id,
		Buyer:    buyerB,
		Seller:   sellerS,
		Amount:   100,
		Deadline: t0.Add(1000 * time.Second),
	})
	require.NoError(t, err)
	return order
}

func (h *harness) paidOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	h.createOrder(t, id)
	order, err := h.orders.PayForOrder(h.ctx, id, buyerB, 100)
	require.NoError(t, err)
	return order
}

func (h *harness) pendingOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	h.paidOrder(t, id)
	order, err := h.orders.CheckShippingStatus(h.ctx, id, domain.Shipment{Carrier: "ups", TrackingNumber: "1Z" + id})
	require.NoError(t, err)
	return order
}

func (h *harness) balance(t *testing.T, addr common.Address) int64 {
	t.Helper()
	bal, err := h.payments.BalanceOf(h.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (h *harness) feeBalance(t *testing.T, addr common.Address) int64 {
	t.Helper()
	bal, err := h.fees.BalanceOf(h.ctx, addr)
	require.NoError(t, err)
	return bal
}

func (h *harness) escrow(t *testing.T, id string) int64 {
	t.Helper()
	held, err := h.orders.EscrowBalance(h.ctx, id)
	require.NoError(t, err)
	return held
}

func (h *harness) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	order, err := h.orders.GetOrder(h.ctx, id)
	require.NoError(t, err)
	return order.Status
}

// requireConserved checks that escrow holds exactly what open orders are owed,
// both in the store and in the vault's token balance.
func (h *harness) requireConserved(t *testing.T) {
	t.Helper()
	held, err := h.ledger.TotalHeld(h.ctx)
	require.NoError(t, err)
	owed, err := h.store.Orders().SumEscrowed(h.ctx)
	require.NoError(t, err)
	require.Equal(t, owed, held, "escrow held must equal amounts owed to open orders")
	require.Equal(t, held, h.balance(t, vault), "vault must hold exactly the escrowed value")
}
