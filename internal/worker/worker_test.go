package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/repo"
)

var (
	t0    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	vault = common.HexToAddress("0xe5")
)

func seed(t *testing.T, store *repo.MemoryStore, id string, status domain.OrderStatus, amount int64, updated time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Orders().CreateOrder(ctx, &domain.Order{
		ID:               id,
		Buyer:            common.HexToAddress("0xb0"),
		Seller:           common.HexToAddress("0x5e"),
		Amount:           amount,
		Deadline:         t0.Add(time.Hour),
		Status:           status,
		PendingRequestID: "req-" + id,
		CreatedAt:        updated,
		UpdatedAt:        updated,
	}))
	if status.Escrowed() {
		require.NoError(t, store.Escrow().Credit(ctx, id, amount))
		require.NoError(t, store.Tokens().Mint(ctx, "PAY", vault, amount))
	}
}

func newReconciler(store *repo.MemoryStore, stallAfter time.Duration) *ReconciliationWorker {
	payments := token.NewLedger("PAY", vault, store.Tokens())
	rw := NewReconciliationWorker(store, store.Orders(), store.Escrow(), payments, time.Minute, stallAfter)
	rw.clock = func() time.Time { return t0 }
	return rw
}

func TestReconcile_ReportsStalledVerifications(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(t, store, "old", domain.OrderVerificationPending, 100, t0.Add(-2*time.Hour))
	seed(t, store, "fresh", domain.OrderVerificationPending, 50, t0.Add(-time.Minute))
	seed(t, store, "paid", domain.OrderPaid, 30, t0.Add(-3*time.Hour))
	seed(t, store, "done", domain.OrderDelivered, 70, t0.Add(-3*time.Hour))

	report, err := newReconciler(store, time.Hour).Reconcile(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Stalled, 1)
	require.Equal(t, "old", report.Stalled[0].ID)
	require.Equal(t, int64(180), report.Held)
	require.Equal(t, int64(180), report.Owed)
	require.Equal(t, int64(180), report.Vault)
	require.Zero(t, report.Drift())
	require.Zero(t, report.Shortfall())

	// Reporting never settles anything.
	order, err := store.Orders().FindById(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, domain.OrderVerificationPending, order.Status)
	held, err := store.Escrow().Balance(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, int64(100), held)
}

func TestReconcile_DetectsDrift(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(t, store, "paid", domain.OrderPaid, 40, t0)
	require.NoError(t, store.Escrow().Credit(context.Background(), "stray", 5))

	report, err := newReconciler(store, time.Hour).Reconcile(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Stalled)
	require.Equal(t, int64(5), report.Drift())
}

func TestReconcile_ReportsVaultShortfall(t *testing.T) {
	store := repo.NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "paid", domain.OrderPaid, 100, t0)
	// The vault paid 40 out without the escrow ledger.
	require.NoError(t, store.Tokens().Move(ctx, "PAY", vault, common.HexToAddress("0x99"), 40))

	report, err := newReconciler(store, time.Hour).Reconcile(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Drift())
	require.Equal(t, int64(60), report.Vault)
	require.Equal(t, int64(40), report.Shortfall())
}

type fakeDispatcher struct {
	mu     sync.Mutex
	limits []int
	sent   int
	err    error
}

func (f *fakeDispatcher) DispatchPending(_ context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.sent, f.err
}

func (f *fakeDispatcher) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.limits...)
}

func TestDispatchWorker_ProcessUsesBatch(t *testing.T) {
	fake := &fakeDispatcher{sent: 2, err: errors.New("node unreachable")}
	dw := NewDispatchWorker(fake, time.Minute, 25)

	dw.process(context.Background())
	dw.process(context.Background())

	require.Equal(t, []int{25, 25}, fake.calls())
}

func TestDispatchWorker_RunStopsWithContext(t *testing.T) {
	fake := &fakeDispatcher{}
	dw := NewDispatchWorker(fake, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(fake.calls()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch worker did not stop")
	}
}
