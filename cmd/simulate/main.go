package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/oracle"
	"shipping-escrow/internal/infrastructure/token"
	"shipping-escrow/internal/logging"
	"shipping-escrow/internal/repo"
	"shipping-escrow/internal/service"
	"shipping-escrow/internal/worker"
)

type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	vault  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	node   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	seller = common.HexToAddress("0x00000000000000000000000000000000000005e1")
)

func buyer(i int) common.Address {
	return common.BytesToAddress([]byte{0xb0, byte(i)})
}

func main() {
	ctx := context.Background()
	logging.Setup("simulate", "local")

	clock := &simClock{now: time.Now()}
	store := repo.NewMemoryStore()

	genesis := make(map[common.Address]int64)
	for i := 0; i < 20; i++ {
		genesis[buyer(i)] = 1_000
	}
	payments := token.NewLedger("PAY", vault, store.Tokens())
	if err := payments.Seed(ctx, genesis); err != nil {
		log.Fatalf("Seed Failed: %v", err)
	}
	fees := token.NewLedger("FEE", vault, store.Tokens())
	if err := fees.Seed(ctx, map[common.Address]int64{vault: 15}); err != nil {
		log.Fatalf("Seed Failed: %v", err)
	}

	admin := service.NewAdminService(store.Settings(), owner, domain.OracleDetails{
		Oracle: node,
		JobID:  "shipping-status",
		Fee:    1,
	}, clock.Now)

	mock := oracle.NewMockNode(50 * time.Millisecond)
	ledger := service.NewEscrowLedger(store, store.Escrow(), payments, clock.Now)
	correlator := service.NewOracleRequestCorrelator(store.Requests(), admin, fees, vault, mock, clock.Now)
	orderService := service.NewOrderService(store, store.Orders(), ledger, correlator, service.WithClock(clock.Now))
	mock.Attach(func(ctx context.Context, result domain.VerificationResult) error {
		_, err := orderService.OnVerificationResult(ctx, result)
		return err
	})

	fmt.Println("--- STARTING SIMULATION (20 ORDERS) ---")
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		order, err := orderService.CreateOrder(ctx, service.CreateOrderParams{
			Buyer:    buyer(i),
			Seller:   seller,
			Nonce:    uint64(i),
			Amount:   int64(100 + i),
			Deadline: clock.Now().Add(1000 * time.Second),
		})
		if err != nil {
			log.Printf("Create Failed: %v", err)
			continue
		}
		ids = append(ids, order.ID)
		fmt.Printf("[%d] Order %s ... ", i+1, order.ID[:10])

		// Every fifth buyer never pays.
		if i%5 == 4 {
			fmt.Println("left unpaid")
			continue
		}
		if _, err := orderService.PayForOrder(ctx, order.ID, order.Buyer, order.Amount+int64(i%3)); err != nil {
			fmt.Printf("PAY FAILED: %v\n", err)
			continue
		}
		// Some sellers never ask for verification.
		if i%7 == 3 {
			fmt.Println("paid, never shipped")
			continue
		}
		if _, err := orderService.CheckShippingStatus(ctx, order.ID, domain.Shipment{Carrier: "sim", TrackingNumber: fmt.Sprintf("TRK%04d", i)}); err != nil {
			fmt.Printf("VERIFICATION FAILED: %v\n", err)
			continue
		}
		fmt.Println("paid, verification requested")
	}

	mock.Wait()
	clock.Advance(1001 * time.Second)

	fmt.Println("--- DEADLINE PASSED ---")
	for _, id := range ids {
		order, err := orderService.GetOrder(ctx, id)
		if err != nil {
			log.Printf("Get Failed: %v", err)
			continue
		}
		if order.Status == domain.OrderCreated || order.Status == domain.OrderPaid {
			if _, err := orderService.CancelOrder(ctx, id, order.Buyer); err != nil {
				fmt.Printf("%s CANCEL FAILED: %v\n", id[:10], err)
				continue
			}
			order, _ = orderService.GetOrder(ctx, id)
		}
		balance, _ := orderService.EscrowBalance(ctx, id)
		fmt.Printf("%s -> %-20s escrow=%d\n", id[:10], order.Status, balance)
	}

	reconciler := worker.NewReconciliationWorker(store, store.Orders(), ledger, payments, time.Second, 0)
	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		log.Fatalf("Reconcile Failed: %v", err)
	}
	sellerBalance, _ := payments.BalanceOf(ctx, seller)
	vaultBalance, _ := payments.BalanceOf(ctx, vault)
	fmt.Println("---------------------------------------------------")
	fmt.Printf("stalled verifications: %d\n", len(report.Stalled))
	fmt.Printf("escrow held=%d owed=%d drift=%d\n", report.Held, report.Owed, report.Drift())
	fmt.Printf("seller balance=%d vault balance=%d shortfall=%d\n", sellerBalance, vaultBalance, report.Shortfall())
}
