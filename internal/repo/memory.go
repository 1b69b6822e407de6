package repo

import (
	"context"
	"fmt"
	"maps"
	"shipping-escrow/internal/domain"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps every repository in process memory. Transactions are
// serialized by a single writer lock and work on a staged copy that replaces
// the committed state only when fn succeeds. Staging copies the order, request
// and balance maps, so it backs tests, the simulator and local runs rather
// than production traffic. The movement journal is append-only and shared.
type MemoryStore struct {
	writer sync.Mutex
	mu     sync.RWMutex
	state  *memState
}

type tokenKey struct {
	symbol string
	holder common.Address
}

type memState struct {
	orders   map[string]domain.Order
	balances map[string]int64
	tokens   map[tokenKey]int64
	requests map[string]domain.OracleRequest
	settings *domain.OracleDetails

	// journal is shared with the committed state. A transaction appends to
	// pending, which joins journal on commit.
	journal []domain.EscrowMovement
	pending []domain.EscrowMovement
}

func (s *memState) clone() *memState {
	c := &memState{
		orders:   maps.Clone(s.orders),
		balances: maps.Clone(s.balances),
		tokens:   maps.Clone(s.tokens),
		requests: maps.Clone(s.requests),
		journal:  s.journal,
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	return c
}

type memTxKey struct{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		orders:   make(map[string]domain.Order),
		balances: make(map[string]int64),
		tokens:   make(map[tokenKey]int64),
		requests: make(map[string]domain.OracleRequest),
	}}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memState); ok {
		return fn(ctx)
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.RLock()
	staged := s.state.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, staged)); err != nil {
		return err
	}
	staged.journal = append(staged.journal, staged.pending...)
	staged.pending = nil

	s.mu.Lock()
	s.state = staged
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read(ctx context.Context, fn func(st *memState) error) error {
	if staged, ok := ctx.Value(memTxKey{}).(*memState); ok {
		return fn(staged)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *MemoryStore) write(ctx context.Context, fn func(st *memState) error) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(ctx.Value(memTxKey{}).(*memState))
	})
}

func (s *MemoryStore) Orders() OrderRepo { return memOrders{s} }
func (s *MemoryStore) Escrow() EscrowRepo { return memEscrow{s} }
func (s *MemoryStore) Requests() RequestRepo { return memRequests{s} }
func (s *MemoryStore) Settings() SettingsRepo { return memSettings{s} }
func (s *MemoryStore) Tokens() TokenRepo { return memTokens{s} }

type memOrders struct{ s *MemoryStore }

func (r memOrders) CreateOrder(ctx context.Context, order *domain.Order) error {
	return r.s.write(ctx, func(st *memState) error {
		if _, exists := st.orders[order.ID]; exists {
			return domain.ErrDuplicateOrder
		}
		st.orders[order.ID] = *order
		return nil
	})
}

func (r memOrders) FindById(ctx context.Context, id string) (*domain.Order, error) {
	var found *domain.Order
	err := r.s.read(ctx, func(st *memState) error {
		if order, ok := st.orders[id]; ok {
			found = &order
		}
		return nil
	})
	return found, err
}

// FindForUpdate needs no row lock: transactions already hold the writer lock.
func (r memOrders) FindForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.FindById(ctx, id)
}

func (r memOrders) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	return r.s.write(ctx, func(st *memState) error {
		existing, ok := st.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		existing.Status = order.Status
		existing.PendingRequestID = order.PendingRequestID
		existing.UpdatedAt = order.UpdatedAt
		st.orders[order.ID] = existing
		return nil
	})
}

func (r memOrders) FindStalledVerifications(ctx context.Context, before time.Time) ([]domain.Order, error) {
	var orders []domain.Order
	err := r.s.read(ctx, func(st *memState) error {
		for _, order := range st.orders {
			if order.Status == domain.OrderVerificationPending && order.UpdatedAt.Before(before) {
				orders = append(orders, order)
			}
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt.Before(orders[j].UpdatedAt) })
	return orders, err
}

func (r memOrders) SumEscrowed(ctx context.Context) (int64, error) {
	var total int64
	err := r.s.read(ctx, func(st *memState) error {
		for _, order := range st.orders {
			if order.Status.Escrowed() {
				total += order.Amount
			}
		}
		return nil
	})
	return total, err
}

type memEscrow struct{ s *MemoryStore }

func (r memEscrow) Balance(ctx context.Context, orderId string) (int64, error) {
	var held int64
	err := r.s.read(ctx, func(st *memState) error {
		held = st.balances[orderId]
		return nil
	})
	return held, err
}

func (r memEscrow) Credit(ctx context.Context, orderId string, amount int64) error {
	return r.s.write(ctx, func(st *memState) error {
		st.balances[orderId] += amount
		return nil
	})
}

func (r memEscrow) Debit(ctx context.Context, orderId string, amount int64) error {
	return r.s.write(ctx, func(st *memState) error {
		if st.balances[orderId] < amount {
			return domain.ErrInsufficientEscrow
		}
		st.balances[orderId] -= amount
		return nil
	})
}

func (r memEscrow) TotalHeld(ctx context.Context) (int64, error) {
	var total int64
	err := r.s.read(ctx, func(st *memState) error {
		for _, held := range st.balances {
			total += held
		}
		return nil
	})
	return total, err
}

func (r memEscrow) RecordMovement(ctx context.Context, m *domain.EscrowMovement) error {
	return r.s.write(ctx, func(st *memState) error {
		st.pending = append(st.pending, *m)
		return nil
	})
}

func (r memEscrow) Movements(ctx context.Context, orderId string) ([]domain.EscrowMovement, error) {
	var movements []domain.EscrowMovement
	err := r.s.read(ctx, func(st *memState) error {
		for _, journal := range [][]domain.EscrowMovement{st.journal, st.pending} {
			for _, m := range journal {
				if m.OrderID == orderId {
					movements = append(movements, m)
				}
			}
		}
		return nil
	})
	return movements, err
}

type memRequests struct{ s *MemoryStore }

func (r memRequests) CreateRequest(ctx context.Context, req *domain.OracleRequest) error {
	return r.s.write(ctx, func(st *memState) error {
		st.requests[req.ID] = *req
		return nil
	})
}

func (r memRequests) FindById(ctx context.Context, id string) (*domain.OracleRequest, error) {
	var found *domain.OracleRequest
	err := r.s.read(ctx, func(st *memState) error {
		if req, ok := st.requests[id]; ok {
			found = &req
		}
		return nil
	})
	return found, err
}

func (r memRequests) Consume(ctx context.Context, id string, outcome domain.ShippingOutcome, at time.Time) (string, error) {
	var orderId string
	err := r.s.write(ctx, func(st *memState) error {
		req, ok := st.requests[id]
		if !ok || req.Resolved() {
			return domain.ErrUnknownRequest
		}
		req.Outcome = outcome
		req.ResolvedAt = &at
		st.requests[id] = req
		orderId = req.OrderID
		return nil
	})
	return orderId, err
}

func (r memRequests) FindUndispatched(ctx context.Context, limit int) ([]domain.OracleRequest, error) {
	var pending []domain.OracleRequest
	err := r.s.read(ctx, func(st *memState) error {
		for _, req := range st.requests {
			if req.Dispatch == domain.RequestPending && !req.Resolved() {
				pending = append(pending, req)
			}
		}
		return nil
	})
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, err
}

func (r memRequests) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return r.s.write(ctx, func(st *memState) error {
		req, ok := st.requests[id]
		if !ok {
			return domain.ErrUnknownRequest
		}
		req.Dispatch = domain.RequestDispatched
		req.DispatchedAt = &at
		st.requests[id] = req
		return nil
	})
}

type memSettings struct{ s *MemoryStore }

func (r memSettings) OracleDetails(ctx context.Context) (*domain.OracleDetails, error) {
	var found *domain.OracleDetails
	err := r.s.read(ctx, func(st *memState) error {
		if st.settings != nil {
			details := *st.settings
			found = &details
		}
		return nil
	})
	return found, err
}

func (r memSettings) SaveOracleDetails(ctx context.Context, details domain.OracleDetails) error {
	return r.s.write(ctx, func(st *memState) error {
		st.settings = &details
		return nil
	})
}

type memTokens struct{ s *MemoryStore }

func (r memTokens) BalanceOf(ctx context.Context, symbol string, holder common.Address) (int64, error) {
	var balance int64
	err := r.s.read(ctx, func(st *memState) error {
		balance = st.tokens[tokenKey{symbol, holder}]
		return nil
	})
	return balance, err
}

func (r memTokens) Move(ctx context.Context, symbol string, from, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%s: negative transfer amount %d", symbol, amount)
	}
	if amount == 0 || from == to {
		return nil
	}
	return r.s.write(ctx, func(st *memState) error {
		src, dst := tokenKey{symbol, from}, tokenKey{symbol, to}
		if st.tokens[src] < amount {
			return fmt.Errorf("%s transfer %s -> %s: %w", symbol, from.Hex(), to.Hex(), ErrInsufficientBalance)
		}
		st.tokens[src] -= amount
		st.tokens[dst] += amount
		return nil
	})
}

func (r memTokens) Mint(ctx context.Context, symbol string, to common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%s: negative mint amount %d", symbol, amount)
	}
	return r.s.write(ctx, func(st *memState) error {
		st.tokens[tokenKey{symbol, to}] += amount
		return nil
	})
}

func (r memTokens) Seed(ctx context.Context, symbol string, genesis map[common.Address]int64) error {
	return r.s.write(ctx, func(st *memState) error {
		for holder, amount := range genesis {
			if amount < 0 {
				return fmt.Errorf("%s: negative genesis balance for %s", symbol, holder.Hex())
			}
			key := tokenKey{symbol, holder}
			if _, known := st.tokens[key]; !known {
				st.tokens[key] = amount
			}
		}
		return nil
	})
}
