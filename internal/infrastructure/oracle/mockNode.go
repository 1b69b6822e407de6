package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"shipping-escrow/internal/domain"
)

// MockNode answers requests in process after a delay: 70% delivered, 20%
// returned to sender, 10% never answered. Repeated sends of the same request id
// are answered once.
type MockNode struct {
	mu       sync.Mutex
	handler  ResultHandler
	delay    time.Duration
	answered map[string]bool
	pick     func() int
	wg       sync.WaitGroup
}

func NewMockNode(delay time.Duration) *MockNode {
	return &MockNode{
		delay:    delay,
		answered: make(map[string]bool),
		pick:     func() int { return rand.Intn(100) },
	}
}

// Attach sets where answers are delivered. Requests sent before Attach are
// still accepted but their answers are dropped.
func (n *MockNode) Attach(handler ResultHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

func (n *MockNode) Send(ctx context.Context, req domain.VerificationRequest) error {
	if req.RequestID == "" {
		return errors.New("mock oracle: request id required")
	}

	n.mu.Lock()
	if _, seen := n.answered[req.RequestID]; seen {
		n.mu.Unlock()
		return nil
	}
	n.answered[req.RequestID] = true
	handler := n.handler
	chance := n.pick()
	n.mu.Unlock()

	var outcome domain.ShippingOutcome
	switch {
	case chance < 70:
		outcome = domain.OutcomeDelivered
	case chance < 90:
		outcome = domain.OutcomeReturnedToSender
	default:
		slog.Info("mock oracle: request will never be answered", "request_id", req.RequestID, "order_id", req.OrderID)
		return nil
	}
	if handler == nil {
		return nil
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		time.Sleep(n.delay)
		result := domain.VerificationResult{RequestID: req.RequestID, Outcome: string(outcome)}
		if err := handler(context.Background(), result); err != nil {
			slog.Warn("mock oracle: callback failed", "request_id", req.RequestID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled answer has been delivered.
func (n *MockNode) Wait() {
	n.wg.Wait()
}
