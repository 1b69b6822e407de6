package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shipping-escrow/internal/domain"
)

func TestSignature(t *testing.T) {
	body := []byte(`{"request_id":"r1","outcome":"delivered"}`)
	sig := Sign("secret", body)

	require.True(t, VerifySignature("secret", body, sig))
	require.True(t, VerifySignature("secret", body, " "+sig+" "))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature("secret", []byte(`{"request_id":"r1","outcome":"return_to_sender"}`), sig))
	require.False(t, VerifySignature("secret", body, ""))
	require.False(t, VerifySignature("secret", body, "not-hex"))
	require.False(t, VerifySignature("", body, Sign("", body)))
}

func TestRejected(t *testing.T) {
	require.True(t, Rejected(fmt.Errorf("x: %w", domain.ErrUnknownRequest)))
	require.True(t, Rejected(domain.ErrUnknownOutcome))
	require.True(t, Rejected(domain.ErrOrderNotFound))
	require.False(t, Rejected(errors.New("database is down")))
}

type collector struct {
	mu      sync.Mutex
	results []domain.VerificationResult
}

func (c *collector) handle(ctx context.Context, r domain.VerificationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func TestMockNode_AnswersByChance(t *testing.T) {
	cases := []struct {
		chance int
		want   domain.ShippingOutcome
	}{
		{0, domain.OutcomeDelivered},
		{69, domain.OutcomeDelivered},
		{70, domain.OutcomeReturnedToSender},
		{89, domain.OutcomeReturnedToSender},
		{90, ""},
		{99, ""},
	}
	for _, tc := range cases {
		node := NewMockNode(time.Millisecond)
		node.pick = func() int { return tc.chance }
		c := &collector{}
		node.Attach(c.handle)

		require.NoError(t, node.Send(context.Background(), domain.VerificationRequest{RequestID: "r1", OrderID: "O1"}))
		node.Wait()

		if tc.want == "" {
			require.Empty(t, c.results, tc.chance)
			continue
		}
		require.Len(t, c.results, 1, tc.chance)
		require.Equal(t, "r1", c.results[0].RequestID)
		require.Equal(t, string(tc.want), c.results[0].Outcome)
	}
}

func TestMockNode_AnswersEachRequestOnce(t *testing.T) {
	node := NewMockNode(0)
	node.pick = func() int { return 0 }
	c := &collector{}
	node.Attach(c.handle)

	for i := 0; i < 3; i++ {
		require.NoError(t, node.Send(context.Background(), domain.VerificationRequest{RequestID: "r1"}))
	}
	require.NoError(t, node.Send(context.Background(), domain.VerificationRequest{RequestID: "r2"}))
	node.Wait()

	require.Len(t, c.results, 2)
	require.Error(t, node.Send(context.Background(), domain.VerificationRequest{}))
}
