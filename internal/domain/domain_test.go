package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusPredicates(t *testing.T) {
	for _, s := range []OrderStatus{OrderDelivered, OrderReturnedToSender, OrderCancelled} {
		require.True(t, s.Terminal(), s)
		require.False(t, s.Escrowed(), s)
	}
	for _, s := range []OrderStatus{OrderPaid, OrderVerificationPending} {
		require.True(t, s.Escrowed(), s)
		require.False(t, s.Terminal(), s)
	}
	require.False(t, OrderCreated.Escrowed())
	require.False(t, OrderCreated.Terminal())
	require.True(t, OrderCreated.Valid())
	require.False(t, OrderStatus("SHIPPED").Valid())
}

func TestDeriveOrderID(t *testing.T) {
	buyer := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	seller := common.HexToAddress("0x0000000000000000000000000000000000000051")

	id := DeriveOrderID(buyer, seller, 1)
	require.Equal(t, id, DeriveOrderID(buyer, seller, 1))
	require.Len(t, id, 66)
	require.NotEqual(t, id, DeriveOrderID(buyer, seller, 2))
	require.NotEqual(t, id, DeriveOrderID(seller, buyer, 1))
}

func TestParseShippingOutcome(t *testing.T) {
	cases := map[string]ShippingOutcome{
		"delivered":        OutcomeDelivered,
		" Delivered ":      OutcomeDelivered,
		"return_to_sender": OutcomeReturnedToSender,
		"RETURN_TO_SENDER": OutcomeReturnedToSender,
	}
	for raw, want := range cases {
		got, err := ParseShippingOutcome(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got)
	}

	for _, raw := range []string{"", "lost", "returned"} {
		_, err := ParseShippingOutcome(raw)
		require.ErrorIs(t, err, ErrUnknownOutcome, raw)
	}
}

func TestReason(t *testing.T) {
	require.Equal(t, "ORDER_NOT_FOUND", Reason(fmt.Errorf("pay: %w", ErrOrderNotFound)))
	require.Equal(t, "INVALID_ORDER_STATE", Reason(fmt.Errorf("pay: %w", ErrInvalidOrderState)))
	require.Equal(t, "TOO_EARLY", Reason(ErrTooEarly))
	require.Equal(t, "INSUFFICIENT_PAYMENT", Reason(errors.Join(ErrInsufficientPayment, errors.New("token"))))
	require.Equal(t, "UNKNOWN_REQUEST", Reason(ErrUnknownRequest))
	require.Empty(t, Reason(errors.New("connection reset")))
	require.Empty(t, Reason(nil))
}

func TestOracleDetailsValidate(t *testing.T) {
	oracle := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	require.NoError(t, OracleDetails{Oracle: oracle, JobID: "job", Fee: 0}.Validate())
	require.Error(t, OracleDetails{JobID: "job"}.Validate())
	require.Error(t, OracleDetails{Oracle: oracle}.Validate())
	require.Error(t, OracleDetails{Oracle: oracle, JobID: "job", Fee: -1}.Validate())
}
