package service_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"shipping-escrow/internal/domain"
)

func TestAdminService_DefaultsUntilFirstUpdate(t *testing.T) {
	h := newHarness(t)

	details, err := h.admin.OracleDetails(h.ctx)
	require.NoError(t, err)
	require.Equal(t, oracleA, details.Oracle)
	require.Equal(t, "job-a", details.JobID)
	require.Equal(t, int64(1), details.Fee)
	require.Equal(t, owner, h.admin.Owner())
}

func TestAdminService_OnlyOwnerUpdates(t *testing.T) {
	h := newHarness(t)

	for _, caller := range []struct {
		name string
		addr common.Address
	}{{"buyer", buyerB}, {"seller", sellerS}, {"oracle", oracleA}} {
		_, err := h.admin.UpdateOracleDetails(h.ctx, caller.addr, domain.OracleDetails{Oracle: oracleB, JobID: "job-b", Fee: 2})
		require.ErrorIs(t, err, domain.ErrUnauthorized, caller.name)
	}

	details, err := h.admin.OracleDetails(h.ctx)
	require.NoError(t, err)
	require.Equal(t, oracleA, details.Oracle)
}

func TestAdminService_RejectsInvalidDetails(t *testing.T) {
	h := newHarness(t)

	invalid := []domain.OracleDetails{
		{JobID: "job-b", Fee: 1},
		{Oracle: oracleB, JobID: "  ", Fee: 1},
		{Oracle: oracleB, JobID: "job-b", Fee: -1},
	}
	for _, details := range invalid {
		_, err := h.admin.UpdateOracleDetails(h.ctx, owner, details)
		require.ErrorIs(t, err, domain.ErrInvalidOracle)
	}
}

func TestAdminService_ChangesApplyToLaterRequestsOnly(t *testing.T) {
	h := newHarness(t)
	before := h.pendingOrder(t, "before")

	h.clock.Set(t0.Add(time.Minute))
	updated, err := h.admin.UpdateOracleDetails(h.ctx, owner, domain.OracleDetails{
		Oracle:    oracleB,
		Reference: sellerS,
		JobID:     "job-b",
		Fee:       3,
	})
	require.NoError(t, err)
	require.True(t, updated.UpdatedAt.Equal(t0.Add(time.Minute)))

	after := h.pendingOrder(t, "after")

	old, err := h.correlator.Request(h.ctx, before.PendingRequestID)
	require.NoError(t, err)
	require.Equal(t, oracleA, old.Oracle)
	require.Equal(t, "job-a", old.JobID)
	require.Equal(t, int64(1), old.Fee)

	fresh, err := h.correlator.Request(h.ctx, after.PendingRequestID)
	require.NoError(t, err)
	require.Equal(t, oracleB, fresh.Oracle)
	require.Equal(t, "job-b", fresh.JobID)
	require.Equal(t, int64(3), fresh.Fee)

	paidB, err := h.fees.BalanceOf(h.ctx, oracleB)
	require.NoError(t, err)
	require.Equal(t, int64(3), paidB)

	// The earlier request still settles after the change.
	settled, err := h.orders.OnVerificationResult(h.ctx, domain.VerificationResult{RequestID: before.PendingRequestID, Outcome: "delivered"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderDelivered, settled.Status)
}
