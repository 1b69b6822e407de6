package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInvalidOrderState   = errors.New("invalid order state")
	ErrDeadlinePassed      = errors.New("order deadline has passed")
	ErrTooEarly            = errors.New("order deadline has not passed yet")
	ErrUnauthorized        = errors.New("caller is not authorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInsufficientEscrow  = errors.New("insufficient escrow balance")
	ErrInsufficientFee     = errors.New("insufficient verification fee balance")
	ErrUnknownRequest      = errors.New("unknown verification request")
	ErrUnknownOutcome      = errors.New("unknown shipping outcome")
	ErrInvalidOracle       = errors.New("invalid oracle details")

	// ErrOrderNotFound is an ErrInvalidOrderState: operating on an order that
	// does not exist is operating from the wrong state.
	ErrOrderNotFound = fmt.Errorf("order not found: %w", ErrInvalidOrderState)
)

var reasons = []struct {
	err  error
	code string
}{
	{ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{ErrDuplicateOrder, "DUPLICATE_ORDER"},
	{ErrInvalidOrder, "INVALID_ORDER"},
	{ErrInvalidOrderState, "INVALID_ORDER_STATE"},
	{ErrDeadlinePassed, "DEADLINE_PASSED"},
	{ErrTooEarly, "TOO_EARLY"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInsufficientPayment, "INSUFFICIENT_PAYMENT"},
	{ErrInsufficientEscrow, "INSUFFICIENT_ESCROW"},
	{ErrInsufficientFee, "INSUFFICIENT_FEE"},
	{ErrUnknownRequest, "UNKNOWN_REQUEST"},
	{ErrUnknownOutcome, "UNKNOWN_OUTCOME"},
	{ErrInvalidOracle, "INVALID_ORACLE_DETAILS"},
}

// Reason returns the stable code for a guard failure, or "" for errors that
// are not guard failures.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}
