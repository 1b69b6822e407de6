package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type MovementKind string

const (
	MovementDeposit      MovementKind = "DEPOSIT"
	MovementExcessReturn MovementKind = "EXCESS_RETURN"
	MovementRefund       MovementKind = "REFUND"
	MovementRelease      MovementKind = "RELEASE"
)

// EscrowMovement is one journal line of value entering or leaving custody.
type EscrowMovement struct {
	ID           uuid.UUID
	OrderID      string
	Kind         MovementKind
	Counterparty common.Address
	Amount       int64
	CreatedAt    time.Time
}
