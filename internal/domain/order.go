package domain

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type OrderStatus string

const (
	OrderCreated             OrderStatus = "CREATED"
	OrderPaid                OrderStatus = "PAID"
	OrderVerificationPending OrderStatus = "VERIFICATION_PENDING"
	OrderDelivered           OrderStatus = "DELIVERED"
	OrderReturnedToSender    OrderStatus = "RETURNED_TO_SENDER"
	OrderCancelled           OrderStatus = "CANCELLED"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderCreated, OrderPaid, OrderVerificationPending, OrderDelivered, OrderReturnedToSender, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderReturnedToSender || s == OrderCancelled
}

// Escrowed reports whether an order in status s must have its amount held in escrow.
func (s OrderStatus) Escrowed() bool {
	return s == OrderPaid || s == OrderVerificationPending
}

type Order struct {
	ID               string
	Buyer            common.Address
	Seller           common.Address
	Amount           int64
	Deadline         time.Time
	Status           OrderStatus
	PendingRequestID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsParty reports whether addr is the buyer or the seller of the order.
func (o *Order) IsParty(addr common.Address) bool {
	return addr == o.Buyer || addr == o.Seller
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// DeriveOrderID returns the hex keccak256 digest of buyer, seller and a
// big-endian nonce. Callers that do not supply their own identifier use it to
// get a stable id for the same (buyer, seller, nonce) triple.
func DeriveOrderID(buyer, seller common.Address, nonce uint64) string {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(buyer.Bytes(), seller.Bytes(), n[:]).Hex()
}
