package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ShippingOutcome string

const (
	OutcomeDelivered        ShippingOutcome = "delivered"
	OutcomeReturnedToSender ShippingOutcome = "return_to_sender"
)

// ParseShippingOutcome accepts the oracle's wire values, case-insensitively.
func ParseShippingOutcome(raw string) (ShippingOutcome, error) {
	switch ShippingOutcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeDelivered:
		return OutcomeDelivered, nil
	case OutcomeReturnedToSender:
		return OutcomeReturnedToSender, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, raw)
}

// OracleDetails is the owner-managed oracle configuration. Requests copy the
// values in effect when they are issued.
type OracleDetails struct {
	Oracle    common.Address
	Reference common.Address
	JobID     string
	Fee       int64
	UpdatedAt time.Time
}

func (d OracleDetails) Validate() error {
	if d.Oracle == (common.Address{}) {
		return fmt.Errorf("oracle address required")
	}
	if strings.TrimSpace(d.JobID) == "" {
		return fmt.Errorf("job id required")
	}
	if d.Fee < 0 {
		return fmt.Errorf("fee must not be negative")
	}
	return nil
}

// Shipment identifies the parcel whose status the oracle is asked about.
type Shipment struct {
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type RequestDispatch string

const (
	RequestPending    RequestDispatch = "PENDING"
	RequestDispatched RequestDispatch = "DISPATCHED"
)

type OracleRequest struct {
	ID           string
	OrderID      string
	Oracle       common.Address
	JobID        string
	Fee          int64
	Shipment     Shipment
	Dispatch     RequestDispatch
	Outcome      ShippingOutcome
	CreatedAt    time.Time
	DispatchedAt *time.Time
	ResolvedAt   *time.Time
}

func (r *OracleRequest) Resolved() bool {
	return r.ResolvedAt != nil
}

// VerificationRequest is what the oracle network receives.
type VerificationRequest struct {
	RequestID string   `json:"request_id"`
	JobID     string   `json:"job_id"`
	OrderID   string   `json:"order_id"`
	Shipment  Shipment `json:"shipment"`
}

// VerificationResult is the oracle's asynchronous answer. Outcome is kept raw
// so unrecognised values can be rejected by the state machine.
type VerificationResult struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
}
