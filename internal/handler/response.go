package handler

import (
	"net/http"
	"shipping-escrow/internal/domain"
	"time"

	"github.com/gin-gonic/gin"
)

var reasonStatus = map[string]int{
	"ORDER_NOT_FOUND":        http.StatusNotFound,
	"DUPLICATE_ORDER":        http.StatusConflict,
	"INVALID_ORDER":          http.StatusBadRequest,
	"INVALID_ORDER_STATE":    http.StatusConflict,
	"DEADLINE_PASSED":        http.StatusConflict,
	"TOO_EARLY":              http.StatusConflict,
	"UNAUTHORIZED":           http.StatusForbidden,
	"INSUFFICIENT_PAYMENT":   http.StatusPaymentRequired,
	"INSUFFICIENT_ESCROW":    http.StatusConflict,
	"INSUFFICIENT_FEE":       http.StatusServiceUnavailable,
	"UNKNOWN_REQUEST":        http.StatusNotFound,
	"UNKNOWN_OUTCOME":        http.StatusUnprocessableEntity,
	"INVALID_ORACLE_DETAILS": http.StatusBadRequest,
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// writeError renders err with the status and reason code of the guard that
// rejected it. Anything else is an internal error and its text is not exposed.
func writeError(c *gin.Context, err error) {
	reason := domain.Reason(err)
	status, ok := reasonStatus[reason]
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Reason: "INTERNAL"})
		return
	}
	c.JSON(status, errorResponse{Error: err.Error(), Reason: reason})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Reason: "BAD_REQUEST"})
}

type orderResponse struct {
	ID               string    `json:"id"`
	Buyer            string    `json:"buyer"`
	Seller           string    `json:"seller"`
	Amount           int64     `json:"amount"`
	Deadline         time.Time `json:"deadline"`
	Status           string    `json:"status"`
	PendingRequestID string    `json:"pending_request_id,omitempty"`
	EscrowBalance    *int64    `json:"escrow_balance,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		ID:               o.ID,
		Buyer:            o.Buyer.Hex(),
		Seller:           o.Seller.Hex(),
		Amount:           o.Amount,
		Deadline:         o.Deadline.UTC(),
		Status:           string(o.Status),
		PendingRequestID: o.PendingRequestID,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
}

type movementResponse struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Counterparty string    `json:"counterparty"`
	Amount       int64     `json:"amount"`
	CreatedAt    time.Time `json:"created_at"`
}

type oracleDetailsResponse struct {
	Owner     string     `json:"owner"`
	Oracle    string     `json:"oracle"`
	Reference string     `json:"reference"`
	JobID     string     `json:"job_id"`
	Fee       int64      `json:"fee"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
