package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/infrastructure/oracle"
	"shipping-escrow/internal/service"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 64 << 10

// OracleHandler receives verification results pushed over HTTP. Bodies must be
// signed with the shared callback secret.
type OracleHandler struct {
	orders service.OrderService
	secret string
}

func NewOracleHandler(orders service.OrderService, secret string) *OracleHandler {
	return &OracleHandler{orders: orders, secret: secret}
}

func (h *OracleHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, "could not read body")
		return
	}
	if !oracle.VerifySignature(h.secret, body, c.GetHeader(oracle.HeaderSignature)) {
		slog.Warn("oracle callback with bad signature", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid callback signature", Reason: "UNAUTHORIZED"})
		return
	}

	var result domain.VerificationResult
	if err := json.Unmarshal(body, &result); err != nil {
		badRequest(c, "malformed verification result")
		return
	}

	order, err := h.orders.OnVerificationResult(c.Request.Context(), result)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}
