package handler

import (
	"net/http"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/service"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orders service.OrderService
}

func NewOrderHandler(orders service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type createOrderRequest struct {
	ID       string    `json:"id"`
	Buyer    string    `json:"buyer" binding:"required"`
	Seller   string    `json:"seller" binding:"required"`
	Nonce    uint64    `json:"nonce"`
	Amount   int64     `json:"amount"`
	Deadline time.Time `json:"deadline"`
}

type payRequest struct {
	Value int64 `json:"value"`
}

type shippingStatusRequest struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.Buyer) || !common.IsHexAddress(req.Seller) {
		badRequest(c, "buyer and seller must be hex addresses")
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), service.CreateOrderParams{
		ID:       strings.TrimSpace(req.ID),
		Buyer:    common.HexToAddress(req.Buyer),
		Seller:   common.HexToAddress(req.Seller),
		Nonce:    req.Nonce,
		Amount:   req.Amount,
		Deadline: req.Deadline,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := h.orders.GetOrder(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	balance, err := h.orders.EscrowBalance(ctx, order.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toOrderResponse(order)
	resp.EscrowBalance = &balance
	c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) GetMovements(c *gin.Context) {
	movements, err := h.orders.Movements(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		resp = append(resp, movementResponse{
			ID:           m.ID.String(),
			Kind:         string(m.Kind),
			Counterparty: m.Counterparty.Hex(),
			Amount:       m.Amount,
			CreatedAt:    m.CreatedAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"movements": resp})
}

func (h *OrderHandler) PayForOrder(c *gin.Context) {
	caller, _ := GetCaller(c)
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := h.orders.PayForOrder(c.Request.Context(), c.Param("id"), caller, req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	caller, _ := GetCaller(c)
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) CheckShippingStatus(c *gin.Context) {
	var req shippingStatusRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	order, err := h.orders.CheckShippingStatus(c.Request.Context(), c.Param("id"), domain.Shipment{
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toOrderResponse(order))
}
