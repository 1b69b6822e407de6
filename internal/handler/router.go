package handler

import (
	"net/http"
	"time"

	"shipping-escrow/internal/database"
	"shipping-escrow/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Orders         service.OrderService
	Admin          service.AdminService
	DB             database.Service
	CallbackSecret string

	// CallerSkew bounds how far a signed request timestamp may drift.
	CallerSkew time.Duration
	Clock      func() time.Time
}

// NewRouter wires every HTTP route of the escrow engine.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", HeaderCaller, HeaderTimestamp, HeaderNonce, HeaderSignature},
	}))

	orders := NewOrderHandler(deps.Orders)
	callbacks := NewOracleHandler(deps.Orders, deps.CallbackSecret)
	admin := NewAdminHandler(deps.Admin)
	auth := NewCallerAuth(deps.CallerSkew, deps.Clock)

	r.GET("/healthz", func(c *gin.Context) {
		stats := deps.DB.Health(c.Request.Context())
		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, stats)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/orders", orders.CreateOrder)
	r.GET("/orders/:id", orders.GetOrder)
	r.GET("/orders/:id/movements", orders.GetMovements)
	r.POST("/orders/:id/pay", auth.RequireCaller(), orders.PayForOrder)
	r.POST("/orders/:id/cancel", auth.RequireCaller(), orders.CancelOrder)
	r.POST("/orders/:id/shipping-status", orders.CheckShippingStatus)

	r.POST("/oracle/callback", callbacks.Callback)

	r.GET("/admin/oracle", admin.GetOracleDetails)
	r.PUT("/admin/oracle", auth.RequireCaller(), admin.UpdateOracleDetails)

	return r
}
