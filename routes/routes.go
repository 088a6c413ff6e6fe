package routes

import (
	"rentora/handlers"
	"rentora/middleware"

	"github.com/gin-gonic/gin"
)

// HandlerBundle aggregates the handlers wired in main.
type HandlerBundle struct {
	Lease   *handlers.LeaseHandler
	Payment *handlers.PaymentHandler
}

// RegisterRoutes registers all endpoints of the coordination service.
func RegisterRoutes(r *gin.Engine, hb *HandlerBundle) {
	r.GET("/health", handlers.HealthHandler)

	api := r.Group("/api")
	api.Use(middleware.JWTAuthMiddleware())

	leases := api.Group("/leases")
	{
		leases.POST("/:resourceID/acquire", hb.Lease.AcquireHandler)
		leases.POST("/:resourceID/heartbeat", hb.Lease.HeartbeatHandler)
		leases.POST("/:resourceID/release", hb.Lease.ReleaseHandler)
		leases.GET("/:resourceID", hb.Lease.CheckHandler)
	}

	payments := api.Group("/payments")
	{
		payments.POST("/open", hb.Payment.OpenHandler)
		payments.POST("/:paymentID/cancel", hb.Payment.CancelHandler)
		payments.POST("/:paymentID/callback", hb.Payment.CallbackHandler)
	}
}
