package handlers

import (
	"net/http"

	"rentora/models"
	"rentora/services/payment"
	"rentora/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentHandler exposes the payment session service over HTTP.
type PaymentHandler struct {
	Service payment.PaymentSessionService
	Logger  *zap.Logger
}

func NewPaymentHandler(service payment.PaymentSessionService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{Service: service, Logger: logger}
}

// OpenHandler creates or reuses the payment session for a booking.
func (h *PaymentHandler) OpenHandler(c *gin.Context) {
	var req models.OpenPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	userID := c.GetString("userID")
	resp, err := h.Service.Open(c.Request.Context(), userID, req)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to open payment session", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelHandler marks a session cancelled (user close or client-side expiry).
func (h *PaymentHandler) CancelHandler(c *gin.Context) {
	paymentID := c.Param("paymentID")
	var req models.PaymentCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	if err := h.Service.Cancel(c.Request.Context(), paymentID, req.Reason); err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to cancel payment session", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// CallbackHandler applies a gateway outcome reported by the client.
func (h *PaymentHandler) CallbackHandler(c *gin.Context) {
	paymentID := c.Param("paymentID")
	var req models.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	session, err := h.Service.HandleCallback(c.Request.Context(), paymentID, req)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to process gateway callback", err.Error())
		return
	}
	h.Logger.Info("gateway callback processed",
		zap.String("payment", paymentID),
		zap.String("outcome", req.Outcome),
		zap.String("status", session.Status))
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// HealthHandler reports stored service health.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, utils.GetHealthStatus())
}
