package handlers

import (
	"net/http"

	"rentora/models"
	"rentora/services/lease"
	"rentora/utils"

	"github.com/gin-gonic/gin"
)

// LeaseHandler exposes the lease service over HTTP.
type LeaseHandler struct {
	Service lease.LeaseService
}

func NewLeaseHandler(service lease.LeaseService) *LeaseHandler {
	return &LeaseHandler{Service: service}
}

// AcquireHandler attempts to grant the payment lock for a resource.
// Conflicts answer 409 so clients can distinguish "held elsewhere" from
// transport failure without parsing bodies.
func (h *LeaseHandler) AcquireHandler(c *gin.Context) {
	resourceID := c.Param("resourceID")
	var req models.LeaseAcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	resp, err := h.Service.Acquire(c.Request.Context(), resourceID, req)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to acquire lease", err.Error())
		return
	}
	if !resp.Granted {
		c.JSON(http.StatusConflict, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HeartbeatHandler renews the caller's lease. A 200 with stillHeld:false is
// the definitive lost-lease signal; any non-200 is transport noise the client
// must treat as transient.
func (h *LeaseHandler) HeartbeatHandler(c *gin.Context) {
	resourceID := c.Param("resourceID")
	var req models.LeaseHeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	resp, err := h.Service.Heartbeat(c.Request.Context(), resourceID, req)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to heartbeat lease", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ReleaseHandler drops the caller's lease. Always acks; releasing an expired
// or absent lease is fine.
func (h *LeaseHandler) ReleaseHandler(c *gin.Context) {
	resourceID := c.Param("resourceID")
	var req models.LeaseReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	resp, err := h.Service.Release(c.Request.Context(), resourceID, req)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to release lease", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CheckHandler reports whether a resource is leased and by whom.
func (h *LeaseHandler) CheckHandler(c *gin.Context) {
	resourceID := c.Param("resourceID")
	holderID := c.Query("holderId")

	resp, err := h.Service.Check(c.Request.Context(), resourceID, holderID)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, "failed to check lease", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}
