package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tracking/internal/domain"
	"tracking/internal/realtime"
	"tracking/internal/service"
)

// TrackingHandler handles HTTP requests for order tracking.
type TrackingHandler struct {
	tracking *service.TrackingService
	status   *service.StatusService
	engine   *realtime.Engine
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(tracking *service.TrackingService, status *service.StatusService, engine *realtime.Engine) *TrackingHandler {
	return &TrackingHandler{
		tracking: tracking,
		status:   status,
		engine:   engine,
	}
}

// UpdateStatusRequest is the HTTP request body for an operator status change.
type UpdateStatusRequest struct {
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

// UpdateStatusResponse is the HTTP response for an applied status change.
type UpdateStatusResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Notes          string `json:"notes,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// GetTracking handles GET /v1/orders/:id/tracking
func (h *TrackingHandler) GetTracking(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: CodeValidation})
			return
		}
		limit = n
	}

	history, err := h.tracking.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, history)
}

// UpdateStatus handles POST /v1/orders/:id/status
func (h *TrackingHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: CodeValidation})
		return
	}

	operatorID := req.OperatorID
	if operatorID == "" {
		operatorID = "operator"
	}

	change, err := h.status.Transition(c.Request.Context(), service.StatusUpdate{
		OrderID: c.Param("id"),
		Status:  domain.DeliveryStatus(req.Status),
		Notes:   req.Notes,
		Actor:   service.Actor{ID: operatorID, Role: domain.RoleOperator},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, UpdateStatusResponse{
		OrderID:        change.OrderID,
		Status:         string(change.Status),
		PreviousStatus: string(change.Previous),
		Notes:          change.Notes,
		Timestamp:      change.Timestamp.Format(time.RFC3339),
	})
}

// Stats handles GET /v1/tracking/stats
func (h *TrackingHandler) Stats(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.engine.Stats())
}
