package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// CallHandler exposes the node-local operations API: call control, session
// inspection, history and health.
type CallHandler struct {
	calls   ports.CallService
	records ports.CallRecordRepository
	health  *monitoring.HealthChecker
}

func NewCallHandler(
	calls ports.CallService,
	records ports.CallRecordRepository,
	health *monitoring.HealthChecker,
) *CallHandler {
	return &CallHandler{
		calls:   calls,
		records: records,
		health:  health,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1")
	{
		api.POST("/calls", h.InitiateCall)
		api.GET("/calls", h.ListCalls)
		api.GET("/calls/:id", h.GetCall)
		api.POST("/calls/:id/accept", h.AcceptCall)
		api.POST("/calls/:id/reject", h.RejectCall)
		api.POST("/calls/:id/end", h.EndCall)
		api.POST("/calls/:id/audio", h.ToggleAudio)
		api.POST("/calls/:id/video", h.ToggleVideo)
		api.POST("/calls/:id/quality", h.AdjustQuality)
		api.POST("/calls/:id/quality/auto", h.AutoAdjustQuality)

		api.POST("/conferences", h.CreateConference)
		api.POST("/conferences/:id/invite", h.Invite)
		api.POST("/conferences/:id/join", h.Join)
		api.POST("/conferences/:id/leave", h.Leave)

		api.GET("/statistics", h.Statistics)
		api.GET("/records", h.ListRecords)
	}
}

func (h *CallHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *CallHandler) InitiateCall(c *gin.Context) {
	var req struct {
		Target   domain.UserID       `json:"target" binding:"required"`
		CallType domain.CallType     `json:"call_type" binding:"required"`
		Metadata domain.CallMetadata `json:"metadata"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.calls.Initiate(c.Request.Context(), req.Target, req.CallType, req.Metadata)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": session})
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.calls.ActiveCalls()})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	session, ok := h.calls.GetCall(domain.CallID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": session})
}

func (h *CallHandler) AcceptCall(c *gin.Context) {
	if err := h.calls.AcceptCall(c.Request.Context(), domain.CallID(c.Param("id"))); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) RejectCall(c *gin.Context) {
	var req struct {
		Reason domain.EndReason `json:"reason"`
	}
	_ = c.BindJSON(&req)

	if err := h.calls.RejectCall(c.Request.Context(), domain.CallID(c.Param("id")), req.Reason); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) EndCall(c *gin.Context) {
	var req struct {
		Reason domain.EndReason `json:"reason"`
	}
	_ = c.BindJSON(&req)

	if err := h.calls.EndCall(c.Request.Context(), domain.CallID(c.Param("id")), req.Reason); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) ToggleAudio(c *gin.Context) {
	h.toggle(c, h.calls.ToggleAudio)
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	h.toggle(c, h.calls.ToggleVideo)
}

func (h *CallHandler) toggle(c *gin.Context, fn func(ctx context.Context, callID domain.CallID, enabled bool) error) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := fn(c.Request.Context(), domain.CallID(c.Param("id")), *req.Enabled); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) AdjustQuality(c *gin.Context) {
	var req struct {
		Preset string `json:"preset" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.calls.AdjustQuality(c.Request.Context(), domain.CallID(c.Param("id")), req.Preset); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) AutoAdjustQuality(c *gin.Context) {
	tier, err := h.calls.AutoAdjustQuality(c.Request.Context(), domain.CallID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": tier})
}

func (h *CallHandler) CreateConference(c *gin.Context) {
	var req struct {
		GroupID  domain.GroupID      `json:"group_id" binding:"required"`
		CallType domain.CallType     `json:"call_type" binding:"required"`
		Metadata domain.CallMetadata `json:"metadata"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.calls.CreateConference(c.Request.Context(), req.GroupID, req.CallType, req.Metadata)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": session})
}

func (h *CallHandler) Invite(c *gin.Context) {
	var req struct {
		UserIDs []domain.UserID        `json:"user_ids" binding:"required,min=1"`
		Role    domain.ParticipantRole `json:"role"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.calls.InviteToConference(c.Request.Context(), domain.CallID(c.Param("id")), req.UserIDs, req.Role); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) Join(c *gin.Context) {
	var req struct {
		Role domain.ParticipantRole `json:"role"`
	}
	_ = c.BindJSON(&req)

	if err := h.calls.JoinConference(c.Request.Context(), domain.CallID(c.Param("id")), req.Role); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) Leave(c *gin.Context) {
	var req struct {
		Reason domain.EndReason `json:"reason"`
	}
	_ = c.BindJSON(&req)

	if err := h.calls.LeaveConference(c.Request.Context(), domain.CallID(c.Param("id")), req.Reason); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statistics": h.calls.Statistics()})
}

func (h *CallHandler) ListRecords(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.records.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCallNotFound), errors.Is(err, domain.ErrPeerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCallAlreadyActive), errors.Is(err, domain.ErrInvalidCallState),
		errors.Is(err, domain.ErrNotIncomingCall), errors.Is(err, domain.ErrNotConference),
		errors.Is(err, domain.ErrConferenceFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrMutedByHost):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
