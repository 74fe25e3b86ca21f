package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carechat-service/internal/models"
	"carechat-service/internal/observability"
	"carechat-service/internal/repositories"
	"carechat-service/internal/session"
	"carechat-service/internal/telemetry"
)

// SessionHandler exposes the conversation session operations over HTTP.
type SessionHandler struct {
	registry    *session.Registry
	assignments repositories.AssignmentRepository
	audit       *telemetry.AuditEmitter
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(registry *session.Registry, assignments repositories.AssignmentRepository, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{
		registry:    registry,
		assignments: assignments,
		audit:       audit,
	}
}

// Begin starts (or restarts) the caller's session and resolves its
// conversation. A patient without an assigned caregiver still gets a usable
// session; the snapshot carries the unassigned flag.
func (h *SessionHandler) Begin(c *gin.Context) {
	participantID := c.GetString("participantID")
	role := models.Role(c.GetString("participantRole"))

	sess := h.registry.Acquire(participantID)
	err := sess.Begin(c.Request.Context(), participantID, role)
	switch {
	case errors.Is(err, session.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	case errors.Is(err, session.ErrNoCounterpartAssigned):
		// Expected steady state, not an error.
	case errors.Is(err, session.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable, retry"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	h.audit.Emit(c.Request.Context(), "info", "session started",
		observability.RequestIDFromRequest(c.Request), participantID)
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Snapshot returns the caller's current session state.
func (h *SessionHandler) Snapshot(c *gin.Context) {
	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// End tears the caller's session down.
func (h *SessionHandler) End(c *gin.Context) {
	participantID := c.GetString("participantID")
	h.registry.Release(participantID)
	h.audit.Emit(c.Request.Context(), "info", "session ended",
		observability.RequestIDFromRequest(c.Request), participantID)
	c.Status(http.StatusNoContent)
}

// Select makes a conversation current and loads its history.
func (h *SessionHandler) Select(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}

	err := sess.Select(c.Request.Context(), req.ConversationID)
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	case errors.Is(err, session.ErrNoActiveConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	case errors.Is(err, session.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable, retry"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to select conversation"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// Conversations lists the session's conversations with unread counts.
func (h *SessionHandler) Conversations(c *gin.Context) {
	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}

	summaries, err := sess.Conversations(c.Request.Context())
	switch {
	case errors.Is(err, session.ErrNoActiveConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "session not started"})
		return
	case errors.Is(err, session.ErrBackendUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable, retry"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// Send submits a message to the selected conversation. There is no automatic
// retry; on failure the client resubmits.
func (h *SessionHandler) Send(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}

	err := sess.Send(c.Request.Context(), req.Content)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	case errors.Is(err, session.ErrNoActiveConversation):
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation selected"})
		return
	case errors.Is(err, session.ErrSendFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message not sent, resubmit"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message not sent, resubmit"})
		return
	}
	c.Status(http.StatusCreated)
}

// MarkRead runs read reconciliation for counterpart messages.
func (h *SessionHandler) MarkRead(c *gin.Context) {
	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	sess.MarkCounterpartRead(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// OpenSurface marks the chat surface open.
func (h *SessionHandler) OpenSurface(c *gin.Context) {
	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	sess.Open(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// CloseSurface marks the chat surface closed.
func (h *SessionHandler) CloseSurface(c *gin.Context) {
	sess, ok := h.registry.Lookup(c.GetString("participantID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	sess.CloseSurface()
	c.Status(http.StatusNoContent)
}

// Reassign swaps a patient's caregiver. The assignment swap and the
// retirement of the pair's old conversation commit together in the
// repository; the replacement conversation is created on the patient's next
// Begin.
func (h *SessionHandler) Reassign(c *gin.Context) {
	var req struct {
		PatientID   string `json:"patient_id" binding:"required"`
		CaregiverID string `json:"caregiver_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.assignments.AssignCaregiver(c.Request.Context(), req.PatientID, req.CaregiverID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update assignment"})
		return
	}

	h.audit.Emit(c.Request.Context(), "info", "caregiver reassigned",
		observability.RequestIDFromRequest(c.Request), req.PatientID)
	c.Status(http.StatusNoContent)
}
