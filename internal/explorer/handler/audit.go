package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/audit"
)

// AuditHandler exposes read-only HTTP endpoints for the scoring audit log.
type AuditHandler struct {
	log    audit.Log
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(log audit.Log, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{log: log, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/records/:seq", h.GetRecord)
	}
}

// Overview handles GET /audit with the chain length and head hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	st, err := audit.Inspect(c.Request.Context(), h.log)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "records": st.Records, "head": st.Head})
}

// Verify handles GET /audit/verify.
func (h *AuditHandler) Verify(c *gin.Context) {
	if err := h.log.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("audit integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true, "valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "valid": true})
}

// GetRecord handles GET /audit/records/:seq.
func (h *AuditHandler) GetRecord(c *gin.Context) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 0 {
		abortError(c, http.StatusBadRequest, "seq must be a non-negative integer")
		return
	}

	ctx := c.Request.Context()
	n, err := h.log.Len(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if seq >= n {
		abortError(c, http.StatusNotFound, "record not found")
		return
	}
	r, err := h.log.Get(ctx, seq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": r})
}
