package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/explorer/service"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
)

// runTrigger starts scoring runs. *scoring.Scheduler satisfies this interface.
type runTrigger interface {
	Trigger() bool
}

// ThreatHandler serves persisted threat scores and controls batch scoring.
type ThreatHandler struct {
	svc         *service.Service
	trigger     runTrigger
	running     func() bool
	adminSecret string
	logger      *zap.Logger

	mu      sync.RWMutex
	lastRun *scoring.Summary
}

// NewThreatHandler creates a ThreatHandler. running reports whether a scoring
// run is active; it may be nil.
func NewThreatHandler(svc *service.Service, trigger runTrigger, running func() bool, adminSecret string, logger *zap.Logger) *ThreatHandler {
	if running == nil {
		running = func() bool { return false }
	}
	return &ThreatHandler{
		svc:         svc,
		trigger:     trigger,
		running:     running,
		adminSecret: adminSecret,
		logger:      logger,
	}
}

// Register mounts the threat and scoring routes on the given router group.
func (h *ThreatHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/threats/:bssid", h.GetThreat)
	rg.GET("/threat-levels", h.LevelCounts)

	s := rg.Group("/scoring")
	{
		s.GET("/status", h.Status)
		s.POST("/run", RequireAdmin(h.adminSecret), h.TriggerRun)
	}
}

// RecordRun is a scoring.CompletionFunc that keeps the latest summary for
// the status endpoint.
func (h *ThreatHandler) RecordRun(_ context.Context, s scoring.Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = &s
}

// GetThreat handles GET /threats/:bssid.
func (h *ThreatHandler) GetThreat(c *gin.Context) {
	rec, err := h.svc.Threat(c.Request.Context(), c.Param("bssid"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": rec})
}

// LevelCounts handles GET /threat-levels.
func (h *ThreatHandler) LevelCounts(c *gin.Context) {
	counts, err := h.svc.LevelCounts(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": counts})
}

// Status handles GET /scoring/status.
func (h *ThreatHandler) Status(c *gin.Context) {
	h.mu.RLock()
	last := h.lastRun
	h.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"running":  h.running(),
		"last_run": last,
	})
}

// TriggerRun handles POST /scoring/run. The run happens in the background.
func (h *ThreatHandler) TriggerRun(c *gin.Context) {
	if !h.trigger.Trigger() {
		abortError(c, http.StatusConflict, scoring.ErrRunInProgress.Error())
		return
	}
	h.logger.Info("scoring run requested", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "status": "queued"})
}
