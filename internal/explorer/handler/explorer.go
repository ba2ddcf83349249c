package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/explorer/service"
	"github.com/shadowcheck/shadowcheck/internal/radio"
)

// ExplorerHandler serves filtered network and observation lists.
type ExplorerHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewExplorerHandler creates a new ExplorerHandler.
func NewExplorerHandler(svc *service.Service, logger *zap.Logger) *ExplorerHandler {
	return &ExplorerHandler{svc: svc, logger: logger}
}

// Register mounts the explorer routes on the given router group.
func (h *ExplorerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/networks", h.ListNetworks)
	rg.POST("/networks", h.ListNetworks)
	rg.GET("/networks/:bssid", h.GetNetwork)
	rg.GET("/observations", h.ListObservations)
	rg.POST("/observations", h.ListObservations)
	rg.POST("/filters/compile", h.CompileFilters)
	rg.POST("/classify", h.Classify)
}

// bindRequest reads an explorer request from a JSON body (POST) or from the
// filters, enabled, sort, limit and offset query parameters (GET). It writes
// a 400 and returns false on malformed input.
func bindRequest(c *gin.Context) (service.Request, bool) {
	var req service.Request
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return req, false
		}
		return req, true
	}

	req.Filters = json.RawMessage(c.Query("filters"))
	req.Enabled = json.RawMessage(c.Query("enabled"))
	req.Sort = c.Query("sort")
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &req.Limit}, {"offset", &req.Offset}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			abortError(c, http.StatusBadRequest, p.name+" must be an integer")
			return req, false
		}
		*p.dst = n
	}
	return req, true
}

// ListNetworks handles GET/POST /networks.
func (h *ExplorerHandler) ListNetworks(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	page, err := h.svc.Networks(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": page})
}

// ListObservations handles GET/POST /observations.
func (h *ExplorerHandler) ListObservations(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	page, err := h.svc.Observations(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": page})
}

// GetNetwork handles GET /networks/:bssid.
func (h *ExplorerHandler) GetNetwork(c *gin.Context) {
	n, err := h.svc.Network(c.Request.Context(), c.Param("bssid"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": n})
}

// CompileFilters handles POST /filters/compile and returns the SQL the
// request would run.
func (h *ExplorerHandler) CompileFilters(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	plan, err := h.svc.Compile(req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": plan})
}

// classifyRequest is the body of POST /classify.
type classifyRequest struct {
	Type         string `json:"type"`
	Frequency    int    `json:"frequency"`
	Capabilities string `json:"capabilities"`
}

// Classify handles POST /classify by applying the radio inference rules to
// one record.
func (h *ExplorerHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": radio.Classify(req.Type, req.Frequency, req.Capabilities)})
}
