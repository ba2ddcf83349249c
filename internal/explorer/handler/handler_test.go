package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/audit"
	"github.com/shadowcheck/shadowcheck/internal/explorer/handler"
	"github.com/shadowcheck/shadowcheck/internal/explorer/model"
	"github.com/shadowcheck/shadowcheck/internal/explorer/repository"
	"github.com/shadowcheck/shadowcheck/internal/explorer/service"
	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// ── Stubs ─────────────────────────────────────────────────────────────────

type stubNetworks struct {
	lastSQL string
}

func (s *stubNetworks) ListNetworks(_ context.Context, q query.Query) ([]model.Network, error) {
	s.lastSQL = q.SQL()
	return []model.Network{{BSSID: "AA:BB:CC:00:00:01", Type: "W"}}, nil
}

func (s *stubNetworks) CountNetworks(context.Context, query.Query) (int64, error) { return 1, nil }

func (s *stubNetworks) ListObservations(_ context.Context, q query.Query) ([]model.Observation, error) {
	s.lastSQL = q.SQL()
	return []model.Observation{}, nil
}

func (s *stubNetworks) GetNetwork(_ context.Context, bssid string) (*model.Network, error) {
	if bssid != "AA:BB:CC:00:00:01" {
		return nil, repository.ErrNotFound
	}
	return &model.Network{BSSID: bssid, Type: "W"}, nil
}

type stubScores struct{}

func (stubScores) GetScore(_ context.Context, bssid string) (*scoring.Record, error) {
	if bssid != "AA:BB:CC:00:00:01" {
		return nil, repository.ErrNotFound
	}
	return &scoring.Record{BSSID: bssid, FinalScore: 64, FinalLevel: threat.LevelHigh}, nil
}

func (stubScores) LevelCounts(context.Context) (map[threat.Level]int64, error) {
	return map[threat.Level]int64{threat.LevelHigh: 1}, nil
}

type stubTrigger struct{ accept bool }

func (s *stubTrigger) Trigger() bool { return s.accept }

const adminSecret = "let-me-in"

func setupRouter(t *testing.T, trig *stubTrigger) (*gin.Engine, *stubNetworks, *handler.ThreatHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	networks := &stubNetworks{}
	svc := service.New(networks, stubScores{}, nil, service.Config{Compile: query.DefaultOptions()}, zap.NewNop())
	th := handler.NewThreatHandler(svc, trig, nil, adminSecret, zap.NewNop())

	v1 := r.Group("/api/v1")
	handler.NewExplorerHandler(svc, zap.NewNop()).Register(v1)
	th.Register(v1)
	handler.NewAuditHandler(audit.NewMemoryLog(), zap.NewNop()).Register(v1)
	return r, networks, th
}

func do(r *gin.Engine, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

// ── Explorer ──────────────────────────────────────────────────────────────

func TestListNetworks_POST_200(t *testing.T) {
	r, networks, _ := setupRouter(t, &stubTrigger{})
	body := map[string]any{
		"filters": map[string]any{"threatScoreMin": 60},
		"enabled": map[string]any{"threatScoreMin": true},
		"sort":    "lastSeen:desc",
		"limit":   50,
	}
	w := do(r, http.MethodPost, "/api/v1/networks", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	data := resp["data"].(map[string]any)
	if data["total"].(float64) != 1 || data["limit"].(float64) != 50 {
		t.Errorf("data = %v", data)
	}
	if !strings.Contains(networks.lastSQL, "ORDER BY ap.last_seen_at DESC NULLS LAST") {
		t.Errorf("sql = %s", networks.lastSQL)
	}
}

func TestListNetworks_GET_queryParams(t *testing.T) {
	r, networks, _ := setupRouter(t, &stubTrigger{})
	q := url.Values{}
	q.Set("filters", `{"ssid":"cafe"}`)
	q.Set("enabled", `{"ssid":true}`)
	q.Set("limit", "10")
	w := do(r, http.MethodGet, "/api/v1/networks?"+q.Encode(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(networks.lastSQL, "ILIKE") {
		t.Errorf("sql = %s", networks.lastSQL)
	}
}

func TestListNetworks_400(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	tests := []struct {
		name string
		path string
		body any
	}{
		{"bad sort", "/api/v1/networks", map[string]any{"sort": "secret"}},
		{"limit too large", "/api/v1/networks", map[string]any{"limit": query.MaxLimit + 1}},
		{"negative offset", "/api/v1/networks", map[string]any{"offset": -1}},
		{"validation", "/api/v1/networks", map[string]any{
			"filters": map[string]any{"rssiMax": 10},
			"enabled": map[string]any{"rssiMax": true},
		}},
		{"non-integer limit", "/api/v1/networks?limit=ten", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			method := http.MethodPost
			if tc.body == nil {
				method = http.MethodGet
			}
			w := do(r, method, tc.path, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if resp := decode(t, w); resp["ok"] != false {
				t.Errorf("ok = %v", resp["ok"])
			}
		})
	}
}

func TestListObservations_200(t *testing.T) {
	r, networks, _ := setupRouter(t, &stubTrigger{})
	w := do(r, http.MethodPost, "/api/v1/observations", map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(networks.lastSQL, "FROM observations o") {
		t.Errorf("sql = %s", networks.lastSQL)
	}
}

func TestGetNetwork(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	if w := do(r, http.MethodGet, "/api/v1/networks/AA:BB:CC:00:00:01", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/networks/00:00:00:00:00:00", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCompileFilters_200(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	body := map[string]any{
		"filters": map[string]any{"threatScoreMin": 60, "bssid": ""},
		"enabled": map[string]any{"threatScoreMin": true, "bssid": true},
	}
	w := do(r, http.MethodPost, "/api/v1/filters/compile", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]any)
	if !strings.Contains(data["sql"].(string), "nts.final_threat_score >= $1::numeric") {
		t.Errorf("sql = %v", data["sql"])
	}
	filters := data["filters"].(map[string]any)
	if len(filters["applied"].([]any)) != 1 || len(filters["ignored"].([]any)) != 1 {
		t.Errorf("filters = %v", filters)
	}
}

func TestClassify_200(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	body := map[string]any{"frequency": 5180, "capabilities": "[WPA2-PSK-CCMP][ESS]"}
	w := do(r, http.MethodPost, "/api/v1/classify", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]any)
	if data["type"] != "W" || data["channel"].(float64) != 36 {
		t.Errorf("classification = %v", data)
	}
}

// ── Threats and scoring ───────────────────────────────────────────────────

func TestGetThreat(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	w := do(r, http.MethodGet, "/api/v1/threats/AA:BB:CC:00:00:01", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]any)
	if data["final_threat_level"] != string(threat.LevelHigh) {
		t.Errorf("data = %v", data)
	}
	if w := do(r, http.MethodGet, "/api/v1/threats/11:22:33:44:55:66", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestThreatLevels_200(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})
	w := do(r, http.MethodGet, "/api/v1/threat-levels", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]any)
	if data[string(threat.LevelHigh)].(float64) != 1 {
		t.Errorf("data = %v", data)
	}
}

func TestTriggerRun_requiresAdmin(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{accept: true})
	if w := do(r, http.MethodPost, "/api/v1/scoring/run", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/scoring/run", nil, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/scoring/run", nil, "Authorization", "Bearer "+adminSecret); w.Code != http.StatusAccepted {
		t.Errorf("admin: expected 202, got %d", w.Code)
	}
}

func TestTriggerRun_409WhenBusy(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{accept: false})
	w := do(r, http.MethodPost, "/api/v1/scoring/run", nil, "Authorization", "Bearer "+adminSecret)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestScoringStatus_lastRun(t *testing.T) {
	r, _, th := setupRouter(t, &stubTrigger{})
	w := do(r, http.MethodGet, "/api/v1/scoring/status", nil)
	if resp := decode(t, w); resp["last_run"] != nil || resp["running"] != false {
		t.Fatalf("initial status = %v", resp)
	}

	th.RecordRun(context.Background(), scoring.Summary{RunID: uuid.New(), Processed: 9})
	w = do(r, http.MethodGet, "/api/v1/scoring/status", nil)
	last := decode(t, w)["last_run"].(map[string]any)
	if last["processed"].(float64) != 9 {
		t.Errorf("last_run = %v", last)
	}
}

func TestRequireAdmin_disabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", handler.RequireAdmin(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := do(r, http.MethodPost, "/x", nil, "Authorization", "Bearer "); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// ── Audit ─────────────────────────────────────────────────────────────────

func TestAudit(t *testing.T) {
	r, _, _ := setupRouter(t, &stubTrigger{})

	resp := decode(t, do(r, http.MethodGet, "/api/v1/audit", nil))
	if resp["records"].(float64) != 1 || resp["head"] != audit.GenesisHash {
		t.Errorf("overview = %v", resp)
	}
	if resp := decode(t, do(r, http.MethodGet, "/api/v1/audit/verify", nil)); resp["valid"] != true {
		t.Errorf("verify = %v", resp)
	}
	if w := do(r, http.MethodGet, "/api/v1/audit/records/0", nil); w.Code != http.StatusOK {
		t.Errorf("genesis: expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/audit/records/7", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/v1/audit/records/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ── Middleware ────────────────────────────────────────────────────────────

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 1))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := do(r, http.MethodGet, "/x", nil); w.Code != http.StatusOK {
		t.Fatalf("first: expected 200, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/x", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Error("missing Retry-After")
	}
}
