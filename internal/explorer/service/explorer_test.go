package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/cache"
	"github.com/shadowcheck/shadowcheck/internal/explorer/model"
	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// ── Stubs ─────────────────────────────────────────────────────────────────

type stubNetworkRepo struct {
	mu           sync.Mutex
	networks     []model.Network
	observations []model.Observation
	total        int64
	listCalls    int
	lastList     query.Query
	err          error
}

func (r *stubNetworkRepo) ListNetworks(_ context.Context, q query.Query) ([]model.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	r.lastList = q
	return r.networks, r.err
}

func (r *stubNetworkRepo) CountNetworks(context.Context, query.Query) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, r.err
}

func (r *stubNetworkRepo) ListObservations(_ context.Context, q query.Query) ([]model.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	r.lastList = q
	return r.observations, r.err
}

func (r *stubNetworkRepo) GetNetwork(_ context.Context, bssid string) (*model.Network, error) {
	for _, n := range r.networks {
		if strings.EqualFold(n.BSSID, bssid) {
			n := n
			return &n, nil
		}
	}
	return nil, errors.New("not found")
}

type stubScoreRepo struct {
	records map[string]*scoring.Record
}

func (r *stubScoreRepo) GetScore(_ context.Context, bssid string) (*scoring.Record, error) {
	if rec, ok := r.records[bssid]; ok {
		return rec, nil
	}
	return nil, errors.New("not found")
}

func (r *stubScoreRepo) LevelCounts(context.Context) (map[threat.Level]int64, error) {
	out := map[threat.Level]int64{}
	for _, rec := range r.records {
		out[rec.FinalLevel]++
	}
	return out, nil
}

func newTestService(c cache.Cache) (*Service, *stubNetworkRepo) {
	repo := &stubNetworkRepo{
		networks: []model.Network{
			{BSSID: "AA:BB:CC:00:00:01", Type: "W"},
			{BSSID: "AA:BB:CC:00:00:02", Type: "W"},
		},
		observations: []model.Observation{{ID: 1, BSSID: "AA:BB:CC:00:00:01"}},
		total:        42,
	}
	scores := &stubScoreRepo{records: map[string]*scoring.Record{
		"AA:BB:CC:00:00:01": {BSSID: "AA:BB:CC:00:00:01", FinalScore: 72.5, FinalLevel: threat.LevelHigh},
	}}
	svc := New(repo, scores, c, Config{Compile: query.DefaultOptions()}, zap.NewNop())
	return svc, repo
}

func threatRequest(min float64) Request {
	return Request{
		Filters: json.RawMessage(`{"threatScoreMin": ` + jsonNumber(min) + `}`),
		Enabled: json.RawMessage(`{"threatScoreMin": true}`),
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestNetworks_pageAndTotal(t *testing.T) {
	svc, repo := newTestService(nil)

	page, err := svc.Networks(context.Background(), threatRequest(60))
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Networks) != 2 || page.Total != 42 {
		t.Errorf("page = %d networks, total %d", len(page.Networks), page.Total)
	}
	if page.Limit != query.DefaultLimit || page.Offset != 0 {
		t.Errorf("limit/offset = %d/%d", page.Limit, page.Offset)
	}
	if len(page.Filters.Applied) != 1 || page.Filters.Applied[0].Field != "threatScoreMin" {
		t.Errorf("applied = %+v", page.Filters.Applied)
	}
	if !strings.Contains(repo.lastList.SQL(), "nts.final_threat_score >= $1::numeric") {
		t.Errorf("sql = %s", repo.lastList.SQL())
	}
}

func TestNetworks_badSort(t *testing.T) {
	svc, _ := newTestService(nil)
	req := threatRequest(60)
	req.Sort = "password:desc"
	if _, err := svc.Networks(context.Background(), req); !errors.Is(err, query.ErrUnsupportedSort) {
		t.Fatalf("err = %v, want ErrUnsupportedSort", err)
	}
}

func TestNetworks_limitTooLarge(t *testing.T) {
	svc, _ := newTestService(nil)
	req := threatRequest(60)
	req.Limit = query.MaxLimit + 1
	if _, err := svc.Networks(context.Background(), req); !errors.Is(err, query.ErrInvalidPagination) {
		t.Fatalf("err = %v, want ErrInvalidPagination", err)
	}
}

func TestNetworks_validationError(t *testing.T) {
	svc, repo := newTestService(nil)
	_, err := svc.Networks(context.Background(), threatRequest(150))
	if !errors.Is(err, filter.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
	if repo.listCalls != 0 {
		t.Error("repository queried for an invalid payload")
	}
}

func TestNetworks_malformedJSON(t *testing.T) {
	svc, _ := newTestService(nil)
	req := Request{Filters: json.RawMessage(`{not json`)}
	if _, err := svc.Networks(context.Background(), req); !errors.Is(err, filter.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestNetworks_ignoredReported(t *testing.T) {
	svc, _ := newTestService(nil)
	req := Request{
		Filters: json.RawMessage(`{}`),
		Enabled: json.RawMessage(`{"ssid": true}`),
	}
	page, err := svc.Networks(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Filters.Ignored) != 1 || page.Filters.Ignored[0].Reason != filter.ReasonEnabledWithoutValue {
		t.Errorf("ignored = %+v", page.Filters.Ignored)
	}
	if page.Filters.Applied == nil || page.Filters.Warnings == nil {
		t.Error("report lists must be empty, not nil")
	}
}

func TestNetworks_cachedUntilInvalidated(t *testing.T) {
	svc, repo := newTestService(cache.NewMemory(time.Minute))
	var hits, misses int
	svc.SetCacheRecord(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})
	ctx := context.Background()

	first, err := svc.Networks(ctx, threatRequest(60))
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Networks(ctx, threatRequest(60))
	if err != nil {
		t.Fatal(err)
	}
	if repo.listCalls != 1 {
		t.Errorf("list calls = %d, want 1", repo.listCalls)
	}
	if second.Total != first.Total || len(second.Networks) != len(first.Networks) {
		t.Errorf("cached page differs: %+v vs %+v", second, first)
	}

	svc.Invalidate(ctx, scoring.Summary{RunID: uuid.New()})
	if _, err := svc.Networks(ctx, threatRequest(60)); err != nil {
		t.Fatal(err)
	}
	if repo.listCalls != 2 {
		t.Errorf("list calls after invalidate = %d, want 2", repo.listCalls)
	}
	if hits != 1 || misses != 2 {
		t.Errorf("hits/misses = %d/%d, want 1/2", hits, misses)
	}
}

func TestNetworks_differentArgsNotShared(t *testing.T) {
	svc, repo := newTestService(cache.NewMemory(time.Minute))
	ctx := context.Background()
	_, _ = svc.Networks(ctx, threatRequest(60))
	_, _ = svc.Networks(ctx, threatRequest(70))
	if repo.listCalls != 2 {
		t.Errorf("list calls = %d, want 2", repo.listCalls)
	}
}

func TestNetworks_repositoryError(t *testing.T) {
	svc, repo := newTestService(nil)
	repo.err = errors.New("db down")
	if _, err := svc.Networks(context.Background(), threatRequest(60)); err == nil {
		t.Fatal("expected error")
	}
}

func TestObservations(t *testing.T) {
	svc, repo := newTestService(nil)
	req := Request{
		Filters: json.RawMessage(`{"rssiMin": -70}`),
		Enabled: json.RawMessage(`{"rssiMin": true}`),
		Limit:   10,
		Offset:  20,
	}
	page, err := svc.Observations(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Observations) != 1 || page.Limit != 10 || page.Offset != 20 {
		t.Errorf("page = %+v", page)
	}
	if !strings.HasPrefix(repo.lastList.SQL(), "SELECT ") || !strings.Contains(repo.lastList.SQL(), "FROM observations o") {
		t.Errorf("sql = %s", repo.lastList.SQL())
	}
}

func TestCompile_plan(t *testing.T) {
	svc, repo := newTestService(nil)
	var compiled int
	svc.SetCompileRecord(func(query.Compiled) { compiled++ })

	plan, err := svc.Compile(threatRequest(60))
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Args) != 3 {
		t.Errorf("args = %v, want threat min, limit, offset", plan.Args)
	}
	if !strings.HasPrefix(plan.CountSQL, "SELECT COUNT(*)") {
		t.Errorf("count sql = %s", plan.CountSQL)
	}
	if compiled != 1 {
		t.Errorf("compile recorder called %d times", compiled)
	}
	if repo.listCalls != 0 {
		t.Error("Compile must not run queries")
	}
}

func TestThreatAndLevelCounts(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	rec, err := svc.Threat(ctx, "AA:BB:CC:00:00:01")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FinalLevel != threat.LevelHigh {
		t.Errorf("level = %s", rec.FinalLevel)
	}
	counts, err := svc.LevelCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[threat.LevelHigh] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestNetworks_radiusAnnotatesDistance(t *testing.T) {
	svc, repo := newTestService(nil)
	lat, lon := 0.3, 0.0
	repo.networks = []model.Network{
		{BSSID: "AA:BB:CC:00:00:01", Latitude: &lat, Longitude: &lon},
		{BSSID: "AA:BB:CC:00:00:02"},
	}
	req := Request{
		Filters: json.RawMessage(`{"radiusFilter": {"latitude": 0, "longitude": 0, "radiusMeters": 50000}}`),
		Enabled: json.RawMessage(`{"radiusFilter": true}`),
	}
	page, err := svc.Networks(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	d := page.Networks[0].DistanceMeters
	if d == nil || *d < 33300 || *d > 33400 {
		t.Errorf("distance = %v, want about 33359 m", d)
	}
	if page.Networks[1].DistanceMeters != nil {
		t.Error("network without coordinates got a distance")
	}

	repo.networks = []model.Network{{BSSID: "AA:BB:CC:00:00:01", Latitude: &lat, Longitude: &lon}}
	plain, err := svc.Networks(context.Background(), threatRequest(60))
	if err != nil {
		t.Fatal(err)
	}
	if plain.Networks[0].DistanceMeters != nil {
		t.Error("distance set without a radius filter")
	}
}
