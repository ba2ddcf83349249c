package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// ── Fixtures ─────────────────────────────────────────────────────────────

func testModel() *threat.ModelConfig {
	return &threat.ModelConfig{
		ModelType:    threat.DefaultModelType,
		Version:      "2.1.0",
		Coefficients: []float64{2.5, 1.2, 0.8, 0.3, 1.1, 3.4},
		Intercept:    -2,
		FeatureNames: append([]string(nil), threat.FeatureOrder...),
	}
}

func population(n int) []threat.Stats {
	aps := make([]threat.Stats, n)
	for i := range aps {
		aps[i] = threat.Stats{
			BSSID:                 fmt.Sprintf("00:00:00:00:%02X:%02X", i/256, i%256),
			ObservationCount:      1 + i*7%90,
			UniqueDays:            1 + i%9,
			UniqueLocations:       i % 6,
			MaxSignalDBM:          float64(-30 - i%60),
			DistanceFromHomeKm:    float64(i%4) * 0.05,
			MaxDistanceFromHomeKm: float64(i%11) * 0.7,
			SeenAtHome:            i%3 == 0,
			SeenAwayFromHome:      i%2 == 0,
		}
	}
	return aps
}

// countingReader records every keyset request.
type countingReader struct {
	store  *MemoryStore
	afters []string
}

func (r *countingReader) AccessPointsAfter(ctx context.Context, after string, limit int) ([]threat.Stats, error) {
	r.afters = append(r.afters, after)
	return r.store.AccessPointsAfter(ctx, after, limit)
}

// stuckReader always returns the same page.
type stuckReader struct{ page []threat.Stats }

func (r stuckReader) AccessPointsAfter(context.Context, string, int) ([]threat.Stats, error) {
	return r.page, nil
}

// foldedReader pages in case-insensitive bssid order, like a database using
// a linguistic collation.
type foldedReader struct{ bssids []string }

func (r foldedReader) AccessPointsAfter(_ context.Context, after string, limit int) ([]threat.Stats, error) {
	var page []threat.Stats
	for _, b := range r.bssids {
		if after != "" && strings.ToLower(b) <= strings.ToLower(after) {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, threat.Stats{BSSID: b})
	}
	return page, nil
}

// lockingStore refuses the scoring lock.
type lockingStore struct {
	*MemoryStore
	released bool
	acquired bool
}

func (s *lockingStore) TryLock(context.Context) (func(), bool, error) {
	if !s.acquired {
		return nil, false, nil
	}
	return func() { s.released = true }, true, nil
}

func newScorer(store Store, pageSize int) *BatchScorer {
	return NewBatchScorer(store, nil, Config{PageSize: pageSize}, zap.NewNop())
}

// ── Cursor ───────────────────────────────────────────────────────────────

func TestCursor_walksInKeysetPages(t *testing.T) {
	store := NewMemoryStore(nil, population(25))
	reader := &countingReader{store: store}
	cur := NewCursor(reader, "", 10)

	var seen []string
	for {
		page, err := cur.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, st := range page {
			seen = append(seen, st.BSSID)
		}
	}

	if len(seen) != 25 {
		t.Fatalf("saw %d networks, want 25", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("bssids not ascending at %d: %s after %s", i, seen[i], seen[i-1])
		}
	}
	if cur.Pages() != 3 {
		t.Errorf("pages = %d, want 3", cur.Pages())
	}
	if !cur.Done() {
		t.Error("expected cursor to be done")
	}
	// Three data pages plus the terminating empty page.
	if len(reader.afters) != 4 {
		t.Errorf("reads = %d, want 4", len(reader.afters))
	}
	if reader.afters[1] != seen[9] || reader.afters[3] != seen[24] {
		t.Errorf("cursor positions = %v", reader.afters)
	}

	page, err := cur.Next(context.Background())
	if err != nil || page != nil {
		t.Errorf("Next after done = %v, %v", page, err)
	}
	if len(reader.afters) != 4 {
		t.Error("done cursor must not read again")
	}
}

func TestCursor_resumesAfterPosition(t *testing.T) {
	aps := population(5)
	store := NewMemoryStore(nil, aps)
	cur := NewCursor(store, aps[2].BSSID, 10)
	page, err := cur.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].BSSID != aps[3].BSSID {
		t.Errorf("resumed page = %+v", page)
	}
}

func TestCursor_emptyPopulation(t *testing.T) {
	cur := NewCursor(NewMemoryStore(nil, nil), "", 10)
	page, err := cur.Next(context.Background())
	if err != nil || len(page) != 0 {
		t.Fatalf("Next = %v, %v", page, err)
	}
	if !cur.Done() || cur.Pages() != 0 {
		t.Errorf("done = %v pages = %d", cur.Done(), cur.Pages())
	}
}

func TestCursor_detectsStalledPage(t *testing.T) {
	cur := NewCursor(stuckReader{page: []threat.Stats{{BSSID: "AA"}}}, "", 10)
	if _, err := cur.Next(context.Background()); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if _, err := cur.Next(context.Background()); err == nil {
		t.Fatal("expected error for a page that does not advance")
	}
}

func TestCursor_followsReaderOrder(t *testing.T) {
	order := []string{"aa:00:00:00:00:01", "B0:00:00:00:00:01", "c0:00:00:00:00:01"}
	cur := NewCursor(foldedReader{bssids: order}, "", 1)

	var seen []string
	for {
		page, err := cur.Next(context.Background())
		if err != nil {
			t.Fatalf("page %d: %v", cur.Pages(), err)
		}
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].BSSID)
	}
	if strings.Join(seen, ",") != strings.Join(order, ",") {
		t.Errorf("walked %v, want %v", seen, order)
	}
}

// ── Batch scorer ─────────────────────────────────────────────────────────

func TestRun_scoresEveryNetwork(t *testing.T) {
	store := NewMemoryStore(testModel(), population(57))
	sum, err := newScorer(store, 10).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Processed != 57 || sum.Pages != 6 {
		t.Errorf("processed = %d pages = %d", sum.Processed, sum.Pages)
	}
	if store.Writes() != 6 {
		t.Errorf("writes = %d, want one per page", store.Writes())
	}
	if sum.ModelVersion != "2.1.0" {
		t.Errorf("model version = %q", sum.ModelVersion)
	}

	total := 0
	for _, n := range sum.Levels {
		total += n
	}
	if total != 57 {
		t.Errorf("level counts sum to %d", total)
	}

	for bssid, rec := range store.Scores() {
		if !rec.ScoredAt.Equal(sum.ScoredAt) || !rec.UpdatedAt.Equal(sum.ScoredAt) {
			t.Errorf("%s: scored_at %v differs from run epoch %v", bssid, rec.ScoredAt, sum.ScoredAt)
		}
		if rec.ModelVersion != sum.ModelVersion {
			t.Errorf("%s: model version %q", bssid, rec.ModelVersion)
		}
		if rec.FinalLevel != threat.LevelFor(rec.FinalScore) {
			t.Errorf("%s: level %s for score %v", bssid, rec.FinalLevel, rec.FinalScore)
		}
		if rec.FinalScore < rec.RuleScore {
			t.Errorf("%s: final %v below rule %v", bssid, rec.FinalScore, rec.RuleScore)
		}
	}
}

func TestRun_idempotent(t *testing.T) {
	store := NewMemoryStore(testModel(), population(40))
	scorer := newScorer(store, 7)

	ticks := []time.Time{
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	call := 0
	scorer.now = func() time.Time { ts := ticks[call]; call++; return ts }

	if _, err := scorer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := store.Scores()
	second, err := scorer.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	for bssid, a := range first {
		b, ok := store.Score(bssid)
		if !ok {
			t.Fatalf("%s missing after second run", bssid)
		}
		if a.FinalScore != b.FinalScore || a.FinalLevel != b.FinalLevel {
			t.Errorf("%s changed: %v/%s -> %v/%s", bssid, a.FinalScore, a.FinalLevel, b.FinalScore, b.FinalLevel)
		}
		if !b.ScoredAt.Equal(ticks[1]) || a.ScoredAt.Equal(b.ScoredAt) {
			t.Errorf("%s: scored_at not refreshed", bssid)
		}
	}
	if second.RunID == uuid.Nil {
		t.Error("expected run id")
	}
}

func TestRun_noModelAbortsBeforeWrites(t *testing.T) {
	store := NewMemoryStore(nil, population(10))
	_, err := newScorer(store, 5).Run(context.Background())
	if !errors.Is(err, threat.ErrNoModel) {
		t.Fatalf("got %v, want ErrNoModel", err)
	}
	if store.Writes() != 0 || len(store.Scores()) != 0 {
		t.Errorf("writes = %d scores = %d, want none", store.Writes(), len(store.Scores()))
	}
}

func TestRun_invalidModelAbortsBeforeWrites(t *testing.T) {
	m := testModel()
	m.Coefficients = m.Coefficients[:2]
	store := NewMemoryStore(m, population(10))
	_, err := newScorer(store, 5).Run(context.Background())
	if !errors.Is(err, threat.ErrInvalidModel) {
		t.Fatalf("got %v, want ErrInvalidModel", err)
	}
	if store.Writes() != 0 {
		t.Errorf("writes = %d, want 0", store.Writes())
	}
}

func TestRun_storeFailureKeepsCommittedPages(t *testing.T) {
	store := NewMemoryStore(testModel(), population(30))
	store.FailUpsertOn = 2
	store.UpsertErr = errors.New("connection reset")

	var completed bool
	scorer := newScorer(store, 10)
	scorer.OnComplete(func(context.Context, Summary) { completed = true })

	sum, err := scorer.Run(context.Background())
	if err == nil || !errors.Is(err, store.UpsertErr) {
		t.Fatalf("got %v, want upsert error", err)
	}
	if sum == nil || sum.Processed != 10 {
		t.Fatalf("summary = %+v, want 10 processed", sum)
	}
	if len(store.Scores()) != 10 {
		t.Errorf("stored = %d, want first page only", len(store.Scores()))
	}
	if completed {
		t.Error("completion hook must not run for a failed run")
	}
}

func TestRun_cancelStopsBetweenPages(t *testing.T) {
	store := NewMemoryStore(testModel(), population(30))
	scorer := newScorer(store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scorer.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if store.Writes() != 0 {
		t.Errorf("writes = %d, want 0", store.Writes())
	}
}

func TestRun_hooks(t *testing.T) {
	store := NewMemoryStore(testModel(), population(3))
	scorer := newScorer(store, 10)

	var got []Summary
	scorer.OnComplete(func(_ context.Context, s Summary) { got = append(got, s) })
	var metricErr error
	var metricSum *Summary
	scorer.SetMetricsRecord(func(s *Summary, err error) { metricSum, metricErr = s, err })

	sum, err := scorer.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RunID != sum.RunID {
		t.Errorf("completion hook got %+v", got)
	}
	if metricErr != nil || metricSum == nil || metricSum.Processed != 3 {
		t.Errorf("metrics hook got %+v, %v", metricSum, metricErr)
	}
}

func TestRun_lockHeldElsewhere(t *testing.T) {
	store := &lockingStore{MemoryStore: NewMemoryStore(testModel(), population(3))}
	_, err := newScorer(store, 10).Run(context.Background())
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("got %v, want ErrRunInProgress", err)
	}

	store.acquired = true
	if _, err := newScorer(store, 10).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !store.released {
		t.Error("expected lock release")
	}
}

func TestRun_modelVersionOverride(t *testing.T) {
	store := NewMemoryStore(testModel(), population(2))
	scorer := NewBatchScorer(store, nil, Config{ModelVersion: "ops-7"}, zap.NewNop())
	sum, err := scorer.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.ModelVersion != "ops-7" {
		t.Errorf("version = %q", sum.ModelVersion)
	}
	rec, _ := store.Score(population(2)[0].BSSID)
	if rec.ModelVersion != "ops-7" {
		t.Errorf("record version = %q", rec.ModelVersion)
	}
}

// ── Scheduler ────────────────────────────────────────────────────────────

func TestScheduler_triggerRunsOnce(t *testing.T) {
	store := NewMemoryStore(testModel(), population(5))
	scorer := newScorer(store, 10)
	done := make(chan Summary, 1)
	scorer.OnComplete(func(_ context.Context, s Summary) { done <- s })

	sched := NewScheduler(scorer, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- sched.Start(ctx) }()

	if !sched.Trigger() {
		t.Fatal("expected trigger to be accepted")
	}
	select {
	case s := <-done:
		if s.Processed != 5 {
			t.Errorf("processed = %d", s.Processed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not complete")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
