package scoring

import (
	"context"
	"sort"
	"sync"

	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for tests and for dry runs of a model against exported
// statistics.
type MemoryStore struct {
	mu     sync.RWMutex
	model  *threat.ModelConfig
	aps    []threat.Stats
	scores map[string]Record
	writes int
	// FailUpsertOn makes the n-th UpsertScores call (1-based) fail with
	// UpsertErr. Zero disables it.
	FailUpsertOn int
	UpsertErr    error
}

// NewMemoryStore creates a MemoryStore holding the given model and access
// points. A nil model makes LoadModel return threat.ErrNoModel.
func NewMemoryStore(model *threat.ModelConfig, aps []threat.Stats) *MemoryStore {
	s := &MemoryStore{model: model, scores: make(map[string]Record)}
	s.aps = append(s.aps, aps...)
	sort.Slice(s.aps, func(i, j int) bool { return s.aps[i].BSSID < s.aps[j].BSSID })
	return s
}

// LoadModel implements Store.
func (s *MemoryStore) LoadModel(_ context.Context, _ string) (*threat.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return nil, threat.ErrNoModel
	}
	m := *s.model
	return &m, nil
}

// SetModel replaces the stored model.
func (s *MemoryStore) SetModel(m *threat.ModelConfig) {
	s.mu.Lock()
	s.model = m
	s.mu.Unlock()
}

// AccessPointsAfter implements Store.
func (s *MemoryStore) AccessPointsAfter(_ context.Context, after string, limit int) ([]threat.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.aps), func(i int) bool { return s.aps[i].BSSID > after })
	end := min(i+limit, len(s.aps))
	out := make([]threat.Stats, end-i)
	copy(out, s.aps[i:end])
	return out, nil
}

// UpsertScores implements Store.
func (s *MemoryStore) UpsertScores(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.FailUpsertOn > 0 && s.writes == s.FailUpsertOn {
		return s.UpsertErr
	}
	for _, r := range records {
		s.scores[r.BSSID] = r
	}
	return nil
}

// Score returns the stored record for bssid.
func (s *MemoryStore) Score(bssid string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.scores[bssid]
	return r, ok
}

// Scores returns a copy of every stored record keyed by bssid.
func (s *MemoryStore) Scores() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.scores))
	for k, v := range s.scores {
		out[k] = v
	}
	return out
}

// Writes is the number of UpsertScores calls so far.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
