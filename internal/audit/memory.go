package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is an in-process Log for tests and single-node deployments.
type MemoryLog struct {
	mu      sync.RWMutex
	records []*Record
	now     func() time.Time
}

// NewMemoryLog creates a MemoryLog holding only the genesis record.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{now: func() time.Time { return time.Now().UTC() }}
	l.records = append(l.records, &Record{
		Seq:      0,
		At:       l.now(),
		Action:   ActionGenesis,
		Actor:    SystemActor,
		Digest:   GenesisHash,
		PrevHash: GenesisHash,
		Hash:     GenesisHash,
	})
	return l
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, subject, action, actor string, payload any) (*Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	r := &Record{
		Seq:      len(l.records),
		At:       l.now(),
		Subject:  subject,
		Action:   action,
		Actor:    actor,
		Digest:   digest(body),
		PrevHash: l.records[len(l.records)-1].Hash,
	}
	r.Hash = hashRecord(r)
	l.records = append(l.records, r)
	return r, nil
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, seq int) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 || seq >= len(l.records) {
		return nil, fmt.Errorf("seq %d out of range", seq)
	}
	r := *l.records[seq]
	return &r, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records), nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var prev *Record
	for _, curr := range l.records {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Head implements Log.
func (l *MemoryLog) Head(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[len(l.records)-1].Hash, nil
}
