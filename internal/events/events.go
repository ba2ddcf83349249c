// Package events publishes scoring lifecycle events to Kafka and HTTP webhook
// sinks.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// Event types.
const (
	TypeScoringCompleted = "scoring.run_completed"
	TypeModelImported    = "scoring.model_imported"
)

// Event is the envelope written to every sink.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// RunCompleted is the payload of a TypeScoringCompleted event.
type RunCompleted struct {
	RunID        uuid.UUID            `json:"run_id"`
	ModelType    string               `json:"model_type"`
	ModelVersion string               `json:"model_version"`
	ScoredAt     time.Time            `json:"scored_at"`
	Processed    int                  `json:"processed"`
	Pages        int                  `json:"pages"`
	Levels       map[threat.Level]int `json:"levels"`
	DurationMS   int64                `json:"duration_ms"`
}

// NewRunCompleted builds the event for a finished scoring run. The event ID is
// the run ID so consumers can deduplicate redeliveries.
func NewRunCompleted(s scoring.Summary) Event {
	return Event{
		ID:        s.RunID,
		Type:      TypeScoringCompleted,
		Timestamp: time.Now().UTC(),
		Payload: RunCompleted{
			RunID:        s.RunID,
			ModelType:    s.ModelType,
			ModelVersion: s.ModelVersion,
			ScoredAt:     s.ScoredAt,
			Processed:    s.Processed,
			Pages:        s.Pages,
			Levels:       s.Levels,
			DurationMS:   s.Duration.Milliseconds(),
		},
	}
}

// NewModelImported builds the event emitted after a model is stored.
func NewModelImported(m *threat.ModelConfig) Event {
	return Event{
		ID:        uuid.New(),
		Type:      TypeModelImported,
		Timestamp: time.Now().UTC(),
		Payload: map[string]any{
			"model_type": m.ModelType,
			"version":    m.Version,
			"features":   len(m.Coefficients),
		},
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried;
// the first error is returned.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CompletionHook adapts a Publisher to scoring.CompletionFunc. Publish
// failures are logged; a scoring run is never failed by its event.
func CompletionHook(p Publisher, logger *zap.Logger) scoring.CompletionFunc {
	return func(ctx context.Context, s scoring.Summary) {
		if err := p.Publish(ctx, NewRunCompleted(s)); err != nil {
			logger.Warn("events: publish run completed",
				zap.String("run_id", s.RunID.String()),
				zap.Error(err),
			)
		}
	}
}
