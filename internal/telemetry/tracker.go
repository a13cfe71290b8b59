package telemetry

import "time"

// EmbeddingEvent describes one generated embedding.
type EmbeddingEvent struct {
	Model      string
	Dimension  int
	TextLength int
	Duration   time.Duration
}

// SearchEvent describes one similarity search.
type SearchEvent struct {
	Kind     string // "text" or "similar"
	Query    string
	K        int
	Results  int
	TopScore float64 // 0 when there are no results
	Duration time.Duration
}

// Search kinds.
const (
	SearchText    = "text"
	SearchSimilar = "similar"
)

// Tracker receives pipeline events. Implementations must not block the caller
// and must never fail the operation being tracked.
type Tracker interface {
	EmbeddingGenerated(EmbeddingEvent)
	SearchPerformed(SearchEvent)
}

// Nop discards every event.
type Nop struct{}

func (Nop) EmbeddingGenerated(EmbeddingEvent) {}
func (Nop) SearchPerformed(SearchEvent)       {}

// Multi fans events out to several trackers.
type Multi []Tracker

func (m Multi) EmbeddingGenerated(e EmbeddingEvent) {
	for _, t := range m {
		t.EmbeddingGenerated(e)
	}
}

func (m Multi) SearchPerformed(e SearchEvent) {
	for _, t := range m {
		t.SearchPerformed(e)
	}
}
