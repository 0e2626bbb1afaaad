package dedup

import (
	"sync"

	"github.com/snfwatch/billwatch/internal/models"
)

// Stats counts dedup outcomes. Candidates are counted once each; emitted and
// grouped are counted per routed recipient.
type Stats struct {
	mu         sync.RWMutex
	candidates int
	suppressed int
	emitted    int
	grouped    int
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Candidates      int     `json:"candidates"`
	Suppressed      int     `json:"suppressed"`
	Emitted         int     `json:"emitted"`
	Grouped         int     `json:"grouped"`
	SuppressionRate float64 `json:"suppression_rate"`
}

// NewStats creates zeroed counters
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordCandidate(outcome models.DedupOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates++
	if outcome == models.OutcomeSuppress {
		s.suppressed++
	}
}

func (s *Stats) recordRouted(outcome models.DedupOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case models.OutcomeEmit:
		s.emitted++
	case models.OutcomeGroup:
		s.grouped++
	}
}

// Snapshot returns the current counters
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Candidates: s.candidates,
		Suppressed: s.suppressed,
		Emitted:    s.emitted,
		Grouped:    s.grouped,
	}
	if s.candidates > 0 {
		snap.SuppressionRate = float64(s.suppressed) / float64(s.candidates)
	}
	return snap
}
