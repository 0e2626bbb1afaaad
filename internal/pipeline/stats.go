package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/snfwatch/billwatch/internal/dedup"
	"github.com/snfwatch/billwatch/internal/models"
)

// Metrics holds pipeline counters accumulated since start-up
type Metrics struct {
	LastSweep         time.Time      `json:"last_sweep"`
	LastSweepDuration string         `json:"last_sweep_duration"`
	Sweeps            int            `json:"sweeps"`
	BillsTracked      int            `json:"bills_tracked"`
	BillsProcessed    int            `json:"bills_processed"`
	BillsFailed       int            `json:"bills_failed"`
	FailuresByKind    map[string]int `json:"failures_by_kind"`
	ChangesByTier     map[string]int `json:"changes_by_tier"`
	Transitions       int            `json:"transitions"`
	Regressions       int            `json:"regressions"`
	ScorerBreakdown   map[string]int `json:"scorer_breakdown"`
	FallbackReasons   map[string]int `json:"fallback_reasons"`
	AlertsByPriority  map[string]int `json:"alerts_by_priority"`
	AlertsDelivered   int            `json:"alerts_delivered"`
	AlertsFiltered    int            `json:"alerts_filtered"`
	DeliveryFailures  int            `json:"delivery_failures"`
	DigestsSent       int            `json:"digests_sent"`
	LastHealthCheck   time.Time      `json:"last_health_check"`
	Healthy           bool           `json:"healthy"`
	AIAvailable       bool           `json:"ai_available"`
}

// Stats guards Metrics for concurrent bill workers
type Stats struct {
	mu      sync.RWMutex
	metrics Metrics
}

// NewStats creates zeroed counters
func NewStats() *Stats {
	return &Stats{
		metrics: Metrics{
			FailuresByKind:   make(map[string]int),
			ChangesByTier:    make(map[string]int),
			ScorerBreakdown:  make(map[string]int),
			FallbackReasons:  make(map[string]int),
			AlertsByPriority: make(map[string]int),
		},
	}
}

func (s *Stats) recordBill(r *BillResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.BillsProcessed++
	if r.Change != nil && !r.Change.Baseline {
		s.metrics.ChangesByTier[string(r.Change.Tier)]++
	}
	if r.Transition != nil {
		s.metrics.Transitions++
		if r.Transition.IsRegression() {
			s.metrics.Regressions++
		}
	}
	if r.Classification != nil {
		s.metrics.ScorerBreakdown[string(r.Classification.Scorer)]++
		if r.Classification.FallbackReason != "" {
			s.metrics.FallbackReasons[r.Classification.FallbackReason]++
		}
	}
	for _, a := range r.Alerts {
		switch a.Delivery {
		case models.DeliverySent:
			s.metrics.AlertsDelivered++
		case models.DeliveryFiltered:
			s.metrics.AlertsFiltered++
		case models.DeliveryFailed:
			s.metrics.DeliveryFailures++
		}
		if a.Priority != "" {
			s.metrics.AlertsByPriority[string(a.Priority)]++
		}
	}
}

func (s *Stats) recordFailure(kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.BillsFailed++
	s.metrics.FailuresByKind[string(kind)]++
}

func (s *Stats) recordSweep(tracked int, started time.Time, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Sweeps++
	s.metrics.BillsTracked = tracked
	s.metrics.LastSweep = started
	s.metrics.LastSweepDuration = duration.String()
}

func (s *Stats) recordDelivery(state models.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch state {
	case models.DeliverySent:
		s.metrics.AlertsDelivered++
	case models.DeliveryFailed:
		s.metrics.DeliveryFailures++
	}
}

func (s *Stats) recordDigest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.DigestsSent++
}

func (s *Stats) recordHealth(at time.Time, healthy, aiAvailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.LastHealthCheck = at
	s.metrics.Healthy = healthy
	s.metrics.AIAvailable = aiAvailable
}

// Snapshot returns a deep copy of the counters
func (s *Stats) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.metrics
	m.FailuresByKind = copyCounts(s.metrics.FailuresByKind)
	m.ChangesByTier = copyCounts(s.metrics.ChangesByTier)
	m.ScorerBreakdown = copyCounts(s.metrics.ScorerBreakdown)
	m.FallbackReasons = copyCounts(s.metrics.FallbackReasons)
	m.AlertsByPriority = copyCounts(s.metrics.AlertsByPriority)
	return m
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StatusReport combines pipeline and dedup counters
type StatusReport struct {
	Pipeline Metrics        `json:"pipeline"`
	Dedup    dedup.Snapshot `json:"dedup"`
	Grouped  int            `json:"grouped_pending"`
	Held     int            `json:"held_pending"`
}

// Status returns the current counters
func (s *Service) Status() StatusReport {
	grouped, held := s.Dedup.Book().Pending()
	return StatusReport{
		Pipeline: s.stats.Snapshot(),
		Dedup:    s.Dedup.Stats().Snapshot(),
		Grouped:  grouped,
		Held:     held,
	}
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	data, _ := json.MarshalIndent(s.Status(), "", "  ")
	return string(data)
}
