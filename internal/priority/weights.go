package priority

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Factor names
const (
	FactorReimbursement   = "reimbursement"
	FactorSpeed           = "implementation_speed"
	FactorPassage         = "passage_likelihood"
	FactorRelevance       = "relevance"
	FactorSeverity        = "severity"
	FactorRegulatory      = "regulatory"
	FactorTimeSensitivity = "time_sensitivity"
)

// FactorNames lists every factor in descending default weight
var FactorNames = []string{
	FactorReimbursement,
	FactorSpeed,
	FactorPassage,
	FactorRelevance,
	FactorSeverity,
	FactorRegulatory,
	FactorTimeSensitivity,
}

// ErrWeights is returned for a weight set that does not sum to 1
var ErrWeights = errors.New("priority weights must be non-negative and sum to 1.0")

const weightTolerance = 1e-6

// Weights maps factor name to its share of the composite score
type Weights map[string]float64

// DefaultWeights returns the standard factor weighting
func DefaultWeights() Weights {
	return Weights{
		FactorReimbursement:   0.25,
		FactorSpeed:           0.20,
		FactorPassage:         0.15,
		FactorRelevance:       0.15,
		FactorSeverity:        0.10,
		FactorRegulatory:      0.10,
		FactorTimeSensitivity: 0.05,
	}
}

// Validate checks factor names and that the weights sum to 1
func (w Weights) Validate() error {
	known := make(map[string]bool, len(FactorNames))
	for _, name := range FactorNames {
		known[name] = true
	}

	sum := 0.0
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := w[name]
		if !known[name] {
			return fmt.Errorf("%w: unknown factor %q", ErrWeights, name)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s=%v", ErrWeights, name, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrWeights, sum)
	}
	return nil
}

// Renormalize scales the weights of the present factors so they sum to 1.
// It returns nil when no present factor carries weight.
func (w Weights) Renormalize(present map[string]bool) Weights {
	total := 0.0
	for name, ok := range present {
		if ok {
			total += w[name]
		}
	}
	if total <= 0 {
		return nil
	}

	out := make(Weights, len(present))
	for name, ok := range present {
		if ok && w[name] > 0 {
			out[name] = w[name] / total
		}
	}
	return out
}
