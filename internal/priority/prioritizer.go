package priority

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/stage"
)

const (
	maxTopFactors      = 3
	maxRecommendations = 5
	excludedPenalty    = 0.1
)

// Thresholds are the score cut points for Medium, High and Urgent
type Thresholds struct {
	Medium float64
	High   float64
	Urgent float64
}

// DefaultThresholds partitions [0,1] at 0.35, 0.60 and 0.80
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.35, High: 0.60, Urgent: 0.80}
}

// ThresholdsFrom builds thresholds from an ascending Medium, High, Urgent list
func ThresholdsFrom(cuts []float64) (Thresholds, error) {
	if len(cuts) != 3 {
		return Thresholds{}, fmt.Errorf("expected 3 priority thresholds, got %d", len(cuts))
	}
	t := Thresholds{Medium: cuts[0], High: cuts[1], Urgent: cuts[2]}
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Urgent && t.Urgent <= 1) {
		return Thresholds{}, fmt.Errorf("priority thresholds must increase within (0,1]: %v", cuts)
	}
	return t, nil
}

// Level maps a composite score to a priority level
func (t Thresholds) Level(score float64) models.PriorityLevel {
	switch {
	case score >= t.Urgent:
		return models.PriorityUrgent
	case score >= t.High:
		return models.PriorityHigh
	case score >= t.Medium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// Input carries everything the prioritizer reads for one alert and recipient
type Input struct {
	Candidate      models.AlertCandidate
	Classification *models.ClassificationResult
	Transition     *models.StageTransition
	Metadata       models.BillMetadata
	Status         string
	Preference     models.AlertPreference
}

// Factor is one scored input to the composite
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"` // after re-normalization
	Contribution float64 `json:"contribution"`
}

// Result is the prioritizer output
type Result struct {
	Score           float64              `json:"score"`
	Base            float64              `json:"base"` // before preference adjustments
	Level           models.PriorityLevel `json:"level"`
	Factors         []Factor             `json:"factors"`
	Missing         []string             `json:"missing,omitempty"`
	TopFactors      []string             `json:"top_factors"`
	Recommendations []string             `json:"recommendations"`
}

// Prioritizer computes weighted composite priority scores
type Prioritizer struct {
	weights    Weights
	thresholds Thresholds
	now        func() time.Time
}

// New creates a prioritizer. A nil weight set selects the defaults.
func New(weights Weights, thresholds Thresholds) (*Prioritizer, error) {
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if _, err := ThresholdsFrom([]float64{thresholds.Medium, thresholds.High, thresholds.Urgent}); err != nil {
		return nil, err
	}
	return &Prioritizer{weights: weights, thresholds: thresholds, now: time.Now}, nil
}

// Prioritize scores one alert candidate for one recipient
func (p *Prioritizer) Prioritize(in Input) Result {
	values := p.factors(in)

	present := make(map[string]bool, len(FactorNames))
	var missing []string
	for _, name := range FactorNames {
		_, ok := values[name]
		present[name] = ok
		if !ok && p.weights[name] > 0 {
			missing = append(missing, name)
		}
	}

	weights := p.weights.Renormalize(present)

	var result Result
	for _, name := range FactorNames {
		w, ok := weights[name]
		if !ok {
			continue
		}
		v := values[name]
		result.Factors = append(result.Factors, Factor{
			Name:         name,
			Value:        v,
			Weight:       w,
			Contribution: v * w,
		})
		result.Base += v * w
	}
	result.Base = clamp(result.Base)
	result.Missing = missing

	result.Score = clamp(result.Base + p.preferenceAdjustment(in))
	result.Level = p.thresholds.Level(result.Score)
	result.TopFactors = topFactors(result.Factors)
	result.Recommendations = recommendations(values, in)

	logrus.WithFields(logrus.Fields{
		"bill_id": in.Candidate.BillID,
		"user_id": in.Preference.UserID,
		"score":   result.Score,
		"level":   result.Level,
		"missing": len(missing),
	}).Debug("Prioritized alert")

	return result
}

// Apply copies a result onto an alert
func Apply(alert *models.Alert, r Result) {
	alert.Priority = r.Level
	alert.Score = r.Score
	alert.TopFactors = r.TopFactors
	alert.Recommendations = r.Recommendations
}

func (p *Prioritizer) factors(in Input) map[string]float64 {
	values := make(map[string]float64, len(FactorNames))
	cls := in.Classification

	if v, ok := domainFactor(cls, 0.8, keywords.DomainReimbursement); ok {
		values[FactorReimbursement] = v
	}
	if v, ok := speedFactor(cls); ok {
		values[FactorSpeed] = v
	}
	if v, ok := passageFactor(in.Transition, in.Status); ok {
		values[FactorPassage] = v
	}
	if in.Metadata.Relevance != nil {
		values[FactorRelevance] = clamp(*in.Metadata.Relevance / 100)
	}
	if v, ok := severityFactor(cls, in.Candidate.Change); ok {
		values[FactorSeverity] = v
	}
	if v, ok := domainFactor(cls, 0.7, keywords.DomainCompliance, keywords.DomainQuality, keywords.DomainStaffing); ok {
		values[FactorRegulatory] = v
	}
	if v, ok := timeFactor(in, p.now()); ok {
		values[FactorTimeSensitivity] = v
	}
	return values
}

// domainFactor reads the strongest of the given domain scores. Keyword based
// scorers report zero for domains without evidence, which is treated as
// missing rather than as a measured zero. A domain with any evidence scores
// at least floor.
func domainFactor(cls *models.ClassificationResult, floor float64, domains ...string) (float64, bool) {
	best, reported := 0.0, false
	for _, d := range domains {
		if v, ok := cls.DomainScore(d); ok {
			reported = true
			best = math.Max(best, v)
		}
	}
	if !reported {
		return 0, false
	}
	if best == 0 {
		if cls.Scorer == models.ScorerAI {
			return 0, true
		}
		return 0, false
	}
	return math.Max(floor, clamp(best/10)), true
}

var speedValue = map[models.Urgency]float64{
	models.UrgencyImmediate: 1.0,
	models.UrgencyShortTerm: 0.7,
	models.UrgencyLongTerm:  0.3,
	models.UrgencyNone:      0.1,
}

func speedFactor(cls *models.ClassificationResult) (float64, bool) {
	if cls == nil {
		return 0, false
	}
	v, ok := speedValue[cls.Urgency]
	return v, ok
}

func passageFactor(tr *models.StageTransition, status string) (float64, bool) {
	if tr != nil && tr.Type != models.TransitionUnresolved {
		return clamp(tr.PassageProbability), true
	}
	s := stage.Normalize(status)
	if s == models.StageUnknown {
		return 0, false
	}
	return stage.BaseProbability(s), true
}

var (
	severityValue = map[models.Severity]float64{
		models.SeverityMinor:       0.2,
		models.SeverityModerate:    0.5,
		models.SeveritySignificant: 0.8,
		models.SeverityCritical:    1.0,
	}
	tierValue = map[models.Tier]float64{
		models.TierNoOp:        0,
		models.TierMinor:       0.2,
		models.TierModerate:    0.5,
		models.TierSignificant: 0.8,
		models.TierCritical:    1.0,
	}
)

func severityFactor(cls *models.ClassificationResult, change *models.ChangeRecord) (float64, bool) {
	if cls != nil {
		if v, ok := severityValue[cls.Label]; ok {
			return v, true
		}
	}
	if change != nil {
		v, ok := tierValue[change.Tier]
		return v, ok
	}
	return 0, false
}

var deadlineTerms = []string{"deadline", "expires", "sunset", "comment period"}

func timeFactor(in Input, now time.Time) (float64, bool) {
	best, ok := 0.0, false

	if d := in.Metadata.Deadline; d != nil {
		ok = true
		best = deadlineValue(d.Sub(now))
	}

	if tr := in.Transition; tr != nil {
		switch tr.ToStage {
		case models.StageSentToExecutive, models.StageEnacted:
			best, ok = math.Max(best, 0.9), true
		case models.StagePassedBoth:
			best, ok = math.Max(best, 0.8), true
		}
	}

	text := strings.Join([]string{in.Metadata.Title, in.Metadata.Summary, in.Candidate.Message}, "\n")
	if _, found := keywords.ContainsAny(text, deadlineTerms); found {
		best, ok = math.Max(best, 0.7), true
	}
	return best, ok
}

func deadlineValue(until time.Duration) float64 {
	const day = 24 * time.Hour
	switch {
	case until < 0:
		return 0.1
	case until <= 7*day:
		return 1.0
	case until <= 30*day:
		return 0.7
	case until <= 90*day:
		return 0.4
	default:
		return 0.1
	}
}

// preferenceAdjustment adds keyword boosts and subtracts a fixed penalty for
// each excluded keyword present in the alert
func (p *Prioritizer) preferenceAdjustment(in Input) float64 {
	pref := in.Preference
	if len(pref.KeywordBoosts) == 0 && len(pref.ExcludedKeywords) == 0 {
		return 0
	}

	content := keywords.Normalize(strings.Join(alertText(in), "\n"))

	adjust := 0.0
	for phrase, boost := range pref.KeywordBoosts {
		if phrase = keywords.Normalize(phrase); phrase != "" && strings.Contains(content, phrase) {
			adjust += boost
		}
	}
	for _, phrase := range pref.ExcludedKeywords {
		if phrase = keywords.Normalize(phrase); phrase != "" && strings.Contains(content, phrase) {
			adjust -= excludedPenalty
		}
	}
	return adjust
}

func alertText(in Input) []string {
	parts := []string{in.Candidate.Message, in.Metadata.Title, in.Metadata.Summary}
	if c := in.Candidate.Change; c != nil {
		parts = append(parts, c.ChangedText)
	}
	if cls := in.Classification; cls != nil {
		parts = append(parts, cls.Rationale)
		parts = append(parts, cls.MatchedTerms...)
	}
	return parts
}

var factorLabel = map[string]string{
	FactorReimbursement:   "reimbursement impact",
	FactorSpeed:           "implementation speed",
	FactorPassage:         "passage likelihood",
	FactorRelevance:       "bill relevance",
	FactorSeverity:        "change severity",
	FactorRegulatory:      "regulatory impact",
	FactorTimeSensitivity: "time sensitivity",
}

func topFactors(factors []Factor) []string {
	sorted := make([]Factor, 0, len(factors))
	for _, f := range factors {
		if f.Contribution > 0 {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Contribution > sorted[j].Contribution
	})

	var top []string
	for i, f := range sorted {
		if i == maxTopFactors {
			break
		}
		top = append(top, fmt.Sprintf("%s (%.0f%%)", factorLabel[f.Name], f.Value*100))
	}
	return top
}

func recommendations(values map[string]float64, in Input) []string {
	var recs []string

	if values[FactorReimbursement] >= 0.8 {
		recs = append(recs, "Review impact on facility reimbursement rates", "Update financial projections and budgets")
	}

	switch speed := values[FactorSpeed]; {
	case speed >= 0.8:
		recs = append(recs, "Begin immediate implementation planning", "Assign dedicated staff to manage compliance")
	case speed >= 0.5:
		recs = append(recs, "Add to implementation roadmap")
	}

	if values[FactorRegulatory] >= 0.7 {
		recs = append(recs, "Review compliance policies and procedures", "Plan staff training for new requirements")
	}

	if tr := in.Transition; tr != nil && tr.PassageProbability >= 0.8 {
		recs = append(recs, "Monitor for final passage and signing", "Prepare for implementation")
	}

	if cls := in.Classification; cls != nil {
		switch cls.Label {
		case models.SeverityCritical:
			recs = append(recs, "Escalate to executive leadership")
		case models.SeveritySignificant:
			recs = append(recs, "Involve relevant department heads")
		}
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
