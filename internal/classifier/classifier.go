package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/stage"
)

// Reasons recorded when the fallback scorer produced the result
const (
	ReasonDisabled      = "ai_disabled"
	ReasonTimeout       = "timeout"
	ReasonCancelled     = "cancelled"
	ReasonUnavailable   = "unavailable"
	ReasonError         = "error"
	ReasonLowConfidence = "low_confidence"
)

// Classifier selects between the primary scorer and the keyword fallback.
// All selection logic lives in Classify.
type Classifier struct {
	primary   Scorer
	fallback  *KeywordScorer
	table     *keywords.Table
	timeout   time.Duration
	threshold float64
	now       func() time.Time
}

// New creates a classifier. primary may be nil, in which case every result
// comes from the fallback scorer.
func New(primary Scorer, table *keywords.Table, timeout time.Duration, threshold float64) *Classifier {
	return &Classifier{
		primary:   primary,
		fallback:  NewKeywordScorer(table),
		table:     table,
		timeout:   timeout,
		threshold: threshold,
		now:       time.Now,
	}
}

type outcome struct {
	result *models.ClassificationResult
	err    error
}

// Classify grades a change. It never blocks longer than the configured
// timeout on the primary scorer and always returns a valid result.
func (c *Classifier) Classify(ctx context.Context, in Input) (*models.ClassificationResult, error) {
	if in.Change == nil {
		return nil, errors.New("classify: change record is required")
	}

	result, reason := c.tryPrimary(ctx, in)
	if result == nil {
		result = c.fallback.Evaluate(in)
		result.Scorer = models.ScorerFallback
		result.FallbackReason = reason
	} else {
		result.Scorer = models.ScorerAI
	}

	result.ID = uuid.NewString()
	result.BillID = in.Change.BillID
	result.ChangeID = in.Change.ID
	result.ClassifiedAt = c.now()

	logrus.WithFields(logrus.Fields{
		"bill_id":    result.BillID,
		"scorer":     result.Scorer,
		"label":      result.Label,
		"confidence": result.Confidence,
		"fallback":   result.FallbackReason,
	}).Info("Classified bill change")

	return result, nil
}

// tryPrimary returns the primary result, or nil with the reason it was rejected
func (c *Classifier) tryPrimary(ctx context.Context, in Input) (*models.ClassificationResult, string) {
	if c.primary == nil {
		return nil, ReasonDisabled
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("scorer panic: %v", r)}
			}
		}()
		res, err := c.primary.Score(callCtx, in)
		done <- outcome{result: res, err: err}
	}()

	logger := logrus.WithFields(logrus.Fields{"bill_id": in.Change.BillID, "scorer": c.primary.Kind()})

	select {
	case o := <-done:
		switch {
		case o.err != nil && ctx.Err() != nil:
			return nil, ReasonCancelled
		case o.err != nil && (callCtx.Err() != nil || errors.Is(o.err, context.DeadlineExceeded)):
			logger.WithField("timeout", c.timeout).Warn("Scoring service timed out; using keyword scorer")
			return nil, ReasonTimeout
		case o.err != nil && errors.Is(o.err, ai.ErrUnavailable):
			logger.WithError(o.err).Warn("Scoring service unavailable; using keyword scorer")
			return nil, ReasonUnavailable
		case o.err != nil:
			logger.WithError(o.err).Warn("Scoring service failed; using keyword scorer")
			return nil, ReasonError
		case o.result == nil:
			return nil, ReasonError
		case o.result.Confidence < c.threshold:
			logger.WithField("confidence", o.result.Confidence).Info("Low confidence score; using keyword scorer")
			return nil, ReasonLowConfidence
		}
		return o.result, ""
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ReasonCancelled
		}
		logger.WithField("timeout", c.timeout).Warn("Scoring service timed out; using keyword scorer")
		return nil, ReasonTimeout
	}
}

// stageWeight is how consequential reaching a stage is
var stageWeight = map[models.Stage]float64{
	models.StageUnknown:         0.3,
	models.StageIntroduced:      0.3,
	models.StageCommittee:       0.5,
	models.StageReported:        0.7,
	models.StageFloor:           0.8,
	models.StagePassedChamber:   0.9,
	models.StageOtherChamber:    0.9,
	models.StagePassedBoth:      1.0,
	models.StageSentToExecutive: 1.0,
	models.StageEnacted:         1.0,
	models.StageVetoed:          0.9,
	models.StageFailed:          0.5,
	models.StageWithdrawn:       0.5,
}

// ClassifyTransition grades a status-only change deterministically
func (c *Classifier) ClassifyTransition(tr *models.StageTransition, meta models.BillMetadata) *models.ClassificationResult {
	from := stageWeight[tr.FromStage]
	to := stageWeight[tr.ToStage]

	label := models.SeverityMinor
	switch {
	case to >= 0.9:
		label = models.SeverityCritical
	case to >= 0.7:
		label = models.SeveritySignificant
	case to-from >= 0.2-1e-9:
		label = models.SeverityModerate
	}
	if meta.Relevance != nil && *meta.Relevance >= 70 && to >= 0.7 {
		label = models.SeverityCritical
	}
	if tr.IsRegression() && label.Rank() < models.SeverityModerate.Rank() {
		label = models.SeverityModerate
	}

	matches := c.table.MatchAll([]string{meta.Title, meta.Summary})

	urgency := models.UrgencyLongTerm
	switch {
	case tr.ToStage == models.StageEnacted:
		urgency = models.UrgencyImmediate
	case tr.ToStage == models.StageSentToExecutive || tr.ToStage == models.StagePassedBoth:
		urgency = models.UrgencyShortTerm
	case stage.IsTerminal(tr.ToStage):
		urgency = models.UrgencyNone
	}

	relevance := "unknown"
	if meta.Relevance != nil {
		relevance = fmt.Sprintf("%.0f/100", *meta.Relevance)
	}

	return &models.ClassificationResult{
		ID:           uuid.NewString(),
		BillID:       tr.BillID,
		TransitionID: tr.ID,
		Label:        label,
		DomainScores: keywords.DomainScores(matches),
		Confidence:   0.9,
		Urgency:      urgency,
		MatchedTerms: keywords.Phrases(matches),
		Rationale: fmt.Sprintf("Bill moved from %s to %s (%s). Relevance %s. Passage likelihood now %.0f%%.",
			tr.FromStage, tr.ToStage, tr.Type, relevance, tr.PassageProbability*100),
		Scorer:       models.ScorerStage,
		ClassifiedAt: c.now(),
	}
}

// Merge folds a transition grade into a change grade, keeping the higher label
func Merge(change, transition *models.ClassificationResult) *models.ClassificationResult {
	if change == nil {
		return transition
	}
	if transition == nil {
		return change
	}

	merged := *change
	merged.TransitionID = transition.TransitionID
	if transition.Label.Rank() > merged.Label.Rank() {
		merged.Label = transition.Label
	}
	if urgencyRank[transition.Urgency] > urgencyRank[merged.Urgency] {
		merged.Urgency = transition.Urgency
	}
	merged.Rationale = change.Rationale + " " + transition.Rationale
	return &merged
}

var urgencyRank = map[models.Urgency]int{
	models.UrgencyNone:      0,
	models.UrgencyLongTerm:  1,
	models.UrgencyShortTerm: 2,
	models.UrgencyImmediate: 3,
}
