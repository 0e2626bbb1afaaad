package classifier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) Kind() models.ScorerKind { return models.ScorerAI }

func (m *MockScorer) Score(ctx context.Context, in Input) (*models.ClassificationResult, error) {
	args := m.Called(ctx, in)
	if r := args.Get(0); r != nil {
		return r.(*models.ClassificationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// blockingScorer ignores its context and waits until released
type blockingScorer struct {
	release chan struct{}
}

func (b *blockingScorer) Kind() models.ScorerKind { return models.ScorerAI }

func (b *blockingScorer) Score(ctx context.Context, in Input) (*models.ClassificationResult, error) {
	<-b.release
	return &models.ClassificationResult{Label: models.SeverityCritical, Confidence: 1}, nil
}

type panicScorer struct{}

func (panicScorer) Kind() models.ScorerKind { return models.ScorerAI }

func (panicScorer) Score(context.Context, Input) (*models.ClassificationResult, error) {
	panic("boom")
}

func priorAuthChange() *models.ChangeRecord {
	return &models.ChangeRecord{
		ID:          "change-1",
		BillID:      "HB-1",
		Similarity:  0.98,
		ChangedText: "Facilities must obtain prior authorization before admission.",
		Tier:        models.TierModerate,
	}
}

func aiResult(confidence float64) *models.ClassificationResult {
	return &models.ClassificationResult{
		Label:        models.SeveritySignificant,
		DomainScores: map[string]float64{"compliance": 7},
		Confidence:   confidence,
		Urgency:      models.UrgencyShortTerm,
		Rationale:    "model rationale",
	}
}

func TestClassifyWithoutPrimary(t *testing.T) {
	c := New(nil, keywords.Default(), time.Second, 0.6)

	result, err := c.Classify(context.Background(), Input{Change: priorAuthChange()})
	require.NoError(t, err)

	assert.Equal(t, models.ScorerFallback, result.Scorer)
	assert.Equal(t, ReasonDisabled, result.FallbackReason)
	assert.Equal(t, "HB-1", result.BillID)
	assert.Equal(t, "change-1", result.ChangeID)
	assert.NotEmpty(t, result.ID)
}

func TestClassifyRequiresChange(t *testing.T) {
	c := New(nil, keywords.Default(), time.Second, 0.6)
	_, err := c.Classify(context.Background(), Input{})
	assert.Error(t, err)
}

func TestClassifyConfidenceThreshold(t *testing.T) {
	tests := []struct {
		confidence float64
		want       models.ScorerKind
	}{
		{0.0, models.ScorerFallback},
		{0.3, models.ScorerFallback},
		{0.59, models.ScorerFallback},
		{0.6, models.ScorerAI},
		{0.95, models.ScorerAI},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("confidence %.2f", tt.confidence), func(t *testing.T) {
			scorer := new(MockScorer)
			scorer.On("Score", mock.Anything, mock.Anything).Return(aiResult(tt.confidence), nil)
			c := New(scorer, keywords.Default(), time.Second, 0.6)

			result, err := c.Classify(context.Background(), Input{Change: priorAuthChange()})
			require.NoError(t, err)

			assert.Equal(t, tt.want, result.Scorer)
			if result.Confidence < 0.6 {
				assert.Equal(t, models.ScorerFallback, result.Scorer)
			}
			if tt.want == models.ScorerAI {
				assert.Equal(t, models.SeveritySignificant, result.Label)
				assert.Empty(t, result.FallbackReason)
			} else {
				assert.Equal(t, ReasonLowConfidence, result.FallbackReason)
			}
		})
	}
}

func TestClassifyPrimaryErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"unavailable", fmt.Errorf("%w: connection refused", ai.ErrUnavailable), ReasonUnavailable},
		{"other error", errors.New("unrecognized significance label"), ReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := new(MockScorer)
			scorer.On("Score", mock.Anything, mock.Anything).Return(nil, tt.err)
			c := New(scorer, keywords.Default(), time.Second, 0.6)

			result, err := c.Classify(context.Background(), Input{Change: priorAuthChange()})
			require.NoError(t, err)
			assert.Equal(t, models.ScorerFallback, result.Scorer)
			assert.Equal(t, tt.reason, result.FallbackReason)
			scorer.AssertExpectations(t)
		})
	}
}

func TestClassifyTimeoutFallsBackWithinBound(t *testing.T) {
	scorer := &blockingScorer{release: make(chan struct{})}
	defer close(scorer.release)

	timeout := 50 * time.Millisecond
	c := New(scorer, keywords.Default(), timeout, 0.6)

	start := time.Now()
	result, err := c.Classify(context.Background(), Input{Change: priorAuthChange()})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, models.ScorerFallback, result.Scorer)
	assert.Equal(t, ReasonTimeout, result.FallbackReason)
	assert.Less(t, elapsed, 10*timeout)
}

func TestClassifyParentCancelled(t *testing.T) {
	scorer := &blockingScorer{release: make(chan struct{})}
	defer close(scorer.release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(scorer, keywords.Default(), time.Second, 0.6)
	result, err := c.Classify(ctx, Input{Change: priorAuthChange()})
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, result.FallbackReason)
}

func TestClassifyRecoversScorerPanic(t *testing.T) {
	c := New(panicScorer{}, keywords.Default(), time.Second, 0.6)

	result, err := c.Classify(context.Background(), Input{Change: priorAuthChange()})
	require.NoError(t, err)
	assert.Equal(t, models.ScorerFallback, result.Scorer)
	assert.Equal(t, ReasonError, result.FallbackReason)
}

func TestKeywordScorer(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		similarity float64
		label      models.Severity
		urgency    models.Urgency
		confidence float64
	}{
		{
			name:       "prior authorization",
			text:       "Facilities must obtain prior authorization before admission.",
			similarity: 0.98,
			label:      models.SeverityModerate,
			urgency:    models.UrgencyLongTerm,
			confidence: 0.6,
		},
		{
			name:       "heavy rewrite",
			text:       "The payment rate and minimum staffing penalty apply effective immediately.",
			similarity: 0.5,
			label:      models.SeverityCritical,
			urgency:    models.UrgencyImmediate,
			confidence: 0.8,
		},
		{
			name:       "fiscal year reimbursement",
			text:       "Reimbursement changes begin next fiscal year.",
			similarity: 0.9,
			label:      models.SeverityModerate,
			urgency:    models.UrgencyShortTerm,
			confidence: 0.6,
		},
		{
			name:       "no keywords",
			text:       "Technical correction to a citation.",
			similarity: 0.99,
			label:      models.SeverityMinor,
			urgency:    models.UrgencyNone,
			confidence: 0.5,
		},
	}

	scorer := NewKeywordScorer(keywords.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Change: &models.ChangeRecord{Similarity: tt.similarity, ChangedText: tt.text}}

			result := scorer.Evaluate(in)
			assert.Equal(t, tt.label, result.Label)
			assert.Equal(t, tt.urgency, result.Urgency)
			assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)

			again := scorer.Evaluate(in)
			assert.Equal(t, result, again)
		})
	}
}

func TestKeywordScorerComplianceDomain(t *testing.T) {
	result := NewKeywordScorer(keywords.Default()).Evaluate(Input{Change: priorAuthChange()})

	assert.Greater(t, result.DomainScores[keywords.DomainCompliance], 0.0)
	assert.Equal(t, []string{"prior authorization"}, result.MatchedTerms)
}

func TestClassifyTransition(t *testing.T) {
	high := 85.0
	c := New(nil, keywords.Default(), time.Second, 0.6)

	tests := []struct {
		name      string
		from, to  models.Stage
		typ       models.TransitionType
		relevance *float64
		want      models.Severity
	}{
		{"to committee", models.StageIntroduced, models.StageCommittee, models.TransitionAdvance, nil, models.SeverityModerate},
		{"reported", models.StageCommittee, models.StageReported, models.TransitionAdvance, nil, models.SeveritySignificant},
		{"reported relevant", models.StageCommittee, models.StageReported, models.TransitionAdvance, &high, models.SeverityCritical},
		{"passed chamber", models.StageFloor, models.StagePassedChamber, models.TransitionAdvance, nil, models.SeverityCritical},
		{"regression", models.StageFloor, models.StageCommittee, models.TransitionRegression, nil, models.SeverityModerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &models.StageTransition{ID: "tr-1", BillID: "HB-1", FromStage: tt.from, ToStage: tt.to, Type: tt.typ}
			result := c.ClassifyTransition(tr, models.BillMetadata{BillID: "HB-1", Relevance: tt.relevance})

			assert.Equal(t, tt.want, result.Label)
			assert.Equal(t, models.ScorerStage, result.Scorer)
			assert.Equal(t, "tr-1", result.TransitionID)
		})
	}
}

func TestMerge(t *testing.T) {
	change := &models.ClassificationResult{Label: models.SeverityMinor, Urgency: models.UrgencyNone, Rationale: "a"}
	transition := &models.ClassificationResult{Label: models.SeverityCritical, Urgency: models.UrgencyShortTerm, TransitionID: "tr-1", Rationale: "b"}

	merged := Merge(change, transition)
	assert.Equal(t, models.SeverityCritical, merged.Label)
	assert.Equal(t, models.UrgencyShortTerm, merged.Urgency)
	assert.Equal(t, "tr-1", merged.TransitionID)
	assert.Equal(t, "a b", merged.Rationale)
	assert.Equal(t, models.SeverityMinor, change.Label)

	assert.Same(t, change, Merge(change, nil))
	assert.Same(t, transition, Merge(nil, transition))
}
