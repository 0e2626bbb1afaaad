package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
)

// Input is what a scorer sees for one change
type Input struct {
	Change   *models.ChangeRecord
	Metadata models.BillMetadata
	Status   string
}

// Scorer grades a change. The AI scorer and the keyword scorer are the two variants.
type Scorer interface {
	Kind() models.ScorerKind
	Score(ctx context.Context, in Input) (*models.ClassificationResult, error)
}

// AIScorer delegates grading to the external scoring service
type AIScorer struct {
	client *ai.Client
}

var _ Scorer = (*AIScorer)(nil)

// NewAIScorer wraps an AI client
func NewAIScorer(client *ai.Client) *AIScorer {
	return &AIScorer{client: client}
}

func (s *AIScorer) Kind() models.ScorerKind { return models.ScorerAI }

// Score submits the changed text and bill metadata and coerces the reply into the canonical enums
func (s *AIScorer) Score(ctx context.Context, in Input) (*models.ClassificationResult, error) {
	excerpt := in.Change.ChangedText
	if excerpt == "" {
		excerpt = in.Change.Summary
	}

	resp, err := s.client.Score(ctx, ai.ScoreRequest{
		Metadata:    in.Metadata,
		Status:      in.Status,
		DiffExcerpt: excerpt,
		Domains:     keywords.Domains,
	})
	if err != nil {
		return nil, err
	}

	label, ok := models.ParseSeverity(resp.Label)
	if !ok {
		return nil, fmt.Errorf("unrecognized significance label %q", resp.Label)
	}

	urgency, ok := models.ParseUrgency(resp.Urgency)
	if !ok {
		urgency = models.UrgencyNone
	}

	scores := make(map[string]float64, len(resp.DomainScores))
	for domain, v := range resp.DomainScores {
		scores[strings.ToLower(domain)] = math.Max(0, math.Min(10, v))
	}

	return &models.ClassificationResult{
		Label:        label,
		DomainScores: scores,
		Confidence:   math.Max(0, math.Min(1, resp.Confidence)),
		Urgency:      urgency,
		Rationale:    resp.Rationale,
	}, nil
}

var (
	immediateTerms = []string{"effective immediately", "immediate", "upon passage", "within 30 days", "emergency"}
	shortTermTerms = []string{"within 90 days", "within 6 months", "fiscal year", "by january", "by october"}
)

// KeywordScorer is the deterministic fallback: a weighted keyword scan over
// the changed text. Identical inputs always produce identical outputs.
type KeywordScorer struct {
	table *keywords.Table
}

var _ Scorer = (*KeywordScorer)(nil)

// NewKeywordScorer creates the fallback scorer over the shared keyword table
func NewKeywordScorer(table *keywords.Table) *KeywordScorer {
	return &KeywordScorer{table: table}
}

func (s *KeywordScorer) Kind() models.ScorerKind { return models.ScorerFallback }

// Score never fails
func (s *KeywordScorer) Score(_ context.Context, in Input) (*models.ClassificationResult, error) {
	return s.Evaluate(in), nil
}

// Evaluate grades a change from its changed text plus the bill title and summary
func (s *KeywordScorer) Evaluate(in Input) *models.ClassificationResult {
	fragments := s.fragments(in)
	matches := s.table.MatchAll(fragments)

	impact := keywords.Score(matches)
	changePct := 0.0
	if in.Change != nil {
		changePct = (1 - in.Change.Similarity) * 100
	}
	magnitude := math.Min(changePct/100, 1)
	final := impact * (0.5 + 0.5*magnitude)

	label := models.SeverityMinor
	switch {
	case final >= 2.0:
		label = models.SeverityCritical
	case final >= 1.0:
		label = models.SeveritySignificant
	case final >= 0.3:
		label = models.SeverityModerate
	}

	phrases := keywords.Phrases(matches)
	return &models.ClassificationResult{
		Label:        label,
		DomainScores: keywords.DomainScores(matches),
		Confidence:   0.5 + 0.1*math.Min(float64(len(matches)), 4),
		Urgency:      urgencyOf(fragments, len(matches) > 0),
		MatchedTerms: phrases,
		Rationale:    keywordRationale(phrases, impact, changePct, final),
	}
}

func (s *KeywordScorer) fragments(in Input) []string {
	var out []string
	if in.Change != nil {
		out = append(out, strings.Split(in.Change.ChangedText, "\n")...)
		for _, sec := range in.Change.Sections {
			if sec.Type == models.ChangeAdded {
				out = append(out, sec.Excerpt)
			}
		}
	}
	return append(out, in.Metadata.Title, in.Metadata.Summary)
}

func urgencyOf(fragments []string, matched bool) models.Urgency {
	text := strings.Join(fragments, "\n")
	if _, ok := keywords.ContainsAny(text, immediateTerms); ok {
		return models.UrgencyImmediate
	}
	if _, ok := keywords.ContainsAny(text, shortTermTerms); ok {
		return models.UrgencyShortTerm
	}
	if matched {
		return models.UrgencyLongTerm
	}
	return models.UrgencyNone
}

func keywordRationale(phrases []string, impact, changePct, final float64) string {
	if len(phrases) == 0 {
		return fmt.Sprintf("No policy keywords in changed text; %.1f%% of the bill changed.", changePct)
	}
	shown := phrases
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return fmt.Sprintf("Keyword scan matched %d terms (%s); impact %.2f scaled by %.1f%% change to %.2f.",
		len(phrases), strings.Join(shown, ", "), impact, changePct, final)
}
