package diff

import (
	"errors"
	"strings"
	"testing"

	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(id, text string) *models.BillSnapshot {
	return &models.BillSnapshot{
		ID:       id,
		BillID:   "HB-1234",
		Text:     text,
		Status:   "Introduced",
		Checksum: Checksum(text, "Introduced"),
	}
}

func TestComputeIdenticalSnapshots(t *testing.T) {
	engine := NewEngine(keywords.Default())
	text := "SECTION 1. Short title.\nThis act may be cited as the Nursing Facility Act."

	record, err := engine.Compute(snapshot("a", text), snapshot("b", text))
	require.NoError(t, err)

	assert.Equal(t, 1.0, record.Similarity)
	assert.Equal(t, models.TierNoOp, record.Tier)
	assert.Empty(t, record.Sections)
	assert.Zero(t, record.WordsChanged())
}

func TestComputeWhitespaceOnlyChange(t *testing.T) {
	engine := NewEngine(keywords.Default())

	prev := snapshot("a", "SECTION 1.  Short   title.\nThis act may be cited.")
	cur := snapshot("b", "SECTION 1. Short title.\n\n  This act   may be cited.\n")
	require.NotEqual(t, prev.Checksum, cur.Checksum)

	record, err := engine.Compute(prev, cur)
	require.NoError(t, err)

	assert.Equal(t, 1.0, record.Similarity)
	assert.Equal(t, models.TierNoOp, record.Tier)
	assert.Empty(t, record.Sections)
}

func TestComputeChecksumShortCircuit(t *testing.T) {
	engine := NewEngine(keywords.Default())

	prev := snapshot("a", "original text")
	cur := snapshot("b", "original text")
	cur.ID = "b"

	record, err := engine.Compute(prev, cur)
	require.NoError(t, err)
	assert.Equal(t, models.TierNoOp, record.Tier)
	assert.Equal(t, "a", record.PreviousSnapshotID)
	assert.Equal(t, "b", record.CurrentSnapshotID)
}

func TestComputeBaseline(t *testing.T) {
	engine := NewEngine(keywords.Default())

	record, err := engine.Compute(nil, snapshot("b", "SECTION 1. Text."))
	require.NoError(t, err)
	assert.True(t, record.Baseline)
	assert.Equal(t, models.TierNoOp, record.Tier)

	record, err = engine.Compute(snapshot("a", "   "), snapshot("b", "SECTION 1. Text."))
	require.NoError(t, err)
	assert.True(t, record.Baseline)
}

func TestComputeEmptyCurrent(t *testing.T) {
	engine := NewEngine(keywords.Default())

	_, err := engine.Compute(snapshot("a", "text"), snapshot("b", " \n\t"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptySnapshot))

	_, err = engine.Compute(snapshot("a", "text"), nil)
	assert.True(t, errors.Is(err, ErrEmptySnapshot))
}

func TestComputeKeywordInsertion(t *testing.T) {
	engine := NewEngine(keywords.Default())

	body := strings.Repeat("the resident may receive services from the facility ", 25)
	prev := snapshot("a", "SECTION 1. Coverage.\n"+body+"\nSECTION 2. Effective.\nThis act takes effect in July.")
	cur := snapshot("b", "SECTION 1. Coverage.\n"+body+" Facilities must obtain prior authorization before admission.\nSECTION 2. Effective.\nThis act takes effect in July.")

	record, err := engine.Compute(prev, cur)
	require.NoError(t, err)

	assert.Less(t, record.Similarity, 1.0)
	assert.Greater(t, record.Similarity, 0.9)
	assert.Equal(t, 7, record.WordsAdded)
	assert.Zero(t, record.WordsRemoved)
	assert.Contains(t, record.KeywordHits, "prior authorization")
	assert.GreaterOrEqual(t, record.Tier.Rank(), models.TierModerate.Rank())

	require.Len(t, record.Sections, 1)
	assert.Equal(t, "SECTION 1", record.Sections[0].Label)
	assert.Equal(t, models.ChangeModified, record.Sections[0].Type)
	assert.Contains(t, record.Sections[0].Excerpt, "prior authorization")

	assert.Contains(t, record.Summary, "1 sections affected")
	assert.Contains(t, record.UnifiedDiff, "+++ current")
	assert.Contains(t, record.ChangedText, "prior authorization")
}

func TestComputeIsDeterministic(t *testing.T) {
	engine := NewEngine(keywords.Default())
	prev := snapshot("a", "SEC. 1. The payment rate is set by the department.\nSEC. 2. Staff training.")
	cur := snapshot("b", "SEC. 1. The payment rate is reduced by the department.\nSEC. 3. Minimum staffing.")

	first, err := engine.Compute(prev, cur)
	require.NoError(t, err)
	second, err := engine.Compute(prev, cur)
	require.NoError(t, err)

	assert.Equal(t, first.Similarity, second.Similarity)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.KeywordHits, second.KeywordHits)
	assert.Equal(t, first.Sections, second.Sections)
	assert.GreaterOrEqual(t, first.Similarity, 0.0)
	assert.LessOrEqual(t, first.Similarity, 1.0)
}

func TestComputeSectionAddedAndRemoved(t *testing.T) {
	engine := NewEngine(keywords.Default())
	prev := snapshot("a", "SEC. 1. Definitions.\nSEC. 2. Staff training.")
	cur := snapshot("b", "SEC. 1. Definitions.\nSEC. 3. Minimum staffing.")

	record, err := engine.Compute(prev, cur)
	require.NoError(t, err)

	require.Len(t, record.Sections, 2)
	assert.Equal(t, models.SectionChange{Label: "SEC. 3", Type: models.ChangeAdded, Excerpt: "SEC. 3. Minimum staffing."}, record.Sections[0])
	assert.Equal(t, models.SectionChange{Label: "SEC. 2", Type: models.ChangeRemoved, Excerpt: "SEC. 2. Staff training."}, record.Sections[1])
	assert.Contains(t, record.KeywordHits, "minimum staffing")
	assert.Contains(t, record.KeywordHits, "training")
}

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		words      int
		score      float64
		want       models.Tier
	}{
		{"identical", 1.0, 0, 0, models.TierNoOp},
		{"tiny edit", 0.99, 5, 0, models.TierMinor},
		{"keyword hit", 0.99, 5, 1.0, models.TierModerate},
		{"fifteen percent", 0.85, 5, 0, models.TierModerate},
		{"many words", 0.99, 150, 0, models.TierModerate},
		{"thirty percent", 0.70, 5, 0, models.TierSignificant},
		{"two points", 0.99, 5, 2.0, models.TierSignificant},
		{"rewrite", 0.40, 5, 0, models.TierCritical},
		{"heavy keywords", 0.99, 5, 4.5, models.TierCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTier(tt.similarity, tt.words, tt.score))
		})
	}
}

func TestSegment(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		labels []string
	}{
		{
			name:   "no headings",
			text:   "A bill relating to nursing homes.",
			labels: []string{"DOCUMENT"},
		},
		{
			name:   "preamble and sections",
			text:   "AN ACT relating to care.\nSECTION 1. Short title.\nSec. 2. Rates.",
			labels: []string{"PREAMBLE", "SECTION 1", "SEC. 2"},
		},
		{
			name:   "duplicate headings",
			text:   "Section 1. One.\nSection 1. Again.\nTitle IV Medicaid",
			labels: []string{"SECTION 1", "SECTION 1#2", "TITLE IV"},
		},
		{
			name:   "lowercase heading ignored",
			text:   "section 1 is not a heading\nPart B rules",
			labels: []string{"PREAMBLE", "PART B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var labels []string
			for _, s := range segment(tt.text) {
				labels = append(labels, s.label)
			}
			assert.Equal(t, tt.labels, labels)
		})
	}
}
