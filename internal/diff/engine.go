package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
)

// ErrEmptySnapshot is returned when the current snapshot has no text
var ErrEmptySnapshot = errors.New("current snapshot is empty")

const (
	excerptWords     = 30
	maxUnifiedLines  = 80
	unifiedDiffLines = 2
)

// Engine computes ChangeRecords from consecutive snapshots
type Engine struct {
	table *keywords.Table
	now   func() time.Time
}

// NewEngine creates a diff engine over a keyword table
func NewEngine(table *keywords.Table) *Engine {
	return &Engine{
		table: table,
		now:   time.Now,
	}
}

// Checksum fingerprints a snapshot's text and status
func Checksum(text, status string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + status))
	return hex.EncodeToString(sum[:])
}

// Compute aligns the previous and current snapshots and grades the change.
// A nil or empty previous snapshot yields a baseline record; identical texts
// yield a no-op record with similarity 1.0.
func (e *Engine) Compute(prev, cur *models.BillSnapshot) (*models.ChangeRecord, error) {
	if cur == nil || strings.TrimSpace(cur.Text) == "" {
		billID := ""
		if cur != nil {
			billID = cur.BillID
		}
		return nil, fmt.Errorf("bill %s: %w", billID, ErrEmptySnapshot)
	}

	record := &models.ChangeRecord{
		ID:                uuid.NewString(),
		BillID:            cur.BillID,
		CurrentSnapshotID: cur.ID,
		ComputedAt:        e.now(),
	}

	if prev == nil || strings.TrimSpace(prev.Text) == "" {
		record.Baseline = true
		record.Tier = models.TierNoOp
		record.Summary = "First observation of bill; recorded as baseline."
		return record, nil
	}
	record.PreviousSnapshotID = prev.ID

	if prev.Checksum != "" && prev.Checksum == cur.Checksum {
		record.Similarity = 1.0
		record.Tier = models.TierNoOp
		return record, nil
	}

	a := strings.Fields(prev.Text)
	b := strings.Fields(cur.Text)

	matcher := difflib.NewMatcherWithJunk(a, b, false, nil)
	record.Similarity = clamp(matcher.Ratio())
	if record.Similarity == 1.0 {
		record.Tier = models.TierNoOp
		return record, nil
	}

	var fragments []string
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r':
			record.WordsRemoved += op.I2 - op.I1
			record.WordsAdded += op.J2 - op.J1
			fragments = append(fragments,
				strings.Join(a[op.I1:op.I2], " "),
				strings.Join(b[op.J1:op.J2], " "))
		case 'i':
			record.WordsAdded += op.J2 - op.J1
			fragments = append(fragments, strings.Join(b[op.J1:op.J2], " "))
		case 'd':
			record.WordsRemoved += op.I2 - op.I1
			fragments = append(fragments, strings.Join(a[op.I1:op.I2], " "))
		}
	}

	matches := e.table.MatchAll(fragments)
	record.KeywordHits = keywords.Phrases(matches)
	record.KeywordScore = keywords.Score(matches)
	record.ChangedText = strings.Join(fragments, "\n")
	record.Sections = compareSections(segment(prev.Text), segment(cur.Text))
	record.Tier = ClassifyTier(record.Similarity, record.WordsChanged(), record.KeywordScore)
	record.Summary = summarize(record)
	record.UnifiedDiff = unified(prev.Text, cur.Text)

	logrus.WithFields(logrus.Fields{
		"bill_id":    record.BillID,
		"similarity": record.Similarity,
		"tier":       record.Tier,
		"keywords":   len(record.KeywordHits),
	}).Debug("Computed bill diff")

	return record, nil
}

// ClassifyTier maps change magnitude to a significance tier. It depends only
// on its arguments, so the same snapshot pair always yields the same tier.
func ClassifyTier(similarity float64, wordsChanged int, keywordScore float64) models.Tier {
	if similarity >= 1.0 {
		return models.TierNoOp
	}

	changePct := (1 - similarity) * 100
	switch {
	case keywordScore >= 4.0 || changePct > 50:
		return models.TierCritical
	case keywordScore >= 2.0 || changePct > 25:
		return models.TierSignificant
	case keywordScore > 0 || changePct > 10 || wordsChanged > 100:
		return models.TierModerate
	default:
		return models.TierMinor
	}
}

func compareSections(prev, cur []section) []models.SectionChange {
	prevIdx := sectionIndex(prev)
	curIdx := sectionIndex(cur)

	var changes []models.SectionChange
	for _, s := range cur {
		old, ok := prevIdx[s.label]
		switch {
		case !ok:
			changes = append(changes, models.SectionChange{
				Label:   s.label,
				Type:    models.ChangeAdded,
				Excerpt: excerpt(s.words),
			})
		case !equalWords(old.words, s.words):
			changes = append(changes, models.SectionChange{
				Label:   s.label,
				Type:    models.ChangeModified,
				Excerpt: changedExcerpt(old.words, s.words),
			})
		}
	}

	for _, s := range prev {
		if _, ok := curIdx[s.label]; !ok {
			changes = append(changes, models.SectionChange{
				Label:   s.label,
				Type:    models.ChangeRemoved,
				Excerpt: excerpt(s.words),
			})
		}
	}

	return changes
}

// changedExcerpt returns the first inserted or replaced run, or the first
// deleted run when nothing was inserted
func changedExcerpt(a, b []string) string {
	matcher := difflib.NewMatcherWithJunk(a, b, false, nil)
	var deleted []string
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r', 'i':
			return excerpt(b[op.J1:op.J2])
		case 'd':
			if deleted == nil {
				deleted = a[op.I1:op.I2]
			}
		}
	}
	return excerpt(deleted)
}

func excerpt(words []string) string {
	if len(words) > excerptWords {
		return strings.Join(words[:excerptWords], " ") + " ..."
	}
	return strings.Join(words, " ")
}

func summarize(r *models.ChangeRecord) string {
	parts := []string{
		fmt.Sprintf("Overall similarity %.1f%% (%.1f%% changed).", r.Similarity*100, (1-r.Similarity)*100),
		fmt.Sprintf("%d words added, %d removed.", r.WordsAdded, r.WordsRemoved),
	}
	if n := len(r.Sections); n > 0 {
		parts = append(parts, fmt.Sprintf("%d sections affected.", n))
	}
	if n := len(r.KeywordHits); n > 0 {
		parts = append(parts, fmt.Sprintf("%d policy-relevant terms.", n))
	}
	return strings.Join(parts, " ")
}

func unified(prev, cur string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prev),
		B:        difflib.SplitLines(cur),
		FromFile: "previous",
		ToFile:   "current",
		Context:  unifiedDiffLines,
	})
	if err != nil {
		return ""
	}

	lines := strings.SplitAfter(text, "\n")
	if len(lines) > maxUnifiedLines {
		lines = append(lines[:maxUnifiedLines], "...\n")
	}
	return strings.Join(lines, "")
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
