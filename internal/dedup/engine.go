package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/keywords"
	"github.com/snfwatch/billwatch/internal/models"
)

// Decision reasons
const (
	ReasonNew            = "new"
	ReasonExactDuplicate = "exact_duplicate"
	ReasonSimilar        = "similar"
	ReasonUniqueKeyword  = "unique_keyword"
	ReasonWindowError    = "window_error"
)

// Decision is the dedup verdict for one candidate
type Decision struct {
	Outcome     models.DedupOutcome
	Similarity  float64
	DuplicateOf string
	Reason      string
	Hash        string
}

// Engine suppresses near-duplicate alerts for the same bill within a time window
type Engine struct {
	window    Window
	book      *DigestBook
	span      time.Duration
	threshold float64
	unique    []string
	stats     *Stats
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine over an injected window
func NewEngine(window Window, book *DigestBook, span time.Duration, threshold float64, uniqueKeywords []string) *Engine {
	return &Engine{
		window:    window,
		book:      book,
		span:      span,
		threshold: threshold,
		unique:    uniqueKeywords,
		stats:     NewStats(),
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Stats returns the live counters
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Book returns the digest book grouped alerts are collected in
func (e *Engine) Book() *DigestBook {
	return e.book
}

// Normalize case-folds and collapses whitespace in alert text
func Normalize(text string) string {
	return keywords.Normalize(text)
}

// Hash fingerprints normalized alert text
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Similarity compares two alert texts after normalization using the same
// block alignment as the diff engine, over characters
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	m := difflib.NewMatcherWithJunk(strings.Split(na, ""), strings.Split(nb, ""), false, nil)
	return m.Ratio()
}

// Evaluate decides whether a candidate duplicates any alert in recent.
// It is a pure function of its inputs and the engine's configuration.
func (e *Engine) Evaluate(candidate models.AlertCandidate, recent []models.Alert) Decision {
	hash := Hash(candidate.Message)
	best := Decision{Outcome: models.OutcomeEmit, Reason: ReasonNew, Hash: hash}
	var match models.Alert

	for _, prior := range recent {
		if prior.BillID != candidate.BillID || prior.Outcome == models.OutcomeSuppress {
			continue
		}

		sim := 0.0
		if prior.DedupHash == hash {
			sim = 1.0
		} else {
			sim = Similarity(candidate.Message, prior.Message)
		}
		if sim > best.Similarity {
			best.Similarity = sim
			best.DuplicateOf = prior.ID
			match = prior
		}
	}

	if best.Similarity < e.threshold {
		best.DuplicateOf = ""
		return best
	}

	if phrase, ok := e.newUniqueKeyword(candidate, match); ok {
		logrus.WithFields(logrus.Fields{
			"bill_id": candidate.BillID,
			"keyword": phrase,
		}).Debug("Unique keyword overrides duplicate suppression")
		best.Reason = ReasonUniqueKeyword
		return best
	}

	best.Outcome = models.OutcomeSuppress
	best.Reason = ReasonSimilar
	if best.Similarity == 1.0 {
		best.Reason = ReasonExactDuplicate
	}
	return best
}

// newUniqueKeyword finds an always-unique keyword in the candidate's bill
// text that the matched prior alert did not carry. Keywords are looked up in
// the evidence rather than the message so template wording never counts.
func (e *Engine) newUniqueKeyword(candidate models.AlertCandidate, prior models.Alert) (string, bool) {
	text := evidence(candidate.Evidence, candidate.Message)
	seen := evidence(prior.Evidence, prior.Message)

	sorted := append([]string(nil), e.unique...)
	sort.Strings(sorted)
	for _, phrase := range sorted {
		if keywords.ContainsPhrase(text, phrase) && !keywords.ContainsPhrase(seen, phrase) {
			return keywords.Normalize(phrase), true
		}
	}
	return "", false
}

func evidence(text, message string) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	return message
}

func (e *Engine) billLock(billID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[billID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[billID] = l
	}
	return l
}

// Submit evaluates a candidate against the window and records it. The
// returned alert is the representative record for the candidate; suppressed
// candidates are returned too so the caller can retain them.
func (e *Engine) Submit(candidate models.AlertCandidate) (models.Alert, Decision) {
	lock := e.billLock(candidate.BillID)
	lock.Lock()
	defer lock.Unlock()

	at := candidate.CreatedAt
	if at.IsZero() {
		at = e.now()
	}

	logger := logrus.WithField("bill_id", candidate.BillID)

	var decision Decision
	recent, err := e.window.Recent(candidate.BillID, at.Add(-e.span))
	if err != nil {
		logger.WithError(err).Warn("Dedup window unavailable; emitting alert")
		decision = Decision{Outcome: models.OutcomeEmit, Reason: ReasonWindowError, Hash: Hash(candidate.Message)}
	} else {
		decision = e.Evaluate(candidate, recent)
	}

	alert := newAlert(candidate, decision, at)

	e.stats.recordCandidate(decision.Outcome)
	if decision.Outcome != models.OutcomeSuppress {
		if err := e.window.Add(alert); err != nil {
			logger.WithError(err).Warn("Failed to record alert in dedup window")
		}
	}

	logger.WithFields(logrus.Fields{
		"outcome":    decision.Outcome,
		"reason":     decision.Reason,
		"similarity": decision.Similarity,
	}).Debug("Dedup decision")

	return alert, decision
}

// Route applies a user's delivery preference to a non-suppressed alert:
// digest users get it grouped, quiet hours hold everything but Urgent,
// otherwise it is emitted.
func (e *Engine) Route(alert *models.Alert, pref models.AlertPreference, now time.Time) models.DedupOutcome {
	if alert.Outcome == models.OutcomeSuppress {
		return models.OutcomeSuppress
	}

	switch {
	case pref.Frequency == models.FrequencyDaily || pref.Frequency == models.FrequencyWeekly:
		alert.Outcome = models.OutcomeGroup
		alert.Delivery = models.DeliveryPending
		e.book.Add(pref.UserID, pref.Frequency, now, *alert)
	case pref.InQuietHours(now) && alert.Priority != models.PriorityUrgent:
		alert.Outcome = models.OutcomeGroup
		alert.Delivery = models.DeliveryHeld
		e.book.Hold(*alert)
	default:
		alert.Outcome = models.OutcomeEmit
		alert.Delivery = models.DeliveryPending
	}

	e.stats.recordRouted(alert.Outcome)
	return alert.Outcome
}

func newAlert(c models.AlertCandidate, d Decision, at time.Time) models.Alert {
	alert := models.Alert{
		ID:          uuid.NewString(),
		BillID:      c.BillID,
		BillNumber:  c.BillNumber,
		Title:       c.Title,
		Message:     c.Message,
		Evidence:    c.Evidence,
		Outcome:     d.Outcome,
		Similarity:  d.Similarity,
		DuplicateOf: d.DuplicateOf,
		DedupHash:   d.Hash,
		CreatedAt:   at,
		Delivery:    models.DeliveryPending,
	}
	if c.Change != nil {
		alert.ChangeID = c.Change.ID
	}
	if c.Classification != nil {
		alert.ClassificationID = c.Classification.ID
	}
	if c.Transition != nil {
		alert.TransitionID = c.Transition.ID
	}
	if d.Outcome == models.OutcomeSuppress {
		alert.Delivery = models.DeliveryNone
	}
	return alert
}
