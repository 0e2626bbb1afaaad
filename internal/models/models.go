package models

import (
	"errors"
	"time"
)

// BillSnapshot is an immutable capture of a bill's text and status
type BillSnapshot struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	BillID     string    `json:"bill_id" gorm:"index:idx_snapshot_bill_time,priority:1;not null"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	Checksum   string    `json:"checksum" gorm:"size:64"`
	CapturedAt time.Time `json:"captured_at" gorm:"index:idx_snapshot_bill_time,priority:2"`
}

// BillMetadata describes a tracked bill; supplied by the bill feed
type BillMetadata struct {
	BillID       string     `json:"bill_id"`
	Number       string     `json:"number"` // "HB 1234", "S. 567"
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Jurisdiction string     `json:"jurisdiction"` // "federal", "ID", "TX", ...
	Source       string     `json:"source"`
	Relevance    *float64   `json:"relevance,omitempty"` // 0-100, externally supplied
	Deadline     *time.Time `json:"deadline,omitempty"`  // comment period or effective date
}

// BillDocument is the current state of a bill as fetched from the feed
type BillDocument struct {
	Metadata BillMetadata `json:"metadata"`
	Text     string       `json:"text"`
	Status   string       `json:"status"`
}

// SectionChange describes one changed section of a bill
type SectionChange struct {
	Label   string     `json:"label"`
	Type    ChangeType `json:"type"`
	Excerpt string     `json:"excerpt"`
}

// ChangeRecord is the output of the diff engine
type ChangeRecord struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	BillID             string          `json:"bill_id" gorm:"index:idx_change_bill_time,priority:1;not null"`
	PreviousSnapshotID string          `json:"previous_snapshot_id"`
	CurrentSnapshotID  string          `json:"current_snapshot_id"`
	Similarity         float64         `json:"similarity"`
	WordsAdded         int             `json:"words_added"`
	WordsRemoved       int             `json:"words_removed"`
	KeywordHits        []string        `json:"keyword_hits" gorm:"serializer:json"`
	KeywordScore       float64         `json:"keyword_score"`
	Sections           []SectionChange `json:"sections" gorm:"serializer:json"`
	Tier               Tier            `json:"tier" gorm:"index;size:16"`
	Baseline           bool            `json:"baseline" gorm:"-"`
	ChangedText        string          `json:"-"`
	Summary            string          `json:"summary"`
	UnifiedDiff        string          `json:"unified_diff"`
	ComputedAt         time.Time       `json:"computed_at" gorm:"index:idx_change_bill_time,priority:2"`
}

// WordsChanged is the total number of inserted and deleted words
func (c *ChangeRecord) WordsChanged() int {
	return c.WordsAdded + c.WordsRemoved
}

// StageTransition records a change of legislative stage
type StageTransition struct {
	ID                 string         `json:"id" gorm:"primaryKey"`
	BillID             string         `json:"bill_id" gorm:"index:idx_transition_bill_time,priority:1;not null"`
	FromStage          Stage          `json:"from_stage" gorm:"size:32"`
	ToStage            Stage          `json:"to_stage" gorm:"index;size:32"`
	Type               TransitionType `json:"type" gorm:"size:16"`
	FromStatus         string         `json:"from_status"`
	ToStatus           string         `json:"to_status"`
	Committee          string         `json:"committee,omitempty"`
	Vote               string         `json:"vote,omitempty"`
	PassageProbability float64        `json:"passage_probability"`
	TimeToNextAction   time.Duration  `json:"time_to_next_action"`
	Timeline           string         `json:"timeline"`
	NextStage          Stage          `json:"next_stage,omitempty" gorm:"size:32"`
	InterpretedByAI    bool           `json:"interpreted_by_ai"`
	TransitionedAt     time.Time      `json:"transitioned_at" gorm:"index:idx_transition_bill_time,priority:2"`
}

// IsRegression reports whether the transition moved backwards in the canonical order
func (t *StageTransition) IsRegression() bool {
	return t.Type == TransitionRegression
}

// ClassificationResult is the output of the significance classifier
type ClassificationResult struct {
	ID             string             `json:"id" gorm:"primaryKey"`
	BillID         string             `json:"bill_id" gorm:"index;not null"`
	ChangeID       string             `json:"change_id,omitempty" gorm:"index"`
	TransitionID   string             `json:"transition_id,omitempty"`
	Label          Severity           `json:"label" gorm:"size:16"`
	DomainScores   map[string]float64 `json:"domain_scores" gorm:"serializer:json"` // 0-10 per domain
	Confidence     float64            `json:"confidence"`
	Urgency        Urgency            `json:"urgency" gorm:"size:16"`
	Rationale      string             `json:"rationale"`
	MatchedTerms   []string           `json:"matched_terms" gorm:"serializer:json"`
	Scorer         ScorerKind         `json:"scorer" gorm:"size:16"`
	FallbackReason string             `json:"fallback_reason,omitempty"`
	ClassifiedAt   time.Time          `json:"classified_at" gorm:"index"`
}

// DomainScore returns the score for a domain and whether the scorer reported it
func (c *ClassificationResult) DomainScore(domain string) (float64, bool) {
	if c == nil || c.DomainScores == nil {
		return 0, false
	}
	v, ok := c.DomainScores[domain]
	return v, ok
}

// AlertCandidate is a provisional alert prior to dedup and prioritization
type AlertCandidate struct {
	BillID         string                `json:"bill_id"`
	BillNumber     string                `json:"bill_number"`
	Title          string                `json:"title"`
	Message        string                `json:"message"`
	Evidence       string                `json:"evidence,omitempty"` // status and changed bill text
	Change         *ChangeRecord         `json:"change,omitempty"`
	Classification *ClassificationResult `json:"classification"`
	Transition     *StageTransition      `json:"transition,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Alert is the finalized deliverable unit
type Alert struct {
	ID               string        `json:"id" gorm:"primaryKey"`
	BillID           string        `json:"bill_id" gorm:"index:idx_alert_bill_time,priority:1;not null"`
	BillNumber       string        `json:"bill_number"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	Evidence         string        `json:"evidence,omitempty"`
	ChangeID         string        `json:"change_id,omitempty"`
	ClassificationID string        `json:"classification_id,omitempty"`
	TransitionID     string        `json:"transition_id,omitempty"`
	Priority         PriorityLevel `json:"priority" gorm:"index;size:16"`
	Score            float64       `json:"score"`
	TopFactors       []string      `json:"top_factors" gorm:"serializer:json"`
	Recommendations  []string      `json:"recommendations" gorm:"serializer:json"`
	Outcome          DedupOutcome  `json:"outcome" gorm:"index;size:16"`
	Similarity       float64       `json:"similarity"`
	DuplicateOf      string        `json:"duplicate_of,omitempty"`
	DedupHash        string        `json:"dedup_hash" gorm:"index;size:64"`
	TargetUsers      []string      `json:"target_users" gorm:"serializer:json"`
	Frequency        FrequencyMode `json:"frequency" gorm:"size:16"`
	Delivery         DeliveryState `json:"delivery" gorm:"index;size:16"`
	CreatedAt        time.Time     `json:"created_at" gorm:"index:idx_alert_bill_time,priority:2"`
	DeliveredAt      *time.Time    `json:"delivered_at,omitempty"`
}

// ErrUnsetPriority is returned when an alert without a priority is handed to delivery
var ErrUnsetPriority = errors.New("alert priority is not set")

// ReadyForDelivery checks the alert can be handed to the notifier
func (a *Alert) ReadyForDelivery() error {
	if a.Priority.Rank() == 0 {
		return ErrUnsetPriority
	}
	if a.Message == "" {
		return errors.New("alert message is empty")
	}
	return nil
}

// AlertPreference is per-user alert configuration
type AlertPreference struct {
	UserID           string             `json:"user_id" gorm:"primaryKey"`
	Email            string             `json:"email"`
	MinPriority      PriorityLevel      `json:"min_priority" gorm:"size:16"`
	Frequency        FrequencyMode      `json:"frequency" gorm:"size:16"`
	QuietHoursStart  string             `json:"quiet_hours_start"` // "22:00"
	QuietHoursEnd    string             `json:"quiet_hours_end"`   // "07:00"
	TimeZone         string             `json:"timezone"`
	KeywordBoosts    map[string]float64 `json:"keyword_boosts" gorm:"serializer:json"`
	ExcludedKeywords []string           `json:"excluded_keywords" gorm:"serializer:json"`
}

// Digest is a batch of grouped alerts for one user and period
type Digest struct {
	UserID string        `json:"user_id"`
	Mode   FrequencyMode `json:"mode"`
	Period string        `json:"period"`
	Alerts []Alert       `json:"alerts"`
}

// Report is a periodic summary of pipeline activity
type Report struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	Period       string                 `json:"period"`
	Since        time.Time              `json:"since"`
	TotalChanges int                    `json:"total_changes"`
	Transitions  int                    `json:"transitions"`
	TotalAlerts  int                    `json:"total_alerts"`
	Summary      map[string]interface{} `json:"summary"`
}
