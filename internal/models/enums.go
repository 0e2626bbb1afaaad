package models

import "strings"

// Tier is the coarse significance of a text change
type Tier string

const (
	TierNoOp        Tier = "no-op"
	TierMinor       Tier = "minor"
	TierModerate    Tier = "moderate"
	TierSignificant Tier = "significant"
	TierCritical    Tier = "critical"
)

var tierRank = map[Tier]int{
	TierNoOp:        0,
	TierMinor:       1,
	TierModerate:    2,
	TierSignificant: 3,
	TierCritical:    4,
}

// Rank orders tiers; unknown tiers rank below no-op
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Severity is the fine-grained significance label assigned by the classifier
type Severity string

const (
	SeverityMinor       Severity = "minor"
	SeverityModerate    Severity = "moderate"
	SeveritySignificant Severity = "significant"
	SeverityCritical    Severity = "critical"
)

// Rank orders severities from 1 (minor) to 4 (critical); 0 when unset
func (s Severity) Rank() int {
	switch s {
	case SeverityMinor:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySignificant:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity coerces free text into a severity
func ParseSeverity(s string) (Severity, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch Severity(s) {
	case SeverityMinor, SeverityModerate, SeveritySignificant, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// ChangeType describes what happened to a section
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Stage is a position in the canonical legislative ordering
type Stage string

const (
	StageUnknown         Stage = "unknown"
	StageIntroduced      Stage = "introduced"
	StageCommittee       Stage = "committee"
	StageReported        Stage = "reported"
	StageFloor           Stage = "floor_vote"
	StagePassedChamber   Stage = "passed_chamber"
	StageOtherChamber    Stage = "other_chamber"
	StagePassedBoth      Stage = "passed_both"
	StageSentToExecutive Stage = "sent_to_executive"
	StageEnacted         Stage = "enacted"
	StageVetoed          Stage = "vetoed"
	StageFailed          Stage = "failed"
	StageWithdrawn       Stage = "withdrawn"
)

// TransitionType classifies a stage transition
type TransitionType string

const (
	TransitionAdvance    TransitionType = "advance"
	TransitionRegression TransitionType = "regression"
	TransitionTerminal   TransitionType = "terminal"
	TransitionUnresolved TransitionType = "unresolved" // one side maps to unknown
)

// Urgency is the implementation-urgency bucket
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyShortTerm Urgency = "short_term"
	UrgencyLongTerm  Urgency = "long_term"
	UrgencyNone      Urgency = "none"
)

// ParseUrgency coerces free text into an urgency bucket
func ParseUrgency(s string) (Urgency, bool) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch Urgency(s) {
	case UrgencyImmediate, UrgencyShortTerm, UrgencyLongTerm, UrgencyNone:
		return Urgency(s), true
	}
	return "", false
}

// ScorerKind records which classifier path produced a result
type ScorerKind string

const (
	ScorerAI       ScorerKind = "ai"
	ScorerFallback ScorerKind = "fallback"
	ScorerStage    ScorerKind = "stage"
)

// PriorityLevel is the four-level alert priority
type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
	PriorityUrgent PriorityLevel = "urgent"
)

// Rank returns 1..4 for valid levels and 0 when unset
func (p PriorityLevel) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// AtLeast reports whether p is at or above min; an unset min accepts everything
func (p PriorityLevel) AtLeast(min PriorityLevel) bool {
	return p.Rank() >= min.Rank()
}

// FrequencyMode is a user's delivery cadence
type FrequencyMode string

const (
	FrequencyImmediate FrequencyMode = "immediate"
	FrequencyDaily     FrequencyMode = "daily"
	FrequencyWeekly    FrequencyMode = "weekly"
)

// DedupOutcome is the decision taken for a candidate alert
type DedupOutcome string

const (
	OutcomeEmit     DedupOutcome = "emitted"
	OutcomeSuppress DedupOutcome = "suppressed"
	OutcomeGroup    DedupOutcome = "grouped"
)

// DeliveryState tracks hand-off to the notifier
type DeliveryState string

const (
	DeliveryPending  DeliveryState = "pending"
	DeliveryHeld     DeliveryState = "held" // quiet hours
	DeliverySent     DeliveryState = "sent"
	DeliveryFailed   DeliveryState = "failed"
	DeliveryFiltered DeliveryState = "filtered" // below the user's minimum priority
	DeliveryNone     DeliveryState = "none"     // suppressed
)
