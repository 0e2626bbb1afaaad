package stage

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/models"
)

// Interpreter refines statuses the rule list cannot place. Its answer is
// coerced into the canonical enum; anything else stays unknown.
type Interpreter interface {
	InterpretStatus(ctx context.Context, status string) (string, error)
}

// Detector normalizes status strings and builds StageTransitions
type Detector struct {
	durations   map[models.Stage]time.Duration
	interpreter Interpreter
	timeout     time.Duration
	now         func() time.Time
}

// NewDetector creates a detector. Duration overrides are keyed by stage name
// and merged over DefaultDurations; interpreter may be nil.
func NewDetector(overrides map[string]time.Duration, interpreter Interpreter, timeout time.Duration) *Detector {
	durations := make(map[models.Stage]time.Duration, len(DefaultDurations))
	for s, d := range DefaultDurations {
		durations[s] = d
	}
	for name, d := range overrides {
		if s := Parse(name); s != models.StageUnknown {
			durations[s] = d
		}
	}

	return &Detector{
		durations:   durations,
		interpreter: interpreter,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Detect compares two status strings for a bill. It returns nil when the
// previous status is absent or both statuses map to the same stage.
func (d *Detector) Detect(ctx context.Context, billID, prevStatus, curStatus string) *models.StageTransition {
	return d.detect(ctx, billID, prevStatus, curStatus, nil)
}

// DetectForBill is Detect with bill relevance taken into account for the
// passage probability
func (d *Detector) DetectForBill(ctx context.Context, meta models.BillMetadata, prevStatus, curStatus string) *models.StageTransition {
	return d.detect(ctx, meta.BillID, prevStatus, curStatus, meta.Relevance)
}

func (d *Detector) detect(ctx context.Context, billID, prevStatus, curStatus string, relevance *float64) *models.StageTransition {
	if strings.TrimSpace(prevStatus) == "" || strings.TrimSpace(curStatus) == "" {
		return nil
	}

	from := Normalize(prevStatus)
	to, interpreted := d.resolve(ctx, billID, curStatus)
	if from == to {
		return nil
	}

	t := &models.StageTransition{
		ID:               uuid.NewString(),
		BillID:           billID,
		FromStage:        from,
		ToStage:          to,
		Type:             TransitionTypeOf(from, to),
		FromStatus:       prevStatus,
		ToStatus:         curStatus,
		Committee:        Committee(curStatus),
		NextStage:        Next(to),
		TimeToNextAction: d.durations[to],
		Timeline:         Timeline(to),
		InterpretedByAI:  interpreted,
		TransitionedAt:   d.now(),
	}

	vote, hasVote := ParseVote(curStatus)
	if hasVote {
		t.Vote = vote.String()
	}
	t.PassageProbability = Probability(to, vote, hasVote, relevance)

	entry := logrus.WithFields(logrus.Fields{
		"bill_id": billID,
		"from":    from,
		"to":      to,
		"type":    t.Type,
	})
	if t.Type == models.TransitionRegression {
		entry.Warn("Stage regression detected")
	} else {
		entry.Info("Stage transition detected")
	}

	return t
}

// resolve normalizes the status, consulting the interpreter for unknowns
func (d *Detector) resolve(ctx context.Context, billID, status string) (models.Stage, bool) {
	s := Normalize(status)
	if s != models.StageUnknown {
		return s, false
	}

	logger := logrus.WithFields(logrus.Fields{"bill_id": billID, "status": status})
	if d.interpreter == nil {
		logger.Warn("Unmatched bill status")
		return s, false
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	answer, err := d.interpreter.InterpretStatus(ctx, status)
	if err != nil {
		logger.WithError(err).Warn("Unmatched bill status; interpreter failed")
		return s, false
	}

	refined := Parse(answer)
	if refined == models.StageUnknown {
		logger.WithField("answer", answer).Warn("Unmatched bill status; interpreter answer not a stage")
		return s, false
	}
	return refined, true
}

// TransitionTypeOf classifies a move between two stages
func TransitionTypeOf(from, to models.Stage) models.TransitionType {
	switch {
	case from == models.StageUnknown || to == models.StageUnknown:
		return models.TransitionUnresolved
	case IsTerminal(to):
		return models.TransitionTerminal
	case IsTerminal(from):
		// veto override is the only legitimate way out of a terminal stage
		if from == models.StageVetoed && to == models.StageEnacted {
			return models.TransitionAdvance
		}
		return models.TransitionRegression
	case Position(to) < Position(from):
		return models.TransitionRegression
	default:
		return models.TransitionAdvance
	}
}

// Probability estimates passage likelihood at stage s, adjusted by vote
// margin on reported or passed stages and by bill relevance
func Probability(s models.Stage, vote Vote, hasVote bool, relevance *float64) float64 {
	p := BaseProbability(s)
	if p == 0 || s == models.StageEnacted {
		return p
	}

	if hasVote {
		switch s {
		case models.StageReported, models.StagePassedChamber, models.StagePassedBoth:
			switch margin := vote.Margin(); {
			case vote.Unanimous():
				p *= 1.2
			case margin > 0.6:
				p *= 1.15
			case margin < 0.2:
				p *= 0.9
			}
		}
	}

	if relevance != nil && *relevance >= 70 {
		p *= 1.05
	}

	return math.Min(p, 0.99)
}
