package stage

import (
	"strings"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
)

const day = 24 * time.Hour

// Order is the canonical legislative ordering. Terminal stages sit outside it.
var Order = []models.Stage{
	models.StageIntroduced,
	models.StageCommittee,
	models.StageReported,
	models.StageFloor,
	models.StagePassedChamber,
	models.StageOtherChamber,
	models.StagePassedBoth,
	models.StageSentToExecutive,
	models.StageEnacted,
}

var position = func() map[models.Stage]int {
	m := make(map[models.Stage]int, len(Order))
	for i, s := range Order {
		m[s] = i
	}
	return m
}()

// Position returns the index of s in Order, or -1 for unknown and terminal stages
func Position(s models.Stage) int {
	if p, ok := position[s]; ok {
		return p
	}
	return -1
}

// IsTerminal reports whether s ends a bill's progress without enactment
func IsTerminal(s models.Stage) bool {
	switch s {
	case models.StageVetoed, models.StageFailed, models.StageWithdrawn:
		return true
	}
	return false
}

// Parse coerces a stage name into the canonical enum
func Parse(name string) models.Stage {
	s := models.Stage(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := position[s]; ok || IsTerminal(s) {
		return s
	}
	return models.StageUnknown
}

// baseProbability is non-decreasing along Order
var baseProbability = map[models.Stage]float64{
	models.StageUnknown:         0.10,
	models.StageIntroduced:      0.05,
	models.StageCommittee:       0.15,
	models.StageReported:        0.55,
	models.StageFloor:           0.70,
	models.StagePassedChamber:   0.80,
	models.StageOtherChamber:    0.85,
	models.StagePassedBoth:      0.95,
	models.StageSentToExecutive: 0.97,
	models.StageEnacted:         1.0,
	models.StageVetoed:          0,
	models.StageFailed:          0,
	models.StageWithdrawn:       0,
}

// BaseProbability returns the passage probability implied by the stage alone
func BaseProbability(s models.Stage) float64 {
	return baseProbability[s]
}

// DefaultDurations are typical times spent in each stage before the next action
var DefaultDurations = map[models.Stage]time.Duration{
	models.StageIntroduced:      21 * day,
	models.StageCommittee:       56 * day,
	models.StageReported:        35 * day,
	models.StageFloor:           14 * day,
	models.StagePassedChamber:   10 * day,
	models.StageOtherChamber:    56 * day,
	models.StagePassedBoth:      7 * day,
	models.StageSentToExecutive: 10 * day,
}

var nextStage = map[models.Stage]models.Stage{
	models.StageIntroduced:      models.StageCommittee,
	models.StageCommittee:       models.StageReported,
	models.StageReported:        models.StageFloor,
	models.StageFloor:           models.StagePassedChamber,
	models.StagePassedChamber:   models.StageOtherChamber,
	models.StageOtherChamber:    models.StagePassedBoth,
	models.StagePassedBoth:      models.StageSentToExecutive,
	models.StageSentToExecutive: models.StageEnacted,
}

// Next returns the stage normally expected after s, or "" when none
func Next(s models.Stage) models.Stage {
	return nextStage[s]
}

var timelines = map[models.Stage]string{
	models.StageIntroduced:      "Committee referral typically within 1-3 weeks",
	models.StageCommittee:       "Committee action typically within 4-8 weeks",
	models.StageReported:        "Floor scheduling typically within 2-6 weeks",
	models.StageFloor:           "Floor vote typically within 1-2 weeks",
	models.StagePassedChamber:   "Transmittal to the other chamber within 1-2 weeks",
	models.StageOtherChamber:    "Other-chamber action typically within 4-12 weeks",
	models.StagePassedBoth:      "Enrollment and presentment within about a week",
	models.StageSentToExecutive: "Executive action typically within 10 days",
	models.StageEnacted:         "Enacted; track the effective date",
	models.StageVetoed:          "No further action expected unless the veto is overridden",
	models.StageFailed:          "No further action expected this session",
	models.StageWithdrawn:       "No further action expected",
	models.StageUnknown:         "Timeline unknown",
}

// Timeline describes what typically happens next at stage s
func Timeline(s models.Stage) string {
	return timelines[s]
}
