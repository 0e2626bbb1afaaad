package stage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/snfwatch/billwatch/internal/models"
)

type rule struct {
	stage    models.Stage
	patterns []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// rules are checked in order; more specific patterns come first
var rules = []rule{
	{models.StageEnacted, compile(
		`signed into law`, `became law`, `(president|governor) signed`, `signed by (the )?(president|governor)`,
		`\benacted\b`, `public law`, `\bchaptered\b`, `veto overridden`, `overr(ode|idden|ide).*veto`,
	)},
	{models.StageVetoed, compile(`\bvetoed\b`, `veto message`, `(presidential|gubernatorial) veto`)},
	{models.StageWithdrawn, compile(`withdrawn`, `sponsor withdrew`, `pulled back`)},
	{models.StageFailed, compile(
		`died in committee`, `failed`, `session ended`, `\bexpired\b`, `no action taken`, `indefinitely postponed`,
	)},
	{models.StageSentToExecutive, compile(
		`(sent|presented|delivered) to (the )?(president|governor)`, `awaiting (presidential|governor)`,
		`(presidential|governor'?s?) (consideration|desk)`,
	)},
	{models.StagePassedBoth, compile(
		`passed both (chambers|houses)`, `bicameral passage`, `cleared congress`, `final legislative approval`,
		`\benrolled\b`, `concurred in (house|senate) amendments?`,
	)},
	{models.StageOtherChamber, compile(
		`received (in|from) the (house|senate)`, `(sent|transmitted) to the (house|senate)`, `other chamber`,
	)},
	{models.StagePassedChamber, compile(
		`passed (the )?(house|senate|assembly)`, `(house|senate|assembly) passed`,
		`third reading.*passed`, `passed.*third reading`, `final passage`, `approved by (the )?(house|senate)`,
	)},
	{models.StageFloor, compile(
		`floor (vote|consideration|debate)`, `scheduled for (the )?floor`, `second reading`, `third reading`,
		`placed on (the )?calendar`,
	)},
	{models.StageReported, compile(
		`reported (favorably|out|with amendments?)`, `reported .*committee`, `committee reported`,
		`favorably reported`, `\bdo pass\b`, `passed committee`, `committee passed`,
	)},
	{models.StageCommittee, compile(
		`referred to .*committee`, `in committee`, `committee (hearing|review|markup|amendment|consideration)`,
		`hearing scheduled`, `referred to`, `markup`,
	)},
	{models.StageIntroduced, compile(`introduced`, `read first time`, `first reading`, `prefiled`, `\bfiled\b`)},
}

// Normalize maps a free-text status to the canonical stage.
// Unmatched statuses map to StageUnknown.
func Normalize(status string) models.Stage {
	status = strings.TrimSpace(status)
	if status == "" {
		return models.StageUnknown
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(status) {
				return r.stage
			}
		}
	}
	return models.StageUnknown
}

var committeePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)committee on (?:the )?([A-Za-z][A-Za-z ,&'-]*?)\s*(?:[.;(]|$|\bby\b|\bwith\b)`),
	regexp.MustCompile(`\b((?:[A-Z][A-Za-z&'-]+ )+)Committee\b`),
}

// Committee extracts a committee name from a status string
func Committee(status string) string {
	for _, p := range committeePatterns {
		if m := p.FindStringSubmatch(status); m != nil {
			name := strings.TrimSpace(strings.TrimRight(m[1], ", "))
			name = strings.TrimPrefix(name, "the ")
			if name != "" {
				return name
			}
		}
	}
	return ""
}

var votePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)yeas?\W*(\d+)\W+nays?\W*(\d+)`),
	regexp.MustCompile(`(?:^|[^\d-])(\d{1,3})\s*(?:-|–|to)\s*(\d{1,3})(?:$|[^\d-])`),
}

var unanimousPattern = regexp.MustCompile(`(?i)unanimous`)

// Vote is a recorded tally parsed from a status string
type Vote struct {
	Yes int
	No  int
}

// Margin is (yes-no)/(yes+no)
func (v Vote) Margin() float64 {
	total := v.Yes + v.No
	if total == 0 {
		return 0
	}
	return float64(v.Yes-v.No) / float64(total)
}

// Unanimous reports a vote with no dissent
func (v Vote) Unanimous() bool {
	return v.Yes > 0 && v.No == 0
}

func (v Vote) String() string {
	return strconv.Itoa(v.Yes) + "-" + strconv.Itoa(v.No)
}

// ParseVote extracts a vote tally; ok is false when none is present
func ParseVote(status string) (Vote, bool) {
	for _, p := range votePatterns {
		if m := p.FindStringSubmatch(status); m != nil {
			yes, err1 := strconv.Atoi(m[1])
			no, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil || yes+no == 0 {
				continue
			}
			return Vote{Yes: yes, No: no}, true
		}
	}
	if unanimousPattern.MatchString(status) {
		return Vote{Yes: 1}, true
	}
	return Vote{}, false
}
