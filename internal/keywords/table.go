package keywords

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Impact domains scored by the classifier and prioritizer
const (
	DomainReimbursement  = "reimbursement"
	DomainQuality        = "quality"
	DomainStaffing       = "staffing"
	DomainOperational    = "operational"
	DomainCompliance     = "compliance"
	DomainAdministrative = "administrative"
)

// Domains lists every impact domain in reporting order
var Domains = []string{
	DomainReimbursement,
	DomainQuality,
	DomainStaffing,
	DomainOperational,
	DomainCompliance,
	DomainAdministrative,
}

// Term is one curated phrase with its importance weight and impact domain
type Term struct {
	Phrase string  `yaml:"phrase" json:"phrase"`
	Weight float64 `yaml:"weight" json:"weight"`
	Domain string  `yaml:"domain" json:"domain"`
}

// Match is a term found in a body of text
type Match struct {
	Term  Term
	Count int
}

// Table is an immutable keyword-weight table, safe to share without locking
type Table struct {
	terms []Term
}

// NewTable validates and normalizes terms into a table
func NewTable(terms []Term) (*Table, error) {
	if len(terms) == 0 {
		return nil, errors.New("keyword table is empty")
	}

	seen := make(map[string]bool, len(terms))
	normalized := make([]Term, 0, len(terms))
	for _, t := range terms {
		phrase := Normalize(t.Phrase)
		if phrase == "" {
			return nil, errors.New("keyword phrase must not be empty")
		}
		if t.Weight <= 0 {
			return nil, fmt.Errorf("keyword %q must have a positive weight", phrase)
		}
		if t.Domain == "" {
			return nil, fmt.Errorf("keyword %q has no impact domain", phrase)
		}
		if seen[phrase] {
			return nil, fmt.Errorf("duplicate keyword %q", phrase)
		}
		seen[phrase] = true
		normalized = append(normalized, Term{Phrase: phrase, Weight: t.Weight, Domain: t.Domain})
	}

	return &Table{terms: normalized}, nil
}

// Terms returns a copy of the table's terms
func (t *Table) Terms() []Term {
	out := make([]Term, len(t.terms))
	copy(out, t.terms)
	return out
}

// Match returns the distinct terms present in text, in table order
func (t *Table) Match(text string) []Match {
	content := Normalize(text)
	if content == "" {
		return nil
	}

	var matches []Match
	for _, term := range t.terms {
		if n := strings.Count(content, term.Phrase); n > 0 {
			matches = append(matches, Match{Term: term, Count: n})
		}
	}
	return matches
}

// MatchAll merges matches across several text fragments so that a phrase
// never spans two fragments
func (t *Table) MatchAll(fragments []string) []Match {
	counts := make(map[string]int)
	for _, fragment := range fragments {
		for _, m := range t.Match(fragment) {
			counts[m.Term.Phrase] += m.Count
		}
	}

	var matches []Match
	for _, term := range t.terms {
		if n := counts[term.Phrase]; n > 0 {
			matches = append(matches, Match{Term: term, Count: n})
		}
	}
	return matches
}

// Score sums the weights of distinct matched terms
func Score(matches []Match) float64 {
	total := 0.0
	for _, m := range matches {
		total += m.Term.Weight
	}
	return total
}

// Phrases returns the matched phrases in match order
func Phrases(matches []Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Term.Phrase)
	}
	return out
}

// DomainScores converts matched weights into 0-10 scores per domain
func DomainScores(matches []Match) map[string]float64 {
	sums := make(map[string]float64)
	for _, m := range matches {
		sums[m.Term.Domain] += m.Term.Weight
	}

	scores := make(map[string]float64, len(Domains))
	for _, d := range Domains {
		scores[d] = math.Min(10, sums[d]*5)
	}
	for d, sum := range sums {
		if _, ok := scores[d]; !ok {
			scores[d] = math.Min(10, sum*5)
		}
	}
	return scores
}

// ContainsAny reports the first phrase, in sorted order, that occurs in
// text as whole words
func ContainsAny(text string, phrases []string) (string, bool) {
	words := Words(text)
	sorted := append([]string(nil), phrases...)
	sort.Strings(sorted)
	for _, p := range sorted {
		if containsWords(words, Words(p)) {
			return Normalize(p), true
		}
	}
	return "", false
}

// ContainsPhrase reports whether phrase occurs in text as whole words
func ContainsPhrase(text, phrase string) bool {
	return containsWords(Words(text), Words(phrase))
}

// Words lower-cases text and splits it on anything that is not a letter or digit
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsWords(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, w := range phrase {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}

// Normalize case-folds text and collapses whitespace
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
