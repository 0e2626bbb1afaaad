package diff

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	preambleLabel = "PREAMBLE"
	documentLabel = "DOCUMENT"
)

// headingPattern recognises statutory section headings at the start of a line
var headingPattern = regexp.MustCompile(`^\s*((?:SECTION|Section|SEC\.|Sec\.)\s*\d+[A-Za-z]*|(?:TITLE|Title)\s+[IVXLC]+\b|(?:CHAPTER|Chapter)\s+\d+|(?:SUBPART|Subpart|PART|Part)\s+[A-Z]\b)`)

type section struct {
	label string
	words []string
}

// segment splits text into labeled sections. Text with no recognisable
// headings becomes a single DOCUMENT section.
func segment(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	seen := make(map[string]int)
	current := section{label: preambleLabel}
	found := false

	flush := func() {
		if current.label == preambleLabel && len(current.words) == 0 {
			return
		}
		sections = append(sections, current)
	}

	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			found = true
			label := strings.ToUpper(strings.Join(strings.Fields(m[1]), " "))
			seen[label]++
			if n := seen[label]; n > 1 {
				label = fmt.Sprintf("%s#%d", label, n)
			}
			current = section{label: label}
		}
		current.words = append(current.words, strings.Fields(line)...)
	}

	if !found {
		return []section{{label: documentLabel, words: strings.Fields(text)}}
	}
	flush()
	return sections
}

func sectionIndex(sections []section) map[string]section {
	idx := make(map[string]section, len(sections))
	for _, s := range sections {
		idx[s.label] = s
	}
	return idx
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
