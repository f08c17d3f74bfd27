package classify

import (
	"regexp"
	"strings"
	"unicode"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

type UrgencyVerdict struct {
	Urgent     bool
	Confidence Confidence
	Reason     string
}

var repeatedPunct = regexp.MustCompile(`[!?]{3,}`)

// DetectUrgency applies keyword, punctuation and shouting rules in that
// order. The first rule that fires decides.
func DetectUrgency(rs *RuleSet, text string) UrgencyVerdict {
	lower := strings.ToLower(text)
	for _, kw := range rs.UrgentKeywords {
		if strings.Contains(lower, kw) {
			return UrgencyVerdict{Urgent: true, Confidence: ConfidenceHigh, Reason: `contains "` + kw + `"`}
		}
	}

	if repeatedPunct.MatchString(text) {
		return UrgencyVerdict{Urgent: true, Confidence: ConfidenceMedium, Reason: "repeated !!!/???"}
	}

	if countShouted(text) >= 3 {
		return UrgencyVerdict{Urgent: true, Confidence: ConfidenceMedium, Reason: "all caps words"}
	}

	return UrgencyVerdict{Confidence: ConfidenceLow}
}

// countShouted counts words longer than two runes that have letters and no
// lower-case letters. "123" and "---" are not shouting.
func countShouted(text string) int {
	n := 0
	for _, w := range strings.Fields(text) {
		if len([]rune(w)) <= 2 {
			continue
		}
		letters := false
		lower := false
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters = true
			}
			if unicode.IsLower(r) {
				lower = true
				break
			}
		}
		if letters && !lower {
			n++
		}
	}
	return n
}
