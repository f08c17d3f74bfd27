package classify

import "regexp"

// Opaque host plus short opaque path, e.g. http://x7k2m9qa.com/ab3.
var randomLink = regexp.MustCompile(`(?i)https?://[a-z0-9]{8,}\.(com|net|org|info)/[a-z0-9]{3}`)

type SpamVerdict struct {
	IsSpam         bool
	SpamScore      int
	LegitScore     int
	SpamTags       []string
	LegitTags      []string
	SuspiciousLink bool
}

// ScoreSpam counts spam and legit rule hits and applies the tie-break.
// Weak or absent signals resolve to "not spam": a missed promo text costs
// less than a silenced delivery code.
func ScoreSpam(rs *RuleSet, text string) SpamVerdict {
	v := SpamVerdict{
		SpamTags:  matchAll(rs.Spam, text),
		LegitTags: matchAll(rs.Legit, text),
	}
	v.SpamScore = len(v.SpamTags)
	v.LegitScore = len(v.LegitTags)

	switch {
	case v.LegitScore > 0 && v.SpamScore == 0:
		v.IsSpam = false
	case v.SpamScore > 0 && v.LegitScore == 0:
		v.IsSpam = true
	case v.SpamScore > 0 && v.LegitScore > 0:
		v.IsSpam = v.SpamScore > v.LegitScore
	default:
		v.SuspiciousLink = randomLink.MatchString(text)
		v.IsSpam = v.SuspiciousLink
	}
	return v
}
