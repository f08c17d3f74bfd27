package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const maxTitleLen = 100

// Invite is a calendar-event candidate found in message text.
type Invite struct {
	Title     string
	Start     time.Time
	StartsNow bool
	Link      string
	Source    string
}

// Key identifies an invite for calendar dedup.
func (i Invite) Key() string {
	return i.Title + "-" + i.Start.UTC().Format(time.RFC3339)
}

var (
	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)invited\s+you\s+to\s+(.+?)(?:\.\s|RSVP|Event|$)`),
		regexp.MustCompile(`(?i)(.+?)\s+is\s+starting`),
	}
	dayTime     = regexp.MustCompile(`(?i)(?:on\s+)?(\w+day),?\s+(\d{1,2}):(\d{2})\s*(AM|PM)?\s*(\w{2,4})?`)
	startingNow = regexp.MustCompile(`(?i)starting\s+now`)

	linkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)*lu\.ma/\S*`),
		regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)*eventbrite\.\S*`),
		regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)*zoom\.(?:us|com)\S*`),
		regexp.MustCompile(`(?i)https?://meet\.google\.com\S*`),
		regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)*calendly\.\S*`),
		regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)*hopin\.\S*`),
	}
	bareLuma    = regexp.MustCompile(`(?i)\b(?:[a-z]+\.)?lu\.ma/\S+`)
	genericLink = regexp.MustCompile(`(?i)https?://\S+`)
	trailing    = regexp.MustCompile(`[.,;:!?)]+$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// LooksLikeEvent reports whether a legit rule matched and the text uses
// event vocabulary. Only such texts are parsed for invites.
func LooksLikeEvent(rs *RuleSet, text string, legitScore int) bool {
	return legitScore > 0 && rs.EventWords != nil && rs.EventWords.MatchString(text)
}

// ParseInvite extracts an invite from event-like text. It returns nil when
// no weekday+time or "starting now" token is present.
func ParseInvite(text, sender string, now time.Time, loc *time.Location) *Invite {
	start, startsNow, ok := parseStart(text, now, loc)
	if !ok {
		return nil
	}
	return &Invite{
		Title:     extractTitle(text, sender),
		Start:     start,
		StartsNow: startsNow,
		Link:      extractLink(text),
		Source:    sender,
	}
}

func extractTitle(text, sender string) string {
	title := "Event from " + sender
	for _, re := range titlePatterns {
		if m := re.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			title = strings.TrimSpace(m[1])
			break
		}
	}
	title = strings.TrimRight(title, ":.")
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	return title
}

// parseStart resolves "Thursday, 10:00 AM" to the next such weekday after
// today in loc. A trailing zone abbreviation is ignored; the owner's zone wins.
func parseStart(text string, now time.Time, loc *time.Location) (time.Time, bool, bool) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	for _, m := range dayTime.FindAllStringSubmatch(text, -1) {
		wd, ok := weekdays[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		hour, _ := strconv.Atoi(m[2])
		minute, _ := strconv.Atoi(m[3])
		switch strings.ToUpper(m[4]) {
		case "PM":
			if hour != 12 {
				hour += 12
			}
		case "AM":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			continue
		}
		days := int(wd - local.Weekday())
		if days <= 0 {
			days += 7
		}
		d := local.AddDate(0, 0, days)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), false, true
	}
	if startingNow.MatchString(text) {
		return local, true, true
	}
	return time.Time{}, false, false
}

func extractLink(text string) string {
	for _, re := range linkPatterns {
		if m := re.FindString(text); m != "" {
			return trailing.ReplaceAllString(m, "")
		}
	}
	if m := bareLuma.FindString(text); m != "" {
		return "https://" + trailing.ReplaceAllString(m, "")
	}
	if m := genericLink.FindString(text); m != "" {
		return trailing.ReplaceAllString(m, "")
	}
	return ""
}
