package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one tagged pattern. Rules are evaluated in slice order.
type Rule struct {
	Tag     string
	Pattern *regexp.Regexp
}

// RuleSet is an immutable snapshot of every pattern the classifier uses.
// Swap a whole RuleSet instead of editing one in place.
type RuleSet struct {
	Spam           []Rule
	Legit          []Rule
	UrgentKeywords []string
	// EventWords gates invite parsing once a legit rule has matched.
	EventWords *regexp.Regexp
}

func mustRule(tag, expr string) Rule {
	return Rule{Tag: tag, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

// NewRule compiles a case-insensitive rule.
func NewRule(tag, expr string) (Rule, error) {
	re, err := regexp.Compile(`(?i)` + expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", tag, err)
	}
	return Rule{Tag: tag, Pattern: re}, nil
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *RuleSet {
	return &RuleSet{
		Spam: []Rule{
			// prize
			mustRule("prize.free_money", `free\s+\$\d+`),
			mustRule("prize.you_won", `you('ve|r)?\s*(have\s+)?won`),
			mustRule("prize.claim", `claim\s+(your\s+)?(reward|prize|gift)`),
			mustRule("prize.winner", `congratulations.*winner`),
			// pressure
			mustRule("pressure.act_now", `act\s+now`),
			mustRule("pressure.limited_time", `limited\s+time`),
			mustRule("pressure.expires", `expires?\s+(today|soon|in\s+\d+)`),
			mustRule("pressure.last_chance", `last\s+chance`),
			mustRule("pressure.miss_out", `don't\s+miss\s+out`),
			// phishing
			mustRule("phish.survey", `take\s+a\s+(quick\s+)?(\d+[- ]?min(ute)?\s+)?survey`),
			mustRule("phish.verify_account", `verify\s+your\s+(account|identity)`),
			mustRule("phish.confirm_identity", `confirm\s+your\s+(identity|ssn|social)`),
			mustRule("phish.account_locked", `your\s+account\s+(has\s+been|is|will\s+be)\s+(suspended|locked|closed)`),
			// medical
			mustRule("medical.kit", `medical\s+kit`),
			mustRule("medical.free", `free\s+(health|medical|insurance)`),
			mustRule("medical.medicare", `medicare\s+(benefit|plan|savings)`),
			// loans
			mustRule("loan.preapproved", `pre-?approved\s+(for\s+)?\$?\d+`),
			mustRule("loan.debt", `debt\s+(relief|forgiveness|consolidation)`),
			mustRule("loan.student", `student\s+loan\s+forgiveness`),
			// bulk sender boilerplate
			mustRule("bulk.unsubscribe", `\bunsubscribe\b`),
			mustRule("bulk.reply_stop", `\breply\s+stop\b`),
			mustRule("bulk.data_rates", `msg\s*&?\s*data\s*rates`),
			mustRule("bulk.text_stop", `text\s+stop\s+to\s+(opt[- ]?out|cancel|end)`),
			mustRule("bulk.click", `click\s+(here|now|the\s+link)`),
		},
		Legit: []Rule{
			mustRule("event.invited", `invited\s+you\s+to`),
			mustRule("event.rsvp", `rsvp`),
			mustRule("event.starting", `is\s+starting\s+(on|in|at)`),
			mustRule("event.label", `event\s*[-–]\s*`),
			mustRule("event.webinar", `webinar`),
			mustRule("event.hackathon", `hackathon`),
			mustRule("event.conference", `conference`),
			mustRule("event.workshop", `workshop`),
			mustRule("event.meeting", `meeting\s+(is\s+)?starting`),
			mustRule("domain.luma", `lu\.ma/`),
			mustRule("domain.eventbrite", `eventbrite\.`),
			mustRule("domain.zoom", `zoom\.(us|com)`),
			mustRule("domain.meet", `meet\.google`),
			mustRule("domain.calendly", `calendly\.`),
			mustRule("domain.hopin", `hopin\.`),
			mustRule("domain.airmeet", `airmeet\.`),
			mustRule("appointment.confirmed", `appointment\s+(confirmed|scheduled|reminder)`),
			mustRule("order.yours", `your\s+(order|package|delivery)`),
			mustRule("code.verification", `verification\s+code`),
			mustRule("code.one_time", `one[- ]?time\s+(code|password|pin)`),
			mustRule("shipping.status", `shipped|tracking|delivered`),
			mustRule("shipping.out", `out\s+for\s+delivery`),
		},
		UrgentKeywords: []string{
			"urgent", "emergency", "asap", "help", "important",
			"need you", "call me", "911", "hospital", "accident",
		},
		EventWords: regexp.MustCompile(`(?i)invited|starting|rsvp|event|webinar|hackathon`),
	}
}

// Merge returns a new RuleSet with extra's rules appended after r's.
// Keywords are lower-cased and deduplicated.
func (r *RuleSet) Merge(extra *RuleSet) *RuleSet {
	if extra == nil {
		return r
	}
	out := &RuleSet{
		Spam:       append(append([]Rule(nil), r.Spam...), extra.Spam...),
		Legit:      append(append([]Rule(nil), r.Legit...), extra.Legit...),
		EventWords: r.EventWords,
	}
	seen := make(map[string]bool)
	for _, kw := range append(append([]string(nil), r.UrgentKeywords...), extra.UrgentKeywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out.UrgentKeywords = append(out.UrgentKeywords, kw)
	}
	if extra.EventWords != nil {
		out.EventWords = extra.EventWords
	}
	return out
}

// matchAll returns the tags of every rule matching text, in rule order.
func matchAll(rules []Rule, text string) []string {
	var tags []string
	for _, r := range rules {
		if r.Pattern.MatchString(text) {
			tags = append(tags, r.Tag)
		}
	}
	return tags
}
