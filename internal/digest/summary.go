package digest

import (
	"fmt"
	"sort"
	"strings"
)

const (
	EmptySummary = "📭 No messages received yet today."
	rule         = "━━━━━━━━━━━━━━━━━━━━"
)

type senderTally struct {
	name   string
	count  int
	urgent bool
}

// Summarize renders today's digest ranked by message volume.
func (a *Aggregator) Summarize() string {
	a.mu.Lock()
	d := a.rolloverLocked()
	entries := append([]Entry(nil), d.Entries...)
	stats := d.Stats
	now := a.now().In(a.loc)
	topN := a.topN
	a.mu.Unlock()

	if len(entries) == 0 {
		return EmptySummary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Message Recap (%s)\n", now.Format("3:04 PM"))
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "📬 Total: %d\n", stats.TotalMessages)
	fmt.Fprintf(&b, "💬 DMs: %d | 👥 Groups: %d\n", stats.DMMessages, stats.GroupMessages)
	fmt.Fprintf(&b, "🤖 AI responded: %d\n", stats.AIResponses)
	if stats.UrgentCount > 0 {
		fmt.Fprintf(&b, "🚨 Urgent: %d\n", stats.UrgentCount)
	}
	if stats.SpamFiltered > 0 {
		fmt.Fprintf(&b, "🚫 Spam filtered: %d\n", stats.SpamFiltered)
	}
	fmt.Fprintf(&b, "\n👥 People (%d):\n", stats.UniqueSenders)

	ranked := rank(entries)
	for _, s := range ranked[:min(topN, len(ranked))] {
		marker := ""
		if s.urgent {
			marker = "🚨"
		}
		fmt.Fprintf(&b, "• %s%s: %d msg\n", shortName(s.name), marker, s.count)
	}
	if len(ranked) > topN {
		fmt.Fprintf(&b, "  ...and %d more\n", len(ranked)-topN)
	}
	return b.String()
}

// rank orders senders by count, keeping first-seen order on ties.
func rank(entries []Entry) []senderTally {
	idx := make(map[string]int)
	var out []senderTally
	for _, e := range entries {
		i, ok := idx[e.Sender]
		if !ok {
			i = len(out)
			idx[e.Sender] = i
			out = append(out, senderTally{name: e.Sender})
		}
		out[i].count++
		out[i].urgent = out[i].urgent || e.WasUrgent
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].count > out[j].count })
	return out
}

func shortName(s string) string {
	r := []rune(s)
	if len(r) > 15 {
		return string(r[:12]) + "..."
	}
	return s
}
