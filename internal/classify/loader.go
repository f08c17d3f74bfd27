package classify

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk shape of a rules pack.
//
//	urgent_keywords: [fire, flood]
//	spam:
//	  - tag: crypto.giveaway
//	    pattern: 'double\s+your\s+(btc|eth)'
//	legit:
//	  - tag: school.closure
//	    pattern: 'school\s+is\s+closed'
type rulesFile struct {
	UrgentKeywords []string    `yaml:"urgent_keywords"`
	EventWords     string      `yaml:"event_words"`
	Spam           []ruleEntry `yaml:"spam"`
	Legit          []ruleEntry `yaml:"legit"`
}

type ruleEntry struct {
	Tag     string `yaml:"tag"`
	Pattern string `yaml:"pattern"`
}

// LoadRules reads a YAML rules pack and merges it after the built-in
// rules. A missing file yields the defaults.
func LoadRules(path string, logger *slog.Logger) (*RuleSet, error) {
	base := DefaultRules()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("rules pack does not exist, using defaults", "path", path)
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules pack: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules pack %s: %w", path, err)
	}

	extra := &RuleSet{UrgentKeywords: f.UrgentKeywords}
	if f.EventWords != "" {
		re, err := regexp.Compile(`(?i)` + f.EventWords)
		if err != nil {
			return nil, fmt.Errorf("event_words: %w", err)
		}
		extra.EventWords = re
	}
	for i, e := range f.Spam {
		r, err := NewRule(tagOr(e.Tag, "spam", i), e.Pattern)
		if err != nil {
			return nil, err
		}
		extra.Spam = append(extra.Spam, r)
	}
	for i, e := range f.Legit {
		r, err := NewRule(tagOr(e.Tag, "legit", i), e.Pattern)
		if err != nil {
			return nil, err
		}
		extra.Legit = append(extra.Legit, r)
	}

	logger.Info("loaded rules pack", "path", path,
		"spam", len(extra.Spam), "legit", len(extra.Legit), "keywords", len(extra.UrgentKeywords))
	return base.Merge(extra), nil
}

func tagOr(tag, kind string, i int) string {
	if tag != "" {
		return tag
	}
	return fmt.Sprintf("custom.%s.%d", kind, i)
}
