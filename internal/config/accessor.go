package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// The accessors work on the JSON shape of Config so paths match the keys in
// config.json, e.g. "quota.daily" or "digest.recapSchedule.0".

func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	return tree, json.Unmarshal(data, &tree)
}

func lookup(node any, key string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("no key %q", key)
		}
		return child, nil
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(v) {
			return nil, fmt.Errorf("index %q out of range (len %d)", key, len(v))
		}
		return v[i], nil
	}
	return nil, fmt.Errorf("%q is a %T leaf", key, node)
}

// GetByPath returns the value at a dot-separated path.
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = tree
	for _, key := range strings.Split(path, ".") {
		if node, err = lookup(node, key); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return node, nil
}

// SetByPath writes raw (a command-line string) at path and decodes the
// result back into cfg. Missing intermediate maps are created so new
// providers or owner transports can be added, but the top-level section
// must already exist.
func SetByPath(cfg *Config, path string, raw any) error {
	keys := strings.Split(path, ".")
	if path == "" || len(keys) == 0 {
		return fmt.Errorf("empty path")
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}
	if _, ok := tree[keys[0]]; !ok {
		return fmt.Errorf("%s: unknown section %q", path, keys[0])
	}

	node := tree
	for _, key := range keys[:len(keys)-1] {
		switch child := node[key].(type) {
		case map[string]any:
			node = child
		case nil:
			m := map[string]any{}
			node[key] = m
			node = m
		default:
			return fmt.Errorf("%s: %q is a %T, not a section", path, key, child)
		}
	}
	node[keys[len(keys)-1]] = coerce(raw)

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// coerce turns a command-line string into a bool, number, list or object.
// Digit strings with a leading zero stay strings so ids survive.
func coerce(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var out any
		if err := yaml.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
		return s
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return s
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Sanitize returns a deep copy with every credential masked.
func Sanitize(cfg *Config) *Config {
	var out Config
	data, err := json.Marshal(cfg)
	if err != nil || json.Unmarshal(data, &out) != nil {
		return &Config{}
	}

	providers := make(map[string]ProviderConfig, len(out.Providers))
	for name, p := range out.Providers {
		p.APIKey = mask(p.APIKey)
		providers[name] = p
	}
	out.Providers = providers

	for _, secret := range []*string{
		&out.Transports.Telegram.Token,
		&out.Transports.Discord.Token,
		&out.Transports.Slack.BotToken,
		&out.Transports.Slack.AppToken,
		&out.Notify.Pushover.UserKey,
		&out.Notify.Pushover.AppToken,
		&out.Notify.Lark.WebhookURL,
		&out.Notify.Slack.WebhookURL,
	} {
		*secret = mask(*secret)
	}
	return &out
}

// ListPaths flattens the config into path -> leaf value.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	leaves := map[string]any{}
	var walk func(prefix string, node any)
	walk = func(prefix string, node any) {
		m, ok := node.(map[string]any)
		if !ok || len(m) == 0 {
			leaves[prefix] = node
			return
		}
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			walk(k, v)
		}
	}
	walk("", tree)
	return leaves
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(leaves map[string]any) []string {
	keys := make([]string, 0, len(leaves))
	for k := range leaves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
