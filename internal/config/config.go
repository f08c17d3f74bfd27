package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for standin.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Persona    PersonaConfig             `json:"persona"`
	Owner      OwnerConfig               `json:"owner"`
	Engagement EngagementConfig          `json:"engagement"`
	Quota      QuotaConfig               `json:"quota"`
	Pacing     PacingConfig              `json:"pacing"`
	Arbiter    ArbiterConfig             `json:"arbiter"`
	Dedup      DedupConfig               `json:"dedup"`
	Digest     DigestConfig              `json:"digest"`
	Rules      RulesConfig               `json:"rules"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Transports TransportsConfig          `json:"transports"`
	Notify     NotifyConfig              `json:"notify"`
	Calendar   CalendarConfig            `json:"calendar"`
	Store      StoreConfig               `json:"store"`
	Metrics    MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Timezone                   string   `json:"timezone"`
	LogLevel                   string   `json:"logLevel"`
	LogFile                    string   `json:"logFile,omitempty"`
	DefaultProvider            string   `json:"defaultProvider"`
	FailoverChain              []string `json:"failoverChain,omitempty"`
	MaxConcurrentConversations int      `json:"maxConcurrentConversations"`
}

type PersonaConfig struct {
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"` // extra mention handles
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	HistoryTurns int      `json:"historyTurns"`
	MaxTokens    int      `json:"maxTokens"`
	Acks         []string `json:"acks,omitempty"`
}

type OwnerConfig struct {
	// IDs lists the owner's sender ids per transport name.
	IDs map[string]FlexStringList `json:"ids"`
	// ControlConversations restricts commands to these "transport/conversation" ids.
	ControlConversations []string `json:"controlConversations,omitempty"`
	// SelfTransport and SelfConversation receive recaps, alerts and command replies.
	SelfTransport    string `json:"selfTransport"`
	SelfConversation string `json:"selfConversation"`
}

type EngagementConfig struct {
	DirectMessages bool     `json:"directMessages"`
	GroupChats     bool     `json:"groupChats"`
	PriorityGroups []string `json:"priorityGroups"`
	QuestionMaxLen int      `json:"questionMaxLen"`
	EngageEvery    int      `json:"engageEvery"`
	AckProbability float64  `json:"ackProbability"`
}

type QuotaConfig struct {
	PerMinute     int `json:"perMinute"`
	Daily         int `json:"daily"`
	WindowSeconds int `json:"windowSeconds"`
	SendBurst     int `json:"sendBurst"`
	SendPerMinute int `json:"sendPerMinute"`
}

type PacingConfig struct {
	MinDelaySeconds  int `json:"minDelaySeconds"`
	MaxDelaySeconds  int `json:"maxDelaySeconds"`
	PerCharMs        int `json:"perCharMs"`
	AckMinSeconds    int `json:"ackMinSeconds"`
	AckJitterSeconds int `json:"ackJitterSeconds"`
}

type ArbiterConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type DedupConfig struct {
	MaxSeen int `json:"maxSeen"`
}

type DigestConfig struct {
	// RecapSchedule holds cron expressions evaluated in the owner timezone.
	RecapSchedule []string `json:"recapSchedule"`
	TopSenders    int      `json:"topSenders"`
}

type RulesConfig struct {
	Path  string `json:"path,omitempty"`
	Watch bool   `json:"watch"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type TransportsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	HistorySize int    `json:"historySize"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type NotifyConfig struct {
	SelfText bool           `json:"selfText"`
	Pushover PushoverConfig `json:"pushover"`
	Lark     WebhookConfig  `json:"lark"`
	Slack    WebhookConfig  `json:"slack"`
}

type PushoverConfig struct {
	UserKey  string `json:"userKey,omitempty"`
	AppToken string `json:"appToken,omitempty"`
}

type WebhookConfig struct {
	WebhookURL string `json:"webhookUrl,omitempty"`
}

type CalendarConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsFile string `json:"credentialsFile"`
	TokenFile       string `json:"tokenFile"`
	CalendarID      string `json:"calendarId"`
	DurationMinutes int    `json:"durationMinutes"`
	ReminderMinutes int    `json:"reminderMinutes"`
	RefreshMinutes  int    `json:"refreshMinutes"`
}

type StoreConfig struct {
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// Location resolves general.timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.General.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// OwnerIDs converts the owner id lists to plain slices.
func (c *Config) OwnerIDs() map[string][]string {
	out := make(map[string][]string, len(c.Owner.IDs))
	for k, v := range c.Owner.IDs {
		out[k] = []string(v)
	}
	return out
}

// PersonaNames returns the lower-cased name plus aliases used for mentions.
func (c *Config) PersonaNames() []string {
	names := make([]string, 0, 1+len(c.Persona.Aliases))
	if c.Persona.Name != "" {
		names = append(names, c.Persona.Name)
	}
	return append(names, c.Persona.Aliases...)
}

// DefaultConfigDir returns the default config directory (~/.standin).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".standin"
	}
	return filepath.Join(home, ".standin")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Store.DBPath = ExpandPath(c.Store.DBPath)
	c.Rules.Path = ExpandPath(c.Rules.Path)
	c.Calendar.CredentialsFile = ExpandPath(c.Calendar.CredentialsFile)
	c.Calendar.TokenFile = ExpandPath(c.Calendar.TokenFile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Timezone != "" {
		if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("general.timezone: unknown zone %q", cfg.General.Timezone))
		}
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentConversations < 1 || cfg.General.MaxConcurrentConversations > 100 {
		errs = append(errs, "general.maxConcurrentConversations must be between 1 and 100")
	}
	if strings.TrimSpace(cfg.Persona.Name) == "" {
		errs = append(errs, "persona.name is required")
	}
	if cfg.Persona.HistoryTurns < 2 {
		errs = append(errs, "persona.historyTurns must be >= 2")
	}

	if cfg.Engagement.AckProbability < 0 || cfg.Engagement.AckProbability > 1 {
		errs = append(errs, "engagement.ackProbability must be between 0 and 1")
	}
	if cfg.Engagement.EngageEvery < 1 {
		errs = append(errs, "engagement.engageEvery must be >= 1")
	}
	if cfg.Engagement.QuestionMaxLen < 1 {
		errs = append(errs, "engagement.questionMaxLen must be >= 1")
	}

	if cfg.Quota.PerMinute < 1 {
		errs = append(errs, "quota.perMinute must be >= 1")
	}
	if cfg.Quota.Daily < 1 {
		errs = append(errs, "quota.daily must be >= 1")
	}
	if cfg.Quota.WindowSeconds < 1 {
		errs = append(errs, "quota.windowSeconds must be >= 1")
	}

	if cfg.Pacing.MinDelaySeconds < 0 || cfg.Pacing.MaxDelaySeconds < cfg.Pacing.MinDelaySeconds {
		errs = append(errs, "pacing: need 0 <= minDelaySeconds <= maxDelaySeconds")
	}
	if cfg.Arbiter.TimeoutSeconds < 1 {
		errs = append(errs, "arbiter.timeoutSeconds must be >= 1")
	}
	if cfg.Dedup.MaxSeen < 2 {
		errs = append(errs, "dedup.maxSeen must be >= 2")
	}

	g := gronx.New()
	for _, expr := range cfg.Digest.RecapSchedule {
		if !g.IsValid(expr) {
			errs = append(errs, fmt.Sprintf("digest.recapSchedule: invalid cron expression %q", expr))
		}
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	if cfg.General.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		}
	}

	if cfg.Owner.SelfTransport != "" && cfg.Owner.SelfConversation == "" {
		errs = append(errs, "owner.selfConversation is required when owner.selfTransport is set")
	}
	if cfg.Transports.Slack.Enabled && (cfg.Transports.Slack.BotToken == "" || cfg.Transports.Slack.AppToken == "") {
		errs = append(errs, "transports.slack: botToken and appToken are required")
	}
	if cfg.Calendar.Enabled && (cfg.Calendar.CredentialsFile == "" || cfg.Calendar.TokenFile == "") {
		errs = append(errs, "calendar: credentialsFile and tokenFile are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
