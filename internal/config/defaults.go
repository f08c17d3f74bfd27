package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Timezone:                   "America/Chicago",
			LogLevel:                   "info",
			DefaultProvider:            "claude",
			FailoverChain:              []string{"claude", "gemini"},
			MaxConcurrentConversations: 8,
		},
		Persona: PersonaConfig{
			Name:         "Kyle",
			HistoryTurns: 30,
			MaxTokens:    200,
		},
		Owner: OwnerConfig{
			IDs: map[string]FlexStringList{},
		},
		Engagement: EngagementConfig{
			DirectMessages: true,
			GroupChats:     true,
			QuestionMaxLen: 120,
			EngageEvery:    8,
			AckProbability: 0.7,
		},
		Quota: QuotaConfig{
			PerMinute:     15,
			Daily:         200,
			WindowSeconds: 60,
			SendBurst:     3,
			SendPerMinute: 20,
		},
		Pacing: PacingConfig{
			MinDelaySeconds:  15,
			MaxDelaySeconds:  180,
			PerCharMs:        50,
			AckMinSeconds:    3,
			AckJitterSeconds: 5,
		},
		Arbiter: ArbiterConfig{TimeoutSeconds: 5},
		Dedup:   DedupConfig{MaxSeen: 1000},
		Digest: DigestConfig{
			RecapSchedule: []string{"0 9,14,21 * * *"},
			TopSenders:    10,
		},
		Rules: RulesConfig{
			Path:  "~/.standin/rules.yaml",
			Watch: true,
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-sonnet-4-20250514",
			},
			"gemini": {
				Enabled:      true,
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.0-flash",
			},
			"openai": {
				Enabled:      false,
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Transports: TransportsConfig{
			Telegram: TelegramConfig{HistorySize: 200},
		},
		Notify: NotifyConfig{SelfText: true},
		Calendar: CalendarConfig{
			CredentialsFile: "~/.standin/google-credentials.json",
			TokenFile:       "~/.standin/google-token.json",
			CalendarID:      "primary",
			DurationMinutes: 60,
			ReminderMinutes: 15,
			RefreshMinutes:  15,
		},
		Store: StoreConfig{
			DBPath:        "~/.standin/standin.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}
