package config

import (
	"github.com/caarlos0/env/v11"
)

// secrets are read from STANDIN_* environment variables and override the
// file. Keeping tokens out of config.json is the recommended setup.
type secrets struct {
	AnthropicKey  string `env:"ANTHROPIC_API_KEY"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	GeminiKey     string `env:"GEMINI_API_KEY"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	DiscordToken  string `env:"DISCORD_BOT_TOKEN"`
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`
	SlackAppToken string `env:"SLACK_APP_TOKEN"`
	PushoverUser  string `env:"PUSHOVER_USER_KEY"`
	PushoverToken string `env:"PUSHOVER_APP_TOKEN"`
	LarkWebhook   string `env:"LARK_WEBHOOK_URL"`
	SlackWebhook  string `env:"SLACK_WEBHOOK_URL"`
	DailyLimit    int    `env:"DAILY_API_LIMIT"`
	Timezone      string `env:"TIMEZONE"`
}

const envPrefix = "STANDIN_"

// ApplyEnv overlays non-empty STANDIN_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var s secrets
	if err := env.ParseWithOptions(&s, env.Options{Prefix: envPrefix}); err != nil {
		return err
	}

	setKey := func(name, key string) {
		if key == "" {
			return
		}
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		pc := cfg.Providers[name]
		pc.APIKey = key
		cfg.Providers[name] = pc
	}
	setKey("claude", s.AnthropicKey)
	setKey("openai", s.OpenAIKey)
	setKey("gemini", s.GeminiKey)

	override(&cfg.Transports.Telegram.Token, s.TelegramToken)
	override(&cfg.Transports.Discord.Token, s.DiscordToken)
	override(&cfg.Transports.Slack.BotToken, s.SlackBotToken)
	override(&cfg.Transports.Slack.AppToken, s.SlackAppToken)
	override(&cfg.Notify.Pushover.UserKey, s.PushoverUser)
	override(&cfg.Notify.Pushover.AppToken, s.PushoverToken)
	override(&cfg.Notify.Lark.WebhookURL, s.LarkWebhook)
	override(&cfg.Notify.Slack.WebhookURL, s.SlackWebhook)
	override(&cfg.General.Timezone, s.Timezone)
	if s.DailyLimit > 0 {
		cfg.Quota.Daily = s.DailyLimit
	}
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
