package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"standin/internal/config"

	"github.com/spf13/cobra"
)

// providerMeta describes a provider option for setup.
type providerMeta struct {
	Name         string
	EnvVar       string
	DefaultModel string
}

var knownProviders = []providerMeta{
	{Name: "claude", EnvVar: "ANTHROPIC_API_KEY", DefaultModel: "claude-sonnet-4-20250514"},
	{Name: "gemini", EnvVar: "GEMINI_API_KEY", DefaultModel: "gemini-2.0-flash"},
	{Name: "openai", EnvVar: "OPENAI_API_KEY", DefaultModel: "gpt-4o-mini"},
	{Name: "ollama", DefaultModel: "llama3.1:8b"},
}

var knownTransports = []struct {
	ID      string
	Desc    string
	OwnerID string
}{
	{"telegram", "Telegram bot (token from @BotFather)", "your numeric Telegram user id"},
	{"discord", "Discord bot", "your Discord user id"},
	{"slack", "Slack app in Socket Mode", "your Slack member id (U...)"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: persona, provider, transport, owner",
		Long:  "Walks through the persona name and timezone, the reply provider, one transport with your owner id, and writes the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(resolveConfigPath(), os.Stdin, os.Stdout)
		},
	}
}

func runSetup(cfgPath string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(in)
	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}
	choose := func(label string, n, def int) (int, error) {
		s, err := prompt(fmt.Sprintf("%s (1-%d)", label, n), fmt.Sprint(def))
		if err != nil {
			return 0, err
		}
		var idx int
		if k, _ := fmt.Sscanf(s, "%d", &idx); k != 1 || idx < 1 || idx > n {
			idx = def
		}
		return idx - 1, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Persona ---")
	if cfg.Persona.Name, err = prompt("Name the replies are written as", cfg.Persona.Name); err != nil {
		return err
	}
	if cfg.General.Timezone, err = prompt("Timezone (IANA name)", cfg.General.Timezone); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Step 2: Reply provider ---")
	def := 1
	for i, p := range knownProviders {
		fmt.Fprintf(out, "  %d) %s\n", i+1, p.Name)
		if p.Name == cfg.General.DefaultProvider {
			def = i + 1
		}
	}
	idx, err := choose("Choose provider", len(knownProviders), def)
	if err != nil {
		return err
	}
	prov := knownProviders[idx]
	pc := cfg.Providers[prov.Name]
	pc.Enabled = true
	if pc.DefaultModel == "" {
		pc.DefaultModel = prov.DefaultModel
	}
	if prov.EnvVar != "" {
		key, err := prompt("API key (or ${"+prov.EnvVar+"})", "${"+prov.EnvVar+"}")
		if err != nil {
			return err
		}
		pc.APIKey = key
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]config.ProviderConfig{}
	}
	cfg.Providers[prov.Name] = pc
	cfg.General.DefaultProvider = prov.Name
	// Keep a failover chain only over providers that are still enabled.
	chain := []string{prov.Name}
	for _, name := range cfg.General.FailoverChain {
		if name != prov.Name && cfg.Providers[name].Enabled {
			chain = append(chain, name)
		}
	}
	cfg.General.FailoverChain = chain

	fmt.Fprintln(out, "\n--- Step 3: Transport ---")
	for i, t := range knownTransports {
		fmt.Fprintf(out, "  %d) %s: %s\n", i+1, t.ID, t.Desc)
	}
	idx, err = choose("Choose transport", len(knownTransports), 1)
	if err != nil {
		return err
	}
	tr := knownTransports[idx]
	switch tr.ID {
	case "telegram":
		cfg.Transports.Telegram.Enabled = true
		if cfg.Transports.Telegram.Token, err = prompt("Bot token", cfg.Transports.Telegram.Token); err != nil {
			return err
		}
	case "discord":
		cfg.Transports.Discord.Enabled = true
		if cfg.Transports.Discord.Token, err = prompt("Bot token", cfg.Transports.Discord.Token); err != nil {
			return err
		}
	case "slack":
		cfg.Transports.Slack.Enabled = true
		if cfg.Transports.Slack.BotToken, err = prompt("Bot token (xoxb-...)", cfg.Transports.Slack.BotToken); err != nil {
			return err
		}
		if cfg.Transports.Slack.AppToken, err = prompt("App token (xapp-...)", cfg.Transports.Slack.AppToken); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n--- Step 4: Owner ---")
	ownerID, err := prompt("Owner id: "+tr.OwnerID, "")
	if err != nil {
		return err
	}
	if ownerID != "" {
		if cfg.Owner.IDs == nil {
			cfg.Owner.IDs = map[string]config.FlexStringList{}
		}
		cfg.Owner.IDs[tr.ID] = append(cfg.Owner.IDs[tr.ID], ownerID)
		self, err := prompt("Conversation id for recaps and alerts", ownerID)
		if err != nil {
			return err
		}
		cfg.Owner.SelfTransport = tr.ID
		cfg.Owner.SelfConversation = self
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: 'standin doctor', then 'standin run' (or 'standin simulate' to try it locally).")
	return nil
}
