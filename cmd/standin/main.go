package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"standin/internal/classify"
	"standin/internal/config"
	"standin/internal/digest"
	"standin/internal/domain"
	"standin/internal/memory"
	"standin/internal/provider"
	"standin/internal/quota"

	"github.com/spf13/cobra"

	_ "time/tzdata"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logJSON    bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "standin",
		Short: "standin: answers your messages while you are away",
		Long: `standin triages incoming chat messages on Telegram, Discord and Slack,
alerts you about urgent ones, files invites on your calendar and replies
in your voice when it makes sense.`,
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.standin/config.json)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(initCmd())
	root.AddCommand(setupCmd())
	root.AddCommand(runCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

// configureLogger rebuilds the global logger from general.logLevel,
// general.logFile and --log-json.
func configureLogger(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			w = io.MultiWriter(os.Stderr, f)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
	slog.SetDefault(logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and rules pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s (use 'standin setup' to change it)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			rulesPath := config.ExpandPath(cfg.Rules.Path)
			if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
				if err := os.WriteFile(rulesPath, []byte(sampleRules), 0o644); err != nil {
					return fmt.Errorf("write rules pack: %w", err)
				}
			}
			logger.Info("initialized", "config", cfgPath, "rules", rulesPath)
			fmt.Println("Next: set owner.ids and a transport token, then run 'standin doctor'.")
			return nil
		},
	}
}

const sampleRules = `# Extra triage rules, merged after the built-in ones.
# Changes are picked up while standin is running.
urgent_keywords: []
spam: []
#  - tag: crypto.giveaway
#    pattern: 'double\s+your\s+(btc|eth)'
legit: []
#  - tag: school.closure
#    pattern: 'school\s+is\s+closed'
`

// openStore opens the configured record store for read-mostly commands.
func openStore(cfg *config.Config) (*memory.SQLiteStore, error) {
	store, err := memory.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	return store, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show quota, today's digest counters and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			ctx := context.Background()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			loc := cfg.Location()
			q := quota.NewController(quota.ControllerConfig{
				Limits:   quota.Limits{PerMinute: cfg.Quota.PerMinute, Daily: cfg.Quota.Daily},
				Location: loc,
				Store:    store,
			})
			if err := q.Load(ctx); err != nil {
				return err
			}
			d := digest.New(digest.Config{Store: store, Location: loc, Logger: logger})
			if err := d.Load(ctx); err != nil {
				return err
			}

			snap := q.Snapshot()
			stats := d.Current().Stats
			fmt.Printf("Date:          %s (%s)\n", snap.Date, loc)
			fmt.Printf("API calls:     %d/%d\n", snap.DailyCount, snap.DailyLimit)
			fmt.Printf("Messages:      %d from %d senders\n", stats.TotalMessages, stats.UniqueSenders)
			fmt.Printf("Responses:     %d\n", stats.AIResponses)
			fmt.Printf("Urgent:        %d\n", stats.UrgentCount)
			fmt.Printf("Spam filtered: %d\n", stats.SpamFiltered)

			factory := provider.NewFactory(cfg, logger)
			if prov := factory.HealthyProvider(ctx); prov != nil {
				fmt.Printf("Provider:      %s (healthy)\n", prov.Name())
			} else {
				fmt.Printf("Provider:      none healthy\n")
			}
			return nil
		},
	}
}

func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print today's digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			d := digest.New(digest.Config{
				Store:    store,
				Location: cfg.Location(),
				TopN:     cfg.Digest.TopSenders,
				Logger:   logger,
			})
			if err := d.Load(context.Background()); err != nil {
				return err
			}
			fmt.Println(d.Summarize())
			return nil
		},
	}
}

func classifyCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Show how a message would be classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				cfg = config.Defaults()
			}
			rules, err := classify.LoadRules(config.ExpandPath(cfg.Rules.Path), logger)
			if err != nil {
				return err
			}
			c := classify.New(rules, cfg.Location())

			msg := domain.InboundMessage{
				ID:         "classify",
				Transport:  "cli",
				SenderName: "you",
				Text:       strings.Join(args, " "),
				ReceivedAt: time.Now(),
			}
			if group != "" {
				msg.IsGroup = true
				msg.ConversationName = group
			}
			data, _ := json.MarshalIndent(c.Classify(msg, msg.ReceivedAt), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "classify as a message in this group")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. quota.daily)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. engagement.ackProbability 0.5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			clean := config.Sanitize(cfg)
			if asJSON {
				data, _ := json.MarshalIndent(clean, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			leaves := config.ListPaths(clean)
			for _, path := range config.SortedPaths(leaves) {
				val, _ := json.Marshal(leaves[path])
				fmt.Printf("%s = %s\n", path, val)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print the whole config as JSON")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
