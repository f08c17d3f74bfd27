package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"standin/internal/classify"
	"standin/internal/config"
	"standin/internal/memory"

	"github.com/spf13/cobra"
)

type checkResults struct {
	passed, warned, failed int
}

func (r *checkResults) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkResults) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *checkResults) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your standin setup",
		Long: `Verifies that the configuration, record store, rules pack, providers,
transports, owner identities and calendar credentials are set up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("standin doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkResults

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'standin init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")
			r.pass("Timezone", cfg.Location().String())

			if err := checkDatabase(cfg.Store.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", cfg.Store.DBPath)
			}

			if cfg.Rules.Path != "" {
				if _, err := classify.LoadRules(cfg.Rules.Path, logger); err != nil {
					r.fail("Rules pack", err.Error())
				} else {
					r.pass("Rules pack", cfg.Rules.Path)
				}
			}

			checkProviders(&r, cfg)
			checkTransports(&r, cfg)

			if len(cfg.Owner.IDs) == 0 {
				r.warn("Owner ids", "none configured; owner replies and commands will not be recognized")
			} else {
				r.pass("Owner ids", fmt.Sprintf("%d transport(s)", len(cfg.Owner.IDs)))
			}
			if cfg.Owner.SelfTransport == "" {
				r.warn("Self channel", "not set; recaps and self-text alerts are disabled")
			} else {
				r.pass("Self channel", cfg.Owner.SelfTransport+"/"+cfg.Owner.SelfConversation)
			}

			if cfg.Calendar.Enabled {
				for _, f := range []string{cfg.Calendar.CredentialsFile, cfg.Calendar.TokenFile} {
					if _, err := os.Stat(f); err != nil {
						r.fail("Calendar", fmt.Sprintf("missing %s", f))
					} else {
						r.pass("Calendar", filepath.Base(f))
					}
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics addr", cfg.Metrics.Addr+" available")
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running standin.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nstandin should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! standin is ready to run.\n")
			}
			return nil
		},
	}
}

func checkProviders(r *checkResults, cfg *config.Config) {
	enabled := 0
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.APIKey == "" && p.APIBase == "" {
			r.warn("Provider: "+name, "enabled but no API key/base configured")
		} else {
			r.pass("Provider: "+name, "configured")
		}
	}
	if enabled == 0 {
		r.fail("Providers", "no providers enabled")
	}
}

func checkTransports(r *checkResults, cfg *config.Config) {
	t := cfg.Transports
	enabled := 0
	check := func(name string, on bool, creds ...string) {
		if !on {
			return
		}
		enabled++
		for _, c := range creds {
			if c == "" {
				r.fail("Transport: "+name, "enabled but credentials are missing")
				return
			}
		}
		r.pass("Transport: "+name, "configured")
	}
	check("telegram", t.Telegram.Enabled, t.Telegram.Token)
	check("discord", t.Discord.Enabled, t.Discord.Token)
	check("slack", t.Slack.Enabled, t.Slack.BotToken, t.Slack.AppToken)
	if enabled == 0 {
		r.fail("Transports", "none enabled")
	}
}

func checkDatabase(dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	if err := store.Put(ctx, "doctor/last-check", []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
