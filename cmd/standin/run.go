package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"standin/internal/bus"
	"standin/internal/channel"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/engine"
	"standin/internal/memory"
	"standin/internal/metrics"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start answering on every enabled transport",
		Long:  "Starts the enabled transports (Telegram, Discord, Slack), the triage engine and the recap scheduler. Press Ctrl+C to stop.",
		RunE:  runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := memory.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer store.Close()
	if cfg.Store.RetentionDays > 0 {
		if _, err := store.Prune(ctx, time.Now().AddDate(0, 0, -cfg.Store.RetentionDays)); err != nil {
			logger.Warn("prune failed", "err", err)
		}
	}

	transports := buildTransports(cfg)
	if len(transports) == 0 {
		return fmt.Errorf("no transports enabled in %s", cfgPath)
	}

	a := buildApp(ctx, cfg, appOptions{
		Store:      store,
		Transports: transports,
		Self: engine.SelfChannel{
			Transport:      cfg.Owner.SelfTransport,
			ConversationID: cfg.Owner.SelfConversation,
		},
		Owners:               cfg.OwnerIDs(),
		ControlConversations: cfg.Owner.ControlConversations,
		Calendar:             true,
	})

	var workers sync.WaitGroup
	spawn := func(fn func()) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn()
		}()
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		collector.Attach(a.events)
		spawn(func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, logger); err != nil {
				logger.Error("metrics endpoint failed", "err", err)
			}
		})
	}

	messageBus := bus.New(100, logger)
	spawn(func() { a.engine.Run(ctx, messageBus.Subscribe()) })
	spawn(func() { a.watchRules(ctx) })
	spawn(func() { a.refreshAgenda(ctx) })

	recaps := engine.NewRecapScheduler(engine.RecapConfig{
		Schedules: cfg.Digest.RecapSchedule,
		Send: func(ctx context.Context) error {
			return a.engine.SendRecap(ctx, "schedule")
		},
		Location: a.loc,
		Logger:   logger,
	})
	spawn(func() { recaps.Start(ctx) })

	running := a.transports.StartAll(ctx, messageBus)
	logger.Info("standin running. Press Ctrl+C to stop.", "transports", a.transports.Names())

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.engine.SendRecap(shutdownCtx, "shutdown"); err != nil {
		logger.Warn("shutdown recap not sent", "err", err)
	}
	if err := a.quota.Save(shutdownCtx); err != nil {
		logger.Warn("quota state not saved", "err", err)
	}

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		recaps.Stop()
		a.transports.StopAll()
		running.Wait()
		messageBus.Close()
		workers.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	a.printSummary(os.Stdout)
	return shutdownErr
}

// buildTransports creates the enabled network transports. A transport
// enabled without credentials is skipped with a warning.
func buildTransports(cfg *config.Config) []domain.Transport {
	owners := cfg.OwnerIDs()
	var ts []domain.Transport

	if tg := cfg.Transports.Telegram; tg.Enabled {
		if tg.Token == "" {
			logger.Warn("telegram enabled without a token, skipping")
		} else {
			ts = append(ts, channel.NewTelegram(channel.TelegramConfig{
				Token:       tg.Token,
				OwnerIDs:    owners["telegram"],
				HistorySize: tg.HistorySize,
				Logger:      logger,
			}))
		}
	}
	if dc := cfg.Transports.Discord; dc.Enabled {
		if dc.Token == "" {
			logger.Warn("discord enabled without a token, skipping")
		} else {
			ts = append(ts, channel.NewDiscord(channel.DiscordConfig{
				Token:    dc.Token,
				GuildID:  dc.GuildID,
				OwnerIDs: owners["discord"],
				Logger:   logger,
			}))
		}
	}
	if sl := cfg.Transports.Slack; sl.Enabled {
		ts = append(ts, channel.NewSlack(channel.SlackConfig{
			BotToken: sl.BotToken,
			AppToken: sl.AppToken,
			OwnerIDs: owners["slack"],
			Logger:   logger,
		}))
	}
	return ts
}

func simulateCmd() *cobra.Command {
	var realDelays bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine from stdin",
		Long: `Runs the full triage pipeline against a terminal conversation. Lines are
direct messages; "/owner <text>" speaks as the owner (commands included),
"/group <name>: <text>" posts into a group. State is kept in memory only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}
			configureLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{Persona: cfg.Persona.Name, Logger: logger})
			owners := cfg.OwnerIDs()
			owners[cli.Name()] = append(owners[cli.Name()], channel.CLIOwnerID)

			opts := appOptions{
				Store:      memory.NewMapStore(),
				Transports: []domain.Transport{cli},
				Self:       engine.SelfChannel{Transport: cli.Name(), ConversationID: "self"},
				Owners:     owners,
			}
			if !realDelays {
				opts.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
			}
			a := buildApp(ctx, cfg, opts)

			messageBus := bus.New(100, logger)
			done := make(chan struct{})
			go func() {
				defer close(done)
				a.engine.Run(ctx, messageBus.Subscribe())
			}()

			err = cli.Start(ctx, messageBus)
			// Closing the bus lets the engine finish what is queued.
			messageBus.Close()
			<-done

			a.printSummary(os.Stdout)
			return err
		},
	}
	cmd.Flags().BoolVar(&realDelays, "real-delays", false, "wait out the humanlike reply delay")
	return cmd
}

// printSummary writes today's digest and the session counters.
func (a *app) printSummary(w io.Writer) {
	q := a.quota.Snapshot()
	fmt.Fprintln(w)
	fmt.Fprintln(w, a.digest.Summarize())
	fmt.Fprintln(w)
	fmt.Fprintln(w, a.engine.Stats().Report(q.DailyCount, q.DailyLimit, time.Now()))
}
