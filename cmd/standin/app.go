package main

import (
	"context"
	"time"

	"standin/internal/arbiter"
	"standin/internal/bus"
	"standin/internal/calendar"
	"standin/internal/classify"
	"standin/internal/config"
	"standin/internal/control"
	"standin/internal/digest"
	"standin/internal/domain"
	"standin/internal/engine"
	"standin/internal/notify"
	"standin/internal/policy"
	"standin/internal/provider"
	"standin/internal/quota"
)

// app is the component graph shared by run and simulate.
type app struct {
	cfg        *config.Config
	loc        *time.Location
	events     *bus.EventBus
	classifier *classify.Classifier
	quota      *quota.Controller
	digest     *digest.Aggregator
	agenda     *calendar.Agenda
	google     *calendar.Google // nil when the calendar is not connected
	transports *engine.Transports
	engine     *engine.Engine
}

type appOptions struct {
	Store                domain.RecordStore
	Transports           []domain.Transport
	Self                 engine.SelfChannel
	Owners               map[string][]string
	ControlConversations []string
	// Sleep overrides the pacing wait; nil uses the real clock.
	Sleep func(ctx context.Context, d time.Duration) error
	// Calendar connects Google Calendar when the config enables it.
	Calendar bool
}

func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) *app {
	loc := cfg.Location()
	a := &app{
		cfg:    cfg,
		loc:    loc,
		events: bus.NewEventBus(logger),
	}

	a.quota = quota.NewController(quota.ControllerConfig{
		Limits: quota.Limits{
			PerMinute: cfg.Quota.PerMinute,
			Daily:     cfg.Quota.Daily,
			Window:    seconds(cfg.Quota.WindowSeconds),
		},
		Location: loc,
		Store:    opts.Store,
	})
	if err := a.quota.Load(ctx); err != nil {
		logger.Warn("quota state not restored", "err", err)
	}

	a.digest = digest.New(digest.Config{
		Store:    opts.Store,
		Location: loc,
		TopN:     cfg.Digest.TopSenders,
		Logger:   logger,
	})
	if err := a.digest.Load(ctx); err != nil {
		logger.Warn("digest not restored", "err", err)
	}

	rules, err := classify.LoadRules(config.ExpandPath(cfg.Rules.Path), logger)
	if err != nil {
		logger.Warn("rules pack rejected, using built-in rules", "err", err)
		rules = classify.DefaultRules()
	}
	a.classifier = classify.New(rules, loc)

	if cfg.Calendar.Enabled && opts.Calendar {
		g, err := calendar.NewGoogle(ctx, calendar.GoogleConfig{
			CredentialsFile: cfg.Calendar.CredentialsFile,
			TokenFile:       cfg.Calendar.TokenFile,
			CalendarID:      cfg.Calendar.CalendarID,
			Location:        loc,
			Duration:        minutes(cfg.Calendar.DurationMinutes),
			Reminder:        minutes(cfg.Calendar.ReminderMinutes),
			Logger:          logger,
		})
		if err != nil {
			logger.Warn("calendar disabled", "err", err)
		} else {
			a.google = g
			logger.Info("calendar connected", "calendar", cfg.Calendar.CalendarID)
		}
	}
	agendaCfg := calendar.AgendaConfig{Owner: cfg.Persona.Name, Location: loc, Logger: logger}
	if a.google != nil {
		agendaCfg.Source = a.google
	}
	a.agenda = calendar.NewAgenda(agendaCfg)

	persona := provider.NewPersona(provider.PersonaConfig{
		Provider:     a.provider(),
		Store:        opts.Store,
		Agenda:       a.agenda,
		Name:         cfg.Persona.Name,
		SystemPrompt: cfg.Persona.SystemPrompt,
		HistoryTurns: cfg.Persona.HistoryTurns,
		MaxTokens:    cfg.Persona.MaxTokens,
		Logger:       logger,
	})

	a.transports = engine.NewTransports(logger, opts.Transports...)

	ecfg := engine.Config{
		Classifier: a.classifier,
		Policy: policy.New(policy.Config{
			PersonaNames:   cfg.PersonaNames(),
			PriorityGroups: cfg.Engagement.PriorityGroups,
			QuestionMaxLen: cfg.Engagement.QuestionMaxLen,
			EngageEvery:    cfg.Engagement.EngageEvery,
			AckProbability: cfg.Engagement.AckProbability,
			IgnoreDirect:   !cfg.Engagement.DirectMessages,
			IgnoreGroups:   !cfg.Engagement.GroupChats,
			Logger:         logger,
		}),
		Quota: a.quota,
		Pacer: quota.NewPacer(quota.PacingConfig{
			MinDelay:  seconds(cfg.Pacing.MinDelaySeconds),
			MaxDelay:  seconds(cfg.Pacing.MaxDelaySeconds),
			PerChar:   time.Duration(cfg.Pacing.PerCharMs) * time.Millisecond,
			AckMin:    seconds(cfg.Pacing.AckMinSeconds),
			AckJitter: seconds(cfg.Pacing.AckJitterSeconds),
		}, nil),
		Throttle:      quota.NewThrottle(cfg.Quota.SendBurst, float64(cfg.Quota.SendPerMinute)),
		Arbiter:       arbiter.New(arbiter.Config{Timeout: seconds(cfg.Arbiter.TimeoutSeconds), Logger: logger}),
		Digest:        a.digest,
		Control:       control.NewState(nil),
		Verifier:      control.NewVerifier(opts.Owners, opts.ControlConversations),
		Generator:     persona,
		Alerts:        a.dispatcher(opts.Self),
		Transports:    a.transports,
		Events:        a.events,
		Self:          opts.Self,
		Acks:          cfg.Persona.Acks,
		MaxSeen:       cfg.Dedup.MaxSeen,
		MaxConcurrent: cfg.General.MaxConcurrentConversations,
		Location:      loc,
		Sleep:         opts.Sleep,
		Logger:        logger,
	}
	if a.google != nil {
		ecfg.Calendar = a.google
	}
	a.engine = engine.New(ecfg)
	return a
}

// provider builds the generation chain and reports every attempt on the
// event bus.
func (a *app) provider() domain.Provider {
	factory := provider.NewFactory(a.cfg, logger)
	prov, err := factory.Chain()
	if err != nil || prov == nil {
		logger.Warn("no usable provider chain, falling back to ollama", "err", err)
		return provider.NewOllama(provider.OllamaConfig{MaxTokens: a.cfg.Persona.MaxTokens, Logger: logger})
	}
	if fp, ok := prov.(*provider.FailoverProvider); ok {
		fp.OnResult(func(name string, err error) {
			a.events.Emit(bus.Event{
				Type:    bus.EventProviderResult,
				Source:  "provider",
				Payload: map[string]any{"provider": name, "ok": err == nil},
			})
		})
	}
	logger.Info("reply provider ready", "provider", prov.Name())
	return prov
}

func (a *app) dispatcher(self engine.SelfChannel) *notify.Dispatcher {
	n := a.cfg.Notify
	d := notify.NewDispatcher(logger)
	if n.Pushover.UserKey != "" && n.Pushover.AppToken != "" {
		d.Add(&notify.Pushover{UserKey: n.Pushover.UserKey, AppToken: n.Pushover.AppToken})
	}
	if n.Lark.WebhookURL != "" {
		d.Add(&notify.Lark{WebhookURL: n.Lark.WebhookURL})
	}
	if n.Slack.WebhookURL != "" {
		d.Add(&notify.SlackWebhook{WebhookURL: n.Slack.WebhookURL})
	}
	if n.SelfText && self.Transport != "" {
		if t, err := a.transports.Get(self.Transport); err != nil {
			logger.Warn("self-text alerts disabled", "err", err)
		} else {
			d.Add(&notify.SelfText{Sender: t, ConversationID: self.ConversationID})
		}
	}
	logger.Info("alert channels", "channels", d.Names())
	return d
}

// watchRules hot-swaps the classifier rules when the pack changes.
func (a *app) watchRules(ctx context.Context) {
	if !a.cfg.Rules.Watch || a.cfg.Rules.Path == "" {
		return
	}
	w := classify.NewWatcher(classify.WatcherConfig{
		Path:       a.cfg.Rules.Path,
		Classifier: a.classifier,
		Logger:     logger,
		OnReload: func(*classify.RuleSet) {
			a.events.Emit(bus.Event{
				Type:    bus.EventRulesReloaded,
				Source:  "rules",
				Payload: map[string]any{"path": a.cfg.Rules.Path},
			})
		},
	})
	if err := w.Run(ctx); err != nil {
		logger.Warn("rules watcher stopped", "err", err)
	}
}

// refreshAgenda loads today's events once, then keeps them current.
func (a *app) refreshAgenda(ctx context.Context) {
	if a.google == nil {
		return
	}
	if err := a.agenda.Refresh(ctx); err != nil {
		logger.Warn("initial calendar refresh failed", "err", err)
	}
	a.agenda.Run(ctx, minutes(a.cfg.Calendar.RefreshMinutes))
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
