// Package engine runs each inbound message through triage: classify,
// remote control, engagement, quota, pacing, owner race check, send and
// digest.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"standin/internal/arbiter"
	"standin/internal/bus"
	"standin/internal/classify"
	"standin/internal/control"
	"standin/internal/digest"
	"standin/internal/domain"
	"standin/internal/notify"
	"standin/internal/policy"
	"standin/internal/quota"
)

// Results that never reach the digest.
const (
	OutcomeDuplicate digest.Outcome = "duplicate"
	OutcomeOwner     digest.Outcome = "owner"
	OutcomeCommand   digest.Outcome = "command"
)

const (
	defaultConcurrency = 8
	alertPreviewLen    = 200
)

var errNoSelfChannel = errors.New("no self channel configured")

// Outcome describes what Process did with one message.
type Outcome struct {
	Result  digest.Outcome
	Reason  string
	Level   policy.Level
	Reply   string
	Urgent  bool
	Alerted int // channels that accepted the urgent alert
	Invite  *classify.Invite
}

// SelfChannel is where the owner receives alerts, recaps and command replies.
type SelfChannel struct {
	Transport      string
	ConversationID string
}

type Config struct {
	Classifier *classify.Classifier
	Policy     *policy.Policy
	Quota      *quota.Controller
	Pacer      *quota.Pacer
	Throttle   *quota.Throttle // optional
	Arbiter    *arbiter.Arbiter
	Digest     *digest.Aggregator
	Control    *control.State
	Verifier   *control.Verifier
	Generator  domain.Generator
	Alerts     *notify.Dispatcher // optional
	Calendar   domain.Calendar    // optional
	Transports *Transports
	Events     *bus.EventBus // optional
	Self       SelfChannel
	Acks       []string

	MaxSeen       int
	MaxConcurrent int
	Location      *time.Location
	Now           func() time.Time
	// Sleep waits out the pacing delay. It must return early with an error
	// when ctx is done.
	Sleep  func(ctx context.Context, d time.Duration) error
	Rand   func() float64
	Logger *slog.Logger
}

// Engine owns the triage pipeline. Process is safe for concurrent use
// across conversations; Run keeps messages of one conversation in order.
type Engine struct {
	classifier *classify.Classifier
	policy     *policy.Policy
	quota      *quota.Controller
	pacer      *quota.Pacer
	throttle   *quota.Throttle
	arbiter    *arbiter.Arbiter
	digest     *digest.Aggregator
	control    *control.State
	handler    *control.Handler
	verifier   *control.Verifier
	generator  domain.Generator
	alerts     *notify.Dispatcher
	calendar   domain.Calendar
	transports *Transports
	events     *bus.EventBus
	self       SelfChannel
	acks       []string

	concurrency int
	loc         *time.Location
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	rnd         func() float64
	logger      *slog.Logger

	seen  *seenSet
	stats *SessionStats

	eventsMu sync.Mutex
	created  map[string]bool // invite keys already on the calendar
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultConcurrency
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New(nil, cfg.Location)
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.New(policy.Config{Logger: cfg.Logger})
	}
	if cfg.Quota == nil {
		cfg.Quota = quota.NewController(quota.ControllerConfig{Location: cfg.Location, Now: cfg.Now})
	}
	if cfg.Pacer == nil {
		cfg.Pacer = quota.NewPacer(quota.DefaultPacing(), cfg.Rand)
	}
	if cfg.Arbiter == nil {
		cfg.Arbiter = arbiter.New(arbiter.Config{Logger: cfg.Logger})
	}
	if cfg.Digest == nil {
		cfg.Digest = digest.New(digest.Config{Location: cfg.Location, Now: cfg.Now, Logger: cfg.Logger})
	}
	if cfg.Control == nil {
		cfg.Control = control.NewState(cfg.Now)
	}
	if cfg.Verifier == nil {
		cfg.Verifier = control.NewVerifier(nil, nil)
	}
	if cfg.Transports == nil {
		cfg.Transports = NewTransports(cfg.Logger)
	}

	e := &Engine{
		classifier:  cfg.Classifier,
		policy:      cfg.Policy,
		quota:       cfg.Quota,
		pacer:       cfg.Pacer,
		throttle:    cfg.Throttle,
		arbiter:     cfg.Arbiter,
		digest:      cfg.Digest,
		control:     cfg.Control,
		verifier:    cfg.Verifier,
		generator:   cfg.Generator,
		alerts:      cfg.Alerts,
		calendar:    cfg.Calendar,
		transports:  cfg.Transports,
		events:      cfg.Events,
		self:        cfg.Self,
		acks:        cfg.Acks,
		concurrency: cfg.MaxConcurrent,
		loc:         cfg.Location,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
		rnd:         cfg.Rand,
		logger:      cfg.Logger,
		seen:        newSeenSet(cfg.MaxSeen),
		stats:       newSessionStats(cfg.Now()),
		created:     make(map[string]bool),
	}
	e.handler = control.NewHandler(control.HandlerConfig{
		State:    cfg.Control,
		Status:   e.Status,
		Summary:  e.digest.Summarize,
		Reply:    e.SelfText,
		Location: cfg.Location,
		Logger:   cfg.Logger,
	})
	return e
}

// Stats returns the running session counters.
func (e *Engine) Stats() StatsSnapshot { return e.stats.Snapshot() }

// Status gathers the counters reported by !status.
func (e *Engine) Status() control.Status {
	q := e.quota.Snapshot()
	s := e.stats.Snapshot()
	return control.Status{
		APICalls:        q.DailyCount,
		APILimit:        q.DailyLimit,
		Responses:       int(s.Responses),
		UrgentAlerts:    int(s.UrgentAlerts),
		Pending:         e.policy.Pending(),
		CalendarEnabled: e.calendar != nil && e.calendar.Enabled(),
	}
}

// SelfText messages the owner on the self channel.
func (e *Engine) SelfText(ctx context.Context, text string) error {
	if e.self.Transport == "" || e.self.ConversationID == "" {
		return errNoSelfChannel
	}
	return e.transports.Send(ctx, e.self.Transport, e.self.ConversationID, text)
}

// SendRecap delivers the digest summary to the owner.
func (e *Engine) SendRecap(ctx context.Context, trigger string) error {
	if err := e.SelfText(ctx, e.digest.Summarize()); err != nil {
		return fmt.Errorf("send recap: %w", err)
	}
	e.emit(bus.EventRecapSent, map[string]any{"trigger": trigger})
	return nil
}

// Process triages one message. It never panics and never returns an
// error: every failure ends up as an Outcome and, where relevant, a digest
// entry.
func (e *Engine) Process(ctx context.Context, msg domain.InboundMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing message",
				"conversation", msg.ConversationID, "transport", msg.Transport, "panic", r)
			e.stats.failures.Add(1)
			out = Outcome{Result: digest.OutcomeFailed, Reason: fmt.Sprint("panic: ", r)}
		}
	}()

	if !e.seen.Add(msg.Key()) {
		return Outcome{Result: OutcomeDuplicate}
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = e.now()
	}
	e.stats.received.Add(1)
	e.emit(bus.EventMessageReceived, map[string]any{"transport": msg.Transport})

	out = e.process(ctx, msg)
	e.emit(bus.EventMessageTriaged, map[string]any{
		"transport": msg.Transport,
		"outcome":   string(out.Result),
		"urgent":    out.Urgent,
	})
	return out
}

func (e *Engine) process(ctx context.Context, msg domain.InboundMessage) Outcome {
	log := e.logger.With("conversation", msg.ConversationID, "transport", msg.Transport)

	if e.verifier.IsOwner(msg) {
		return e.fromOwner(ctx, msg, log)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" || text == domain.AttachmentText {
		log.Debug("attachment logged", "sender", msg.Sender())
		e.record(ctx, msg, false, digest.OutcomeAttachment)
		return Outcome{Result: digest.OutcomeAttachment}
	}

	c := e.classifier.Classify(msg, e.now())
	// Only the owner may command; from anyone else "!" is just text.
	c.Command = nil

	if c.Spam.IsSpam {
		e.policy.Decide(msg, c)
		e.stats.spam.Add(1)
		if err := e.digest.CountSpam(context.WithoutCancel(ctx)); err != nil {
			log.Warn("digest spam count failed", "err", err)
		}
		log.Info("spam filtered", "score", c.Spam.SpamScore, "legit", c.Spam.LegitScore, "tags", c.Spam.SpamTags)
		return Outcome{Result: digest.OutcomeSpam, Reason: "spam"}
	}

	// Event notices are automated; they go to the calendar, never to alerts
	// or replies.
	if c.Invite != nil || c.EventLike {
		e.policy.Decide(msg, c)
		e.addToCalendar(ctx, c.Invite, log)
		e.record(ctx, msg, false, digest.OutcomeEvent)
		return Outcome{Result: digest.OutcomeEvent, Reason: "event notice", Invite: c.Invite}
	}

	var alerted int
	if c.Urgency.Urgent {
		alerted = e.alert(ctx, msg, c.Urgency, log)
	}

	eng := e.policy.Decide(msg, c)
	out := Outcome{Level: eng.Level, Reason: eng.Reason, Urgent: c.Urgency.Urgent, Alerted: alerted}

	if eng.Level == policy.Skip {
		log.Debug("not engaging", "reason", eng.Reason)
		e.record(ctx, msg, out.Urgent, digest.OutcomeSkipped)
		out.Result = digest.OutcomeSkipped
		return out
	}
	if e.control.Paused() {
		log.Info("paused, logging only")
		e.record(ctx, msg, out.Urgent, digest.OutcomePaused)
		out.Result = digest.OutcomePaused
		return out
	}

	// Acks are canned text and cost no API call.
	var reply string
	if eng.Level == policy.Full {
		if ok, reason := e.quota.TryAcquire(); !ok {
			log.Info("quota denied", "reason", reason)
			e.stats.rateLimited.Add(1)
			e.emit(bus.EventQuotaDenied, map[string]any{"reason": string(reason)})
			e.record(ctx, msg, out.Urgent, digest.OutcomeRateLimited)
			out.Result = digest.OutcomeRateLimited
			out.Reason = string(reason)
			return out
		}
		if err := e.quota.Save(context.WithoutCancel(ctx)); err != nil {
			log.Warn("quota state not saved", "err", err)
		}
		var err error
		reply, err = e.generate(ctx, msg, c.Urgency.Urgent)
		if err != nil {
			log.Error("reply generation failed", "err", err)
			e.stats.failures.Add(1)
			e.record(ctx, msg, out.Urgent, digest.OutcomeGeneration)
			out.Result = digest.OutcomeGeneration
			out.Reason = err.Error()
			return out
		}
	} else {
		reply = policy.PickAck(e.acks, e.rnd)
	}
	out.Reply = reply

	delay := e.pacer.ComputeDelay(len([]rune(reply)), eng.Level == policy.Ack)
	log.Debug("pacing reply", "delay", delay, "level", eng.Level)
	if err := e.sleep(ctx, delay); err != nil {
		log.Info("pacing interrupted, reply dropped", "err", err)
		e.record(ctx, msg, out.Urgent, digest.OutcomeSkipped)
		out.Result = digest.OutcomeSkipped
		out.Reason = "shutdown"
		return out
	}

	var src arbiter.HistorySource
	if t, err := e.transports.Get(msg.Transport); err == nil {
		src = t
	}
	if d := e.arbiter.Arbitrate(ctx, src, msg); !d.Send {
		log.Info("owner already replied, reply dropped", "reason", d.Reason)
		e.policy.MarkAnswered(msg.ConversationKey())
		e.stats.ownerReplied.Add(1)
		e.record(ctx, msg, out.Urgent, digest.OutcomeOwnerReplied)
		out.Result = digest.OutcomeOwnerReplied
		out.Reason = d.Reason
		return out
	}
	if e.control.Paused() {
		log.Info("paused during pacing, reply dropped")
		e.record(ctx, msg, out.Urgent, digest.OutcomePaused)
		out.Result = digest.OutcomePaused
		return out
	}

	if err := e.send(ctx, msg, reply); err != nil {
		log.Error("reply send failed", "err", err)
		e.stats.failures.Add(1)
		e.record(ctx, msg, out.Urgent, digest.OutcomeFailed)
		out.Result = digest.OutcomeFailed
		out.Reason = err.Error()
		return out
	}

	e.policy.MarkAnswered(msg.ConversationKey())
	e.stats.responses.Add(1)
	if eng.Level == policy.Ack {
		e.stats.acks.Add(1)
	}
	e.emit(bus.EventReplySent, map[string]any{"transport": msg.Transport, "level": eng.Level.String()})
	log.Info("reply sent", "level", eng.Level, "reply_len", len(reply))
	e.record(ctx, msg, out.Urgent, digest.OutcomeResponded)
	out.Result = digest.OutcomeResponded
	return out
}

// fromOwner handles a message the owner wrote. Commands from a control
// conversation are executed; everything else only marks the conversation
// as answered.
func (e *Engine) fromOwner(ctx context.Context, msg domain.InboundMessage, log *slog.Logger) Outcome {
	e.arbiter.Activity().Record(msg.ConversationKey(), msg.ReceivedAt)
	e.policy.MarkAnswered(msg.ConversationKey())

	cmd := classify.ParseCommand(msg.Text)
	if cmd == nil || !e.verifier.MayCommand(msg) {
		log.Debug("owner message observed")
		return Outcome{Result: OutcomeOwner}
	}
	if !e.handler.Handle(ctx, cmd) {
		log.Info("unknown command ignored", "command", cmd.Name)
		return Outcome{Result: OutcomeCommand, Reason: "unknown command"}
	}
	e.emit(bus.EventCommandExecuted, map[string]any{"command": cmd.Name})
	if cmd.Name == classify.CmdDigest {
		e.emit(bus.EventRecapSent, map[string]any{"trigger": "command"})
	}
	return Outcome{Result: OutcomeCommand, Reason: cmd.Name}
}

// alert fans an urgent message out to every notification channel. Alerts
// go out even while paused.
func (e *Engine) alert(ctx context.Context, msg domain.InboundMessage, u classify.UrgencyVerdict, log *slog.Logger) int {
	log.Info("urgent message", "confidence", u.Confidence, "reason", u.Reason)
	e.stats.urgentAlerts.Add(1)
	if e.alerts == nil {
		return 0
	}
	title, body := alertContent(msg)
	n := e.alerts.Alert(ctx, title, body)
	e.emit(bus.EventAlertSent, map[string]any{"channels": n})
	return n
}

func alertContent(msg domain.InboundMessage) (string, string) {
	quoted := `"` + truncate(msg.Text, alertPreviewLen) + `"`
	if msg.IsGroup {
		name := msg.ConversationName
		if name == "" {
			name = msg.ConversationID
		}
		return "Urgent in " + name, "From " + msg.Sender() + ": " + quoted
	}
	return "Urgent from " + msg.Sender(), quoted
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// addToCalendar writes a timed invite once per title and start. A missing
// or failing calendar only costs this invite.
func (e *Engine) addToCalendar(ctx context.Context, inv *classify.Invite, log *slog.Logger) {
	if inv == nil {
		log.Info("event notice without a time, not scheduled")
		return
	}
	if e.calendar == nil || !e.calendar.Enabled() {
		log.Info("event detected, calendar not connected", "title", inv.Title)
		return
	}

	key := inv.Key()
	e.eventsMu.Lock()
	if e.created[key] {
		e.eventsMu.Unlock()
		log.Info("event already on calendar", "title", inv.Title)
		return
	}
	e.created[key] = true
	e.eventsMu.Unlock()

	err := e.calendar.CreateEvent(ctx, domain.CalendarEvent{
		Title:  inv.Title,
		Start:  inv.Start,
		Link:   inv.Link,
		Source: inv.Source,
	})
	if err != nil {
		e.eventsMu.Lock()
		delete(e.created, key)
		e.eventsMu.Unlock()
		log.Warn("could not add event to calendar", "title", inv.Title, "err", err)
		return
	}

	e.stats.events.Add(1)
	e.emit(bus.EventCalendarCreated, map[string]any{"title": inv.Title})
	confirm := fmt.Sprintf("📅 Auto-added event:\n\n%s\n%s\n%s",
		inv.Title, inv.Start.In(e.loc).Format("Mon Jan 2, 3:04 PM"), inv.Link)
	if err := e.SelfText(ctx, strings.TrimRight(confirm, "\n")); err != nil && !errors.Is(err, errNoSelfChannel) {
		log.Warn("calendar confirmation failed", "err", err)
	}
}

func (e *Engine) generate(ctx context.Context, msg domain.InboundMessage, urgent bool) (string, error) {
	if e.generator == nil {
		return "", errors.New("no reply generator configured")
	}
	return e.generator.Generate(ctx, domain.GenerateRequest{
		ConversationID: msg.ConversationKey(),
		Sender:         msg.Sender(),
		Text:           msg.Text,
		IsGroup:        msg.IsGroup,
		Urgent:         urgent,
		Now:            e.now(),
	})
}

func (e *Engine) send(ctx context.Context, msg domain.InboundMessage, reply string) error {
	if e.throttle != nil {
		if err := e.throttle.Wait(ctx, msg.Transport); err != nil {
			return fmt.Errorf("send throttle: %w", err)
		}
	}
	return e.transports.Send(ctx, msg.Transport, msg.ConversationID, reply)
}

// record logs msg to the digest. Writes outlive a shutdown in progress.
func (e *Engine) record(ctx context.Context, msg domain.InboundMessage, urgent bool, outcome digest.Outcome) {
	err := e.digest.Record(context.WithoutCancel(ctx), digest.Entry{
		Timestamp:      msg.ReceivedAt,
		Sender:         msg.Sender(),
		Preview:        msg.Text,
		WasUrgent:      urgent,
		DidRespond:     outcome == digest.OutcomeResponded,
		ConversationID: msg.ConversationID,
		IsGroup:        msg.IsGroup,
		Outcome:        outcome,
	})
	if err != nil {
		e.logger.Warn("digest record failed", "conversation", msg.ConversationID, "err", err)
	}
}

func (e *Engine) emit(eventType string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Emit(bus.Event{Type: eventType, Source: "engine", Payload: payload, Timestamp: e.now()})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
