package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"standin/internal/classify"
)

// Status is the counter set rendered by !status.
type Status struct {
	APICalls        int
	APILimit        int
	Responses       int
	UrgentAlerts    int
	Pending         int
	CalendarEnabled bool
}

// CommandResult holds the reply for a handled command.
type CommandResult struct {
	Response string
	Handled  bool
}

type HandlerConfig struct {
	State    *State
	Status   func() Status
	Summary  func() string
	Reply    func(ctx context.Context, text string) error
	Location *time.Location
	Logger   *slog.Logger
}

type Handler struct {
	state   *State
	status  func() Status
	summary func() string
	reply   func(ctx context.Context, text string) error
	loc     *time.Location
	logger  *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.State == nil {
		cfg.State = NewState(nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Status == nil {
		cfg.Status = func() Status { return Status{} }
	}
	if cfg.Summary == nil {
		cfg.Summary = func() string { return "" }
	}
	return &Handler{
		state:   cfg.State,
		status:  cfg.Status,
		summary: cfg.Summary,
		reply:   cfg.Reply,
		loc:     cfg.Location,
		logger:  cfg.Logger,
	}
}

func (h *Handler) State() *State { return h.state }

// Handle executes cmd and sends the reply to the owner. It reports whether
// the command was recognized.
func (h *Handler) Handle(ctx context.Context, cmd *classify.Command) bool {
	res := h.Execute(cmd)
	if !res.Handled {
		return false
	}
	h.logger.Info("remote command", "command", cmd.Name)
	if h.reply != nil {
		if err := h.reply(ctx, res.Response); err != nil {
			h.logger.Warn("command reply failed", "command", cmd.Name, "err", err)
		}
	}
	return true
}

// Execute applies cmd and returns the reply text without sending it.
func (h *Handler) Execute(cmd *classify.Command) CommandResult {
	if cmd == nil || !cmd.Known {
		return CommandResult{}
	}
	switch cmd.Name {
	case classify.CmdPause:
		if !h.state.Pause() {
			return CommandResult{Response: "⏸️ Already paused", Handled: true}
		}
		return CommandResult{Response: "⏸️ Bot PAUSED\n\nAI responses disabled.\nMessages still being logged.\n\nText \"!resume\" to restart.", Handled: true}

	case classify.CmdResume:
		changed, d := h.state.Resume()
		if !changed {
			return CommandResult{Response: "▶️ Already running", Handled: true}
		}
		return CommandResult{
			Response: fmt.Sprintf("▶️ Bot RESUMED\n\nPaused for %d min.\nAI responses re-enabled.", int(d.Round(time.Minute)/time.Minute)),
			Handled:  true,
		}

	case classify.CmdStatus:
		return CommandResult{Response: h.statusText(), Handled: true}

	case classify.CmdDigest:
		return CommandResult{Response: h.summary(), Handled: true}

	case classify.CmdHelp:
		return CommandResult{Response: helpText(), Handled: true}
	}
	return CommandResult{}
}

func (h *Handler) statusText() string {
	st := h.status()
	paused, since := h.state.Snapshot()

	var b strings.Builder
	if paused {
		b.WriteString("⏸️ PAUSED\n")
	} else {
		b.WriteString("🟢 ACTIVE\n")
	}
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "📊 API calls: %d/%d\n", st.APICalls, st.APILimit)
	fmt.Fprintf(&b, "💬 Responses: %d\n", st.Responses)
	fmt.Fprintf(&b, "🚨 Urgent alerts: %d\n", st.UrgentAlerts)
	fmt.Fprintf(&b, "⏳ Awaiting reply: %d\n", st.Pending)
	cal := "❌"
	if st.CalendarEnabled {
		cal = "✅"
	}
	fmt.Fprintf(&b, "📅 Calendar: %s", cal)
	if paused {
		fmt.Fprintf(&b, "\nPaused since: %s", since.In(h.loc).Format("3:04:05 PM"))
	}
	return b.String()
}

func helpText() string {
	var b strings.Builder
	b.WriteString("🤖 Remote Commands:\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, c := range classify.Commands {
		fmt.Fprintf(&b, "!%s - %s\n", c.Name, c.Description)
	}
	return b.String()
}
