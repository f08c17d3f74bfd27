package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"standin/internal/domain"
)

// CLIOwnerID is the sender id of "/owner" lines.
const CLIOwnerID = "owner"

const (
	cliDirectConversation = "direct"
	cliDefaultSender      = "friend"
)

// CLI simulates a messaging network on the terminal. Plain lines arrive as
// a direct message from a friend; prefixes change who speaks and where:
//
//	/owner <text>            the owner speaks in the current conversation
//	/from <name>: <text>     a direct message from name
//	/group <name>: <text>    a message in group name (sender "member")
//	/group <name> <sender>: <text>
//	/quit
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	persona string
	now     func() time.Time

	mu      sync.Mutex
	seq     int
	current string // conversation the last non-owner line went to
	history *historyLog
}

type CLIConfig struct {
	Persona string
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Now     func() time.Time
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Persona == "" {
		cfg.Persona = "standin"
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		persona: cfg.Persona,
		now:     cfg.Now,
		current: cliDirectConversation,
		history: newHistoryLog(0),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start reads stdin until EOF, /quit or ctx cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	_, _ = fmt.Fprintln(c.out, "standin simulator. /owner, /from <name>:, /group <name>: prefixes. /quit to exit.")

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			bus.Publish(c.Parse(line))
		}
	}
}

// Parse turns one simulator line into an inbound message and records it.
func (c *CLI) Parse(line string) domain.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	msg := domain.InboundMessage{
		ID:             strconv.Itoa(c.seq),
		Transport:      c.Name(),
		ConversationID: cliDirectConversation,
		SenderID:       cliDefaultSender,
		SenderName:     "Friend",
		Text:           line,
		ReceivedAt:     c.now(),
	}

	switch {
	case strings.HasPrefix(line, "/owner "):
		msg.ConversationID = c.current
		msg.IsGroup = strings.HasPrefix(c.current, "group:")
		if msg.IsGroup {
			msg.ConversationName = strings.TrimPrefix(c.current, "group:")
		}
		msg.SenderID = CLIOwnerID
		msg.SenderName = "Owner"
		msg.IsFromOwner = true
		msg.Text = strings.TrimSpace(strings.TrimPrefix(line, "/owner "))

	case strings.HasPrefix(line, "/from "):
		if name, text, ok := strings.Cut(strings.TrimPrefix(line, "/from "), ":"); ok {
			name = strings.TrimSpace(name)
			msg.ConversationID = "dm:" + strings.ToLower(name)
			msg.SenderID = strings.ToLower(name)
			msg.SenderName = name
			msg.Text = strings.TrimSpace(text)
		}
		c.current = msg.ConversationID

	case strings.HasPrefix(line, "/group "):
		if head, text, ok := strings.Cut(strings.TrimPrefix(line, "/group "), ":"); ok {
			group, sender, _ := strings.Cut(strings.TrimSpace(head), " ")
			if sender = strings.TrimSpace(sender); sender == "" {
				sender = "member"
			}
			msg.ConversationID = "group:" + group
			msg.ConversationName = group
			msg.SenderID = strings.ToLower(sender)
			msg.SenderName = sender
			msg.IsGroup = true
			msg.Text = strings.TrimSpace(text)
		}
		c.current = msg.ConversationID

	default:
		c.current = msg.ConversationID
	}

	c.history.record(msg.ConversationID, domain.ObservedMessage{
		AuthorIsOwner: msg.IsFromOwner,
		Timestamp:     msg.ReceivedAt,
	})
	return msg
}

func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, conversationID string, content string) error {
	_, err := fmt.Fprintf(c.out, "[%s → %s] %s\n", c.persona, conversationID, content)
	return err
}

func (c *CLI) MessagesSince(_ context.Context, conversationID string, since time.Time) ([]domain.ObservedMessage, error) {
	return c.history.since(conversationID, since), nil
}
