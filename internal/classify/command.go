package classify

import "strings"

// Remote command names accepted from the owner.
const (
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdStatus = "status"
	CmdDigest = "digest"
	CmdHelp   = "help"
)

// Commands lists the vocabulary with a one-line description, in help order.
var Commands = []struct {
	Name        string
	Description string
}{
	{CmdPause, "Pause AI responses"},
	{CmdResume, "Resume AI responses"},
	{CmdStatus, "Get current status"},
	{CmdDigest, "Send immediate recap"},
	{CmdHelp, "List commands"},
}

type Command struct {
	Name  string // lower-cased word after "!"
	Args  string
	Known bool
}

// ParseCommand returns nil unless text starts with "!".
func ParseCommand(text string) *Command {
	t := strings.ToLower(strings.TrimSpace(text))
	if !strings.HasPrefix(t, "!") {
		return nil
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(t, "!"), " ")
	cmd := &Command{Name: name, Args: strings.TrimSpace(args)}
	for _, c := range Commands {
		if c.Name == name {
			cmd.Known = true
			break
		}
	}
	return cmd
}
