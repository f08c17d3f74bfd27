package control

import (
	"strings"

	"standin/internal/domain"
)

// Verifier decides whether a message really comes from the owner and may
// carry commands.
type Verifier struct {
	owners   map[string]map[string]bool // transport -> sender ids
	controls map[string]bool            // "transport/conversation"
}

// NewVerifier takes owner sender ids per transport and optional control
// conversations ("transport/conversationID"). With no control
// conversations configured, any owner conversation may carry commands.
func NewVerifier(owners map[string][]string, controlConversations []string) *Verifier {
	v := &Verifier{owners: make(map[string]map[string]bool), controls: make(map[string]bool)}
	for transport, ids := range owners {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				set[id] = true
			}
		}
		v.owners[transport] = set
	}
	for _, c := range controlConversations {
		if c = strings.TrimSpace(c); c != "" {
			v.controls[c] = true
		}
	}
	return v
}

// IsOwner trusts the transport's own flag or a configured sender id.
func (v *Verifier) IsOwner(msg domain.InboundMessage) bool {
	if msg.IsFromOwner {
		return true
	}
	return v.owners[msg.Transport][msg.SenderID]
}

// OwnerIDs returns the configured owner ids for a transport.
func (v *Verifier) OwnerIDs(transport string) map[string]bool {
	return v.owners[transport]
}

// MayCommand reports whether msg is an owner message from a control channel.
func (v *Verifier) MayCommand(msg domain.InboundMessage) bool {
	if !v.IsOwner(msg) {
		return false
	}
	if len(v.controls) == 0 {
		return true
	}
	return v.controls[msg.Transport+"/"+msg.ConversationID]
}
