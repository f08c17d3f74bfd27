package domain

import "time"

// InboundMessage is one message delivered by a transport. It is never
// mutated after the transport publishes it.
type InboundMessage struct {
	ID               string
	Transport        string
	ConversationID   string
	ConversationName string // group title when known, used for priority-group matching
	SenderID         string
	SenderName       string
	Text             string
	IsGroup          bool
	ReceivedAt       time.Time
	IsFromOwner      bool
}

// ConversationKey identifies the conversation across transports. Per-
// conversation state is keyed by it, since ids are only unique per transport.
func (m InboundMessage) ConversationKey() string {
	return m.Transport + "/" + m.ConversationID
}

// Key identifies a message across transports for dedup.
func (m InboundMessage) Key() string {
	return m.Transport + "/" + m.ID
}

// Sender returns the best display name for the author.
func (m InboundMessage) Sender() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

// AttachmentText stands in for the text of a message that only carries media.
const AttachmentText = "[Attachment]"

// ObservedMessage is a history entry returned by MessagesSince.
type ObservedMessage struct {
	AuthorIsOwner bool
	Timestamp     time.Time
}
