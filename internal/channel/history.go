package channel

import (
	"strings"
	"sync"
	"time"

	"standin/internal/domain"
)

const defaultHistorySize = 200

// historyLog remembers recent authorship per conversation for transports
// whose API cannot list past messages.
type historyLog struct {
	mu    sync.Mutex
	size  int
	convs map[string][]domain.ObservedMessage
}

func newHistoryLog(size int) *historyLog {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &historyLog{size: size, convs: make(map[string][]domain.ObservedMessage)}
}

func (h *historyLog) record(conversationID string, m domain.ObservedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.convs[conversationID], m)
	if len(msgs) > h.size {
		msgs = msgs[len(msgs)-h.size:]
	}
	h.convs[conversationID] = msgs
}

func (h *historyLog) since(conversationID string, t time.Time) []domain.ObservedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.ObservedMessage
	for _, m := range h.convs[conversationID] {
		if !m.Timestamp.Before(t) {
			out = append(out, m)
		}
	}
	return out
}

// idSet builds a lookup of trimmed, non-empty ids.
func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return set
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

const attachmentText = domain.AttachmentText
