package automation

import (
	"strings"

	"github.com/wolfman30/chatlink/internal/messaging"
)

const defaultSystemPrompt = "You are a helpful assistant replying to customers over a chat app on behalf of a business. " +
	"Keep replies short, friendly and in the customer's language. Never invent prices, dates or policies; " +
	"if you are unsure, say a team member will follow up."

// History keeps the last n messages of window that precede current. The message
// itself and anything stamped after it are dropped.
func History(window []messaging.Message, current messaging.Message, n int) []messaging.Message {
	out := make([]messaging.Message, 0, len(window))
	for _, msg := range window {
		if msg.ID == current.ID || msg.Timestamp.After(current.Timestamp) {
			continue
		}
		out = append(out, msg)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// BuildRequest turns the conversation window into a role-tagged prompt: inbound
// messages are user turns, outbound are assistant turns, and the message being
// answered goes last. Non-text history is skipped.
func BuildRequest(systemPrompt string, window []messaging.Message, current messaging.Message) Request {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	req := Request{
		System:   []string{systemPrompt},
		Messages: make([]ChatMessage, 0, len(window)+1),
	}
	for _, msg := range window {
		if msg.ID == current.ID {
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" || msg.ContentKind == messaging.ContentUnsupported {
			continue
		}
		if msg.Direction == messaging.DirectionOutbound && msg.Status == messaging.StatusFailed {
			continue
		}
		role := RoleUser
		if msg.Direction == messaging.DirectionOutbound {
			role = RoleAssistant
		}
		req.Messages = append(req.Messages, ChatMessage{Role: role, Content: text})
	}
	req.Messages = append(req.Messages, ChatMessage{Role: RoleUser, Content: strings.TrimSpace(current.Text)})
	return req
}
