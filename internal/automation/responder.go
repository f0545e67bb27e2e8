// Package automation answers inbound chat messages with generated replies and
// flags threads that need a human.
package automation

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRateLimited is returned (wrapped) by responders when the upstream model
// provider throttled the request.
var ErrRateLimited = errors.New("automation: responder rate limited")

// ChatMessage is one role-tagged turn of the prompt context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is the prompt context handed to a Responder. The last message is the
// inbound text being answered.
type Request struct {
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Responder generates reply text from a conversation context.
type Responder interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req Request) (Response, error)

func (f ResponderFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// lastUserText returns the content of the final user turn.
func lastUserText(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
