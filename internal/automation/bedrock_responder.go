package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockResponder generates replies with the Bedrock Converse API.
type BedrockResponder struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockResponder(api bedrockConverseAPI, modelID string) *BedrockResponder {
	if api == nil {
		panic("automation: bedrock converse client cannot be nil")
	}
	return &BedrockResponder{api: api, modelID: strings.TrimSpace(modelID)}
}

func (r *BedrockResponder) Generate(ctx context.Context, req Request) (Response, error) {
	if r.modelID == "" {
		return Response{}, errors.New("automation: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		var role brtypes.ConversationRole
		switch msg.Role {
		case RoleSystem:
			systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
			continue
		case RoleUser:
			role = brtypes.ConversationRoleUser
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return Response{}, fmt.Errorf("automation: unsupported role %q", msg.Role)
		}
		// Converse rejects consecutive turns with the same role.
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, &brtypes.ContentBlockMemberText{Value: content})
			continue
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}
	// The first turn must come from the user.
	for len(messages) > 0 && messages[0].Role != brtypes.ConversationRoleUser {
		messages = messages[1:]
	}
	if len(messages) == 0 {
		return Response{}, errors.New("automation: bedrock request has no user message")
	}

	var inference *brtypes.InferenceConfiguration
	if req.MaxTokens > 0 || req.Temperature > 0 {
		inference = &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(req.MaxTokens)
		}
		if req.Temperature > 0 {
			inference.Temperature = aws.Float32(req.Temperature)
		}
	}

	out, err := r.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(r.modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	})
	if err != nil {
		var throttled *brtypes.ThrottlingException
		var quota *brtypes.ServiceQuotaExceededException
		if errors.As(err, &throttled) || errors.As(err, &quota) {
			return Response{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return Response{}, fmt.Errorf("automation: bedrock converse: %w", err)
	}

	text, err := bedrockOutputText(out)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Text: strings.TrimSpace(text), StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("automation: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("automation: bedrock response did not include a message output")
	}
	var b strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(textBlock.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("automation: bedrock response contained no text")
	}
	return b.String(), nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
