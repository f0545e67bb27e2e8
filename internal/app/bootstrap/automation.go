package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/chatlink/internal/automation"
	appconfig "github.com/wolfman30/chatlink/internal/config"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// BuildResponder picks the reply generator. "auto" prefers Bedrock with Gemini as
// fallback, then whichever one is configured, then the static responder.
func BuildResponder(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (automation.Responder, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	logger = logging.OrDefault(logger)

	bedrock := func() (automation.Responder, error) {
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock responder")
		}
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: bedrock responder needs aws config")
		}
		return automation.NewBedrockResponder(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID), nil
	}
	gemini := func() (automation.Responder, error) {
		r, err := automation.NewGeminiResponder(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	switch cfg.Responder {
	case "bedrock":
		r, err := bedrock()
		return r, "bedrock", err
	case "gemini":
		r, err := gemini()
		return r, "gemini", err
	case "static":
		return automation.StaticResponder{}, "static", nil
	case "", "auto":
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown responder %q", cfg.Responder)
	}

	hasBedrock := strings.TrimSpace(cfg.BedrockModelID) != "" && awsCfg != nil
	hasGemini := strings.TrimSpace(cfg.GeminiAPIKey) != ""
	switch {
	case hasBedrock && hasGemini:
		primary, err := bedrock()
		if err != nil {
			return nil, "", err
		}
		fallback, err := gemini()
		if err != nil {
			return nil, "", err
		}
		return automation.NewFallbackResponder(primary, fallback, logger), "bedrock+gemini", nil
	case hasBedrock:
		r, err := bedrock()
		return r, "bedrock", err
	case hasGemini:
		r, err := gemini()
		return r, "gemini", err
	default:
		logger.Warn("no model credentials configured; automation uses the static responder")
		return automation.StaticResponder{}, "static", nil
	}
}

// BuildJobQueue returns the SQS queue when AUTOMATION_QUEUE_URL is set and an
// in-process queue otherwise.
func BuildJobQueue(cfg *appconfig.Config, awsCfg *aws.Config) (automation.Queue, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if strings.TrimSpace(cfg.AutomationQueueURL) == "" {
		return automation.NewMemoryQueue(256), "memory", nil
	}
	if awsCfg == nil {
		return nil, "", fmt.Errorf("bootstrap: sqs job queue needs aws config")
	}
	return automation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.AutomationQueueURL), "sqs", nil
}

// BuildDetector applies vocabulary overrides from config.
func BuildDetector(cfg *appconfig.Config, logger *logging.Logger) *automation.Detector {
	if cfg == nil {
		return automation.NewDetector(nil, nil, logger)
	}
	return automation.NewDetector(cfg.EscalateTerms, cfg.ResolvedTerms, logger)
}
