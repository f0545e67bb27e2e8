package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/chatlink/internal/config"
	"github.com/wolfman30/chatlink/internal/notify"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// BuildEmailSender prefers SendGrid, then SES, and falls back to a logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	logger = logging.OrDefault(logger)
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		return sender, "sendgrid"
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" && awsCfg != nil {
		sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender != nil {
			return sender, "ses"
		}
	}
	return notify.NewStubEmailSender(logger), "stub"
}
