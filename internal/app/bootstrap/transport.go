package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/wolfman30/chatlink/internal/config"
	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/internal/transport/memtransport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// BuildTransportFactory selects how live sessions are opened: an in-memory network
// for local runs, or the protocol sidecar.
func BuildTransportFactory(cfg *appconfig.Config, logger *logging.Logger) (transport.Factory, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.Transport {
	case "", "memory":
		return memtransport.NewNetwork(), "memory", nil
	case "sidecar":
		factory, err := transport.NewSidecarFactory(transport.SidecarConfig{
			BaseURL:        cfg.TransportSidecarURL,
			RequestTimeout: cfg.ConnectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: sidecar transport: %w", err)
		}
		return factory, "sidecar", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown transport %q", cfg.Transport)
	}
}

// BuildSessionStore selects where auth material lives. awsCfg is only read for s3.
func BuildSessionStore(cfg *appconfig.Config, awsCfg *aws.Config) (connection.SessionStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.SessionStore {
	case "", "file":
		return connection.NewFileSessionStore(cfg.SessionDir)
	case "s3":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: s3 session store needs aws config")
		}
		client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
		})
		return connection.NewS3SessionStore(client, cfg.SessionBucket, cfg.SessionPrefix)
	default:
		return nil, fmt.Errorf("bootstrap: unknown session store %q", cfg.SessionStore)
	}
}
