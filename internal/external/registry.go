package external

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"forwardgate/internal/config"
)

// NewEmailProvider builds the provider named by EMAIL_PROVIDER. awsCfg is
// only read for ses.
func NewEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (EmailProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case config.ProviderStub, "":
		return NewStubEmailProvider(logger.With("client", "stub")), nil
	case config.ProviderSendGrid:
		base := NewBaseClient(BaseClientConfig{
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
			Name:       "sendgrid",
			Retry:      DefaultRetryPolicy(),
			UserAgent:  "forwardgate/1.0",
		})
		return NewSendGridClient(base, SendGridClientConfig{
			APIKey: cfg.SendGridAPIKey.Unmask(),
			Logger: logger.With("client", "sendgrid"),
		}), nil
	case config.ProviderSES:
		return NewSESClient(sesv2.NewFromConfig(awsCfg), SESClientConfig{
			ConfigSetName: cfg.SESConfigSet,
			Logger:        logger.With("client", "ses"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
