package external

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"forwardgate/internal/types"
)

// SESAPI is the subset of the SES v2 client SESClient calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESClientConfig struct {
	// ConfigSetName attaches an SES configuration set when non-empty.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient implements EmailProvider with SES v2 simple content. The SDK
// retries on its own, so it does not go through BaseClient.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

func NewSESClient(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: cfg.ConfigSetName, logger: logger}
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	from := input.From.Address
	if input.From.Name != "" {
		from = input.From.Name + " <" + input.From.Address + ">"
	}

	body := &sestypes.Body{}
	if input.BodyHTML != "" {
		body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		body.Text = utf8Content(input.BodyText)
	}

	params := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{Subject: utf8Content(input.Subject), Body: body},
		},
	}
	if input.ReplyTo != "" {
		params.ReplyToAddresses = []string{input.ReplyTo}
	}
	if s.configSetName != "" {
		params.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		params.EmailTags = []sestypes.MessageTag{{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, params)
	if err != nil {
		s.logger.WarnContext(ctx, "ses send failed", "reference_id", input.ReferenceID, "error", err)
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSESError(err error) error {
	var (
		rejected *sestypes.MessageRejected
		throttle *sestypes.TooManyRequestsException
		paused   *sestypes.SendingPausedException
	)
	switch {
	case errors.As(err, &rejected):
		return types.NewAppError(types.ErrCodeEmailBlocked, "ses rejected message", err)
	case errors.As(err, &throttle):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "ses rate limit exceeded", err)
	case errors.As(err, &paused):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "ses sending paused", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "ses error", err)
	}
}

var _ EmailProvider = (*SESClient)(nil)
