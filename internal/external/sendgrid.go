package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"forwardgate/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

type SendGridClientConfig struct {
	APIKey string
	// BaseURL overrides the API host, mostly for tests.
	BaseURL string
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider against the v3 mail/send endpoint
// with inline content.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient builds a client with its own breaker. Pass base to share
// or customise the transport; nil builds the default.
func NewSendGridClient(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	if base == nil {
		base = NewBaseClient(BaseClientConfig{
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
			Name:       "sendgrid",
			Retry:      DefaultRetryPolicy(),
			UserAgent:  "forwardgate/1.0",
		})
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

// buildMailPayload maps SendInput onto the mail/send body. SendGrid requires
// text/plain to precede text/html.
func buildMailPayload(in types.SendInput) sendGridMailPayload {
	p := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: in.To}}}},
		From:             sendGridAddress{Email: in.From.Address, Name: in.From.Name},
		Subject:          in.Subject,
	}
	if in.ReplyTo != "" {
		p.ReplyTo = &sendGridAddress{Email: in.ReplyTo}
	}
	if in.BodyText != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/plain", Value: in.BodyText})
	}
	if in.BodyHTML != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: in.BodyHTML})
	}
	if in.ReferenceID != "" {
		p.CustomArgs = map[string]string{"reference_id": in.ReferenceID}
	}
	return p
}

// Send posts the message. 202 is success and the X-Message-Id header is the
// returned id. 403 means the recipient is suppressed (ErrCodeEmailBlocked);
// other 4xx map to ErrCodeUpstreamEmailProvider.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	if input.BodyText == "" && input.BodyHTML == "" {
		return "", types.NewAppError(types.ErrCodeValidationMissingField, "email has no body", nil)
	}

	body, err := json.Marshal(buildMailPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode sendgrid payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build sendgrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.errorFromResponse(resp)
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) errorFromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var parsed sendGridErrorResponse
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		msg = parsed.Errors[0].Message
	}

	s.logger.Warn("sendgrid rejected message", "status", resp.StatusCode, "message", msg)

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeEmailBlocked, "sendgrid blocked delivery: "+msg, nil)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("sendgrid error (%d): %s", resp.StatusCode, msg), nil)
}

var _ EmailProvider = (*SendGridClient)(nil)
