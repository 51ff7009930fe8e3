package email

import (
	"context"

	"forwardgate/internal/external"
	"forwardgate/internal/types"
)

// Sender renders a confirmation and hands it to the provider. The API's
// AsyncDispatcher and the email worker both deliver through it.
type Sender struct {
	renderer *Renderer
	provider external.EmailProvider
	logger   types.Logger
}

func NewSender(renderer *Renderer, provider external.EmailProvider, logger types.Logger) *Sender {
	return &Sender{renderer: renderer, provider: provider, logger: logger}
}

// Send delivers one confirmation and returns the provider message id.
func (s *Sender) Send(ctx context.Context, req types.ConfirmationRequest) (string, error) {
	s.logger.Info("sending confirmation",
		"record_id", req.RecordID,
		"dest", RedactEmail(req.Recipient),
	)

	msg, err := s.renderer.Render(req)
	if err != nil {
		return "", err
	}

	id, err := s.provider.Send(ctx, msg)
	if err != nil {
		if IsBlocklistError(err) {
			s.logger.Warn("recipient blocked by provider",
				"record_id", req.RecordID,
				"dest", RedactEmail(req.Recipient),
			)
		}
		return "", err
	}
	return id, nil
}
