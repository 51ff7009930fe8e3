// Package forward delivers sender-composed mail over a channel once the
// recipient has consented.
package forward

import (
	"context"
	"strings"

	"forwardgate/internal/types"
)

// Gate answers whether a channel may carry mail.
type Gate interface {
	Allowed(ctx context.Context, channelID string) (bool, error)
}

// Provider is the outbound mail transport.
type Provider interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// Message is the content a sender asks to forward. It is passed through
// as-is.
type Message struct {
	Subject  string `json:"subject" validate:"required,max=998"`
	BodyText string `json:"body_text" validate:"required_without=BodyHTML"`
	BodyHTML string `json:"body_html" validate:"required_without=BodyText"`
	ReplyTo  string `json:"reply_to" validate:"omitempty,email"`
}

type ForwarderConfig struct {
	Gate     Gate
	Channels types.ChannelRepository
	Provider Provider
	// From is the envelope identity every forwarded message uses.
	From types.SenderIdentity
	// NoReply is the Reply-To used when the message sets none.
	NoReply string
	Logger  types.Logger
}

type Forwarder struct {
	gate     Gate
	channels types.ChannelRepository
	provider Provider
	from     types.SenderIdentity
	noReply  string
	logger   types.Logger
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	return &Forwarder{
		gate:     cfg.Gate,
		channels: cfg.Channels,
		provider: cfg.Provider,
		from:     cfg.From,
		noReply:  cfg.NoReply,
		logger:   cfg.Logger,
	}
}

// Send forwards msg over the channel and returns the provider message id.
// Channels that are not available yield ErrCodeConsentChannelUnavailable and
// nothing is sent.
func (f *Forwarder) Send(ctx context.Context, channelID string, msg Message) (string, error) {
	ok, err := f.gate.Allowed(ctx, channelID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", types.NewAppErrorWithDetails(types.ErrCodeConsentChannelUnavailable,
			"channel is awaiting recipient consent", nil, map[string]any{"channel_id": channelID})
	}

	ch, err := f.channels.Get(ctx, channelID)
	if err != nil {
		return "", err
	}

	from := f.from
	if ch.OwnerName != "" {
		from.Name = ch.OwnerName
	}
	replyTo := strings.TrimSpace(msg.ReplyTo)
	if replyTo == "" {
		replyTo = f.noReply
	}

	id, err := f.provider.Send(ctx, types.SendInput{
		To:          ch.RecipientAddress,
		From:        from,
		ReplyTo:     replyTo,
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		BodyHTML:    msg.BodyHTML,
		ReferenceID: ch.ID,
	})
	if err != nil {
		f.logger.Error("forward failed", "channel_id", ch.ID, "error", err)
		return "", err
	}
	f.logger.Info("message forwarded", "channel_id", ch.ID, "provider_msg_id", id)
	return id, nil
}
