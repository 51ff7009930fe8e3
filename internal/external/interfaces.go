package external

import (
	"context"

	"forwardgate/internal/types"
)

// EmailProvider transmits a fully composed email and returns the provider's
// message id.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
