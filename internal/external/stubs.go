package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"forwardgate/internal/types"
)

// StubEmailProvider logs and keeps every message instead of sending it. It
// serves EMAIL_PROVIDER=stub for local runs.
type StubEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
}

func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.mu.Lock()
	s.sent = append(s.sent, input)
	n := len(s.sent)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "stub: email not sent",
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%d", n), nil
}

// Sent returns a copy of every message passed to Send.
func (s *StubEmailProvider) Sent() []types.SendInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SendInput(nil), s.sent...)
}

var _ EmailProvider = (*StubEmailProvider)(nil)
