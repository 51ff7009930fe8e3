package gate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"forwardgate/internal/consent"
	"forwardgate/internal/db"
	"forwardgate/internal/types"
)

type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) log(level, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, level+":"+msg)
}

func (m *mockLogger) Info(msg string, args ...any)  { m.log("info", msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.log("error", msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.log("warn", msg) }
func (m *mockLogger) With(args ...any) types.Logger { return m }

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []types.ConfirmationRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req types.ConfirmationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *recordingDispatcher) last() types.ConfirmationRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[types.GateOutcome]int
}

func (o *outcomeCounter) RecordOutcome(_ context.Context, outcome types.GateOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[types.GateOutcome]int)
	}
	o.counts[outcome]++
}

// stack wires a real ledger and gate over one MemoryStore.
type stack struct {
	store      *db.MemoryStore
	ledger     *consent.Ledger
	gate       *Gate
	dispatcher *recordingDispatcher
	metrics    *outcomeCounter
	logger     *mockLogger
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{
		store:      db.NewMemoryStore(nil),
		dispatcher: &recordingDispatcher{},
		metrics:    &outcomeCounter{},
		logger:     &mockLogger{},
	}
	s.ledger = consent.NewLedger(consent.LedgerConfig{
		TxManager:  s.store,
		Records:    s.store.Verifications(),
		Dispatcher: s.dispatcher,
		Logger:     s.logger,
	})
	s.gate = NewGate(GateConfig{
		Ledger:   s.ledger,
		Channels: s.store.Channels(),
		Metrics:  s.metrics,
		Logger:   s.logger,
	})
	return s
}

func (s *stack) createChannel(t *testing.T, id, owner, recipient string) *types.Channel {
	t.Helper()
	ch := &types.Channel{ID: id, OwnerID: owner, OwnerName: owner, RecipientAddress: recipient}
	require.NoError(t, s.store.Channels().Create(context.Background(), ch))
	return ch
}

func (s *stack) exists(t *testing.T, id string) bool {
	t.Helper()
	_, err := s.store.Channels().Get(context.Background(), id)
	if types.IsCode(err, types.ErrCodeNotFoundChannel) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (s *stack) available(t *testing.T, id string) bool {
	t.Helper()
	ch, err := s.store.Channels().Get(context.Background(), id)
	require.NoError(t, err)
	return ch.Available
}

var errChannelStore = errors.New("channel store unavailable")

// flakyChannels fails SetAvailable and Delete for the listed ids.
type flakyChannels struct {
	types.ChannelRepository
	fail map[string]bool
}

func (f *flakyChannels) SetAvailable(ctx context.Context, id string, available bool) error {
	if f.fail[id] {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update channel", errChannelStore)
	}
	return f.ChannelRepository.SetAvailable(ctx, id, available)
}

func (f *flakyChannels) Delete(ctx context.Context, id string) error {
	if f.fail[id] {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete channel", errChannelStore)
	}
	return f.ChannelRepository.Delete(ctx, id)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, consent.ResolveRequest) (consent.Resolution, error) {
	return consent.Resolution{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list verifications", errChannelStore)
}
