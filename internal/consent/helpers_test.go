package consent

import (
	"context"
	"errors"
	"sync"

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

func (m *mockLogger) has(entry string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.messages {
		if e == entry {
			return true
		}
	}
	return false
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []types.ConfirmationRequest
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req types.ConfirmationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	return d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type countingMetrics struct {
	mu               sync.Mutex
	resolutions      map[types.EffectiveMode]int
	decisions        map[types.ConsentMode]int
	dispatchFailures int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		resolutions: make(map[types.EffectiveMode]int),
		decisions:   make(map[types.ConsentMode]int),
	}
}

func (c *countingMetrics) RecordResolution(_ context.Context, mode types.EffectiveMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolutions[mode]++
}

func (c *countingMetrics) RecordDecision(_ context.Context, d types.ConsentMode, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[d]++
}

func (c *countingMetrics) RecordDispatchFailure(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchFailures++
}

// failingVerifications wraps a repository and fails the chosen operation.
type failingVerifications struct {
	types.VerificationRepository
	failList   bool
	failCreate bool
	failUpdate bool
}

var errStore = errors.New("store unavailable")

func (f *failingVerifications) ListByRecipient(ctx context.Context, r string) ([]types.VerificationRecord, error) {
	if f.failList {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list verifications", errStore)
	}
	return f.VerificationRepository.ListByRecipient(ctx, r)
}

func (f *failingVerifications) Create(ctx context.Context, rec *types.VerificationRecord) error {
	if f.failCreate {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create verification", errStore)
	}
	return f.VerificationRepository.Create(ctx, rec)
}

func (f *failingVerifications) UpdateMode(ctx context.Context, id string, from, to types.ConsentMode) error {
	if f.failUpdate {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update verification mode", errStore)
	}
	return f.VerificationRepository.UpdateMode(ctx, id, from, to)
}

type failingRegistry struct {
	types.RepositoryRegistry
	verifications *failingVerifications
}

func (f failingRegistry) Verifications() types.VerificationRepository { return f.verifications }

// failingTx runs fn against the wrapped transaction manager with the
// verification repository swapped for a failing one.
type failingTx struct {
	inner types.TransactionManager
	fail  failingVerifications
}

func (f *failingTx) RunInTx(ctx context.Context, key string, fn func(context.Context, types.RepositoryRegistry) error) error {
	return f.inner.RunInTx(ctx, key, func(ctx context.Context, repos types.RepositoryRegistry) error {
		v := f.fail
		v.VerificationRepository = repos.Verifications()
		return fn(ctx, failingRegistry{RepositoryRegistry: repos, verifications: &v})
	})
}
