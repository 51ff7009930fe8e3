package email

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"forwardgate/internal/types"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockLogger) log(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockLogger) Info(msg string, args ...any)  { m.log(msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.log(msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.log(msg) }
func (m *mockLogger) With(args ...any) types.Logger { return m }

func (m *mockLogger) has(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.messages {
		if e == msg {
			return true
		}
	}
	return false
}

type failureCounter struct {
	mu sync.Mutex
	n  int
}

func (f *failureCounter) RecordDispatchFailure(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
}

var confirmReq = types.ConfirmationRequest{RecordID: "vr_1", Recipient: "bob@example.com", SenderID: "alice", Nonce: "n"}

type ctxKey struct{}

func TestAsyncDispatcher_SendsDetachedFromCaller(t *testing.T) {
	p := &mockProvider{}
	logger := &mockLogger{}
	type observed struct {
		err         error
		value       any
		hasDeadline bool
	}
	sent := make(chan observed, 1)
	p.On("Send", mock.Anything, mock.MatchedBy(func(in types.SendInput) bool {
		return in.To == "bob@example.com" && in.Subject == "alice wants to connect!"
	})).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		sent <- observed{err: ctx.Err(), value: ctx.Value(ctxKey{}), hasDeadline: ok}
	}).Return("msg_1", nil)

	d := NewAsyncDispatcher(AsyncDispatcherConfig{
		Sender: NewSender(newTestRenderer(t), p, logger),
		Logger: logger,
	})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	require.NoError(t, d.Dispatch(ctx, confirmReq))
	cancel()

	require.NoError(t, d.Close(context.Background()))
	got := <-sent
	assert.NoError(t, got.err, "caller cancellation must not reach the send")
	assert.Equal(t, "v", got.value)
	assert.True(t, got.hasDeadline)
	assert.True(t, logger.has("confirmation sent"))
}

func TestAsyncDispatcher_FailureIsLoggedAndCounted(t *testing.T) {
	p := &mockProvider{}
	p.On("Send", mock.Anything, mock.Anything).Return("", errors.New("smtp down")).Once()
	logger := &mockLogger{}
	failures := &failureCounter{}

	d := NewAsyncDispatcher(AsyncDispatcherConfig{
		Sender:  NewSender(newTestRenderer(t), p, logger),
		Metrics: failures,
		Logger:  logger,
	})
	require.NoError(t, d.Dispatch(context.Background(), confirmReq))
	require.NoError(t, d.Close(context.Background()))

	assert.True(t, logger.has("confirmation send failed"))
	assert.Equal(t, 1, failures.n)
	p.AssertNumberOfCalls(t, "Send", 1)
}

func TestAsyncDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewAsyncDispatcher(AsyncDispatcherConfig{Logger: &mockLogger{}})
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), confirmReq), ErrDispatcherClosed)
}

func TestAsyncDispatcher_CloseHonoursContext(t *testing.T) {
	p := &mockProvider{}
	release := make(chan struct{})
	p.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return("msg", nil)
	logger := &mockLogger{}

	d := NewAsyncDispatcher(AsyncDispatcherConfig{Sender: NewSender(newTestRenderer(t), p, logger), Logger: logger})
	require.NoError(t, d.Dispatch(context.Background(), confirmReq))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestAsyncDispatcher_FlushWaitsWithoutClosing(t *testing.T) {
	p := &mockProvider{}
	release := make(chan struct{})
	p.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).Return("msg", nil)
	logger := &mockLogger{}

	d := NewAsyncDispatcher(AsyncDispatcherConfig{Sender: NewSender(newTestRenderer(t), p, logger), Logger: logger})
	require.NoError(t, d.Flush(context.Background()), "idle dispatcher flushes at once")
	require.NoError(t, d.Dispatch(context.Background(), confirmReq))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Flush(ctx), context.DeadlineExceeded)
	assert.True(t, logger.has("confirmation sends still in flight"))

	close(release)
	require.NoError(t, d.Flush(context.Background()))
	assert.True(t, logger.has("confirmation sent"), "send finished before Flush returned")

	require.NoError(t, d.Dispatch(context.Background(), confirmReq), "still open after Flush")
	require.NoError(t, d.Close(context.Background()))
	p.AssertNumberOfCalls(t, "Send", 2)
}

type recordingPublisher struct {
	msgs []types.ConfirmationMessage
	err  error
}

func (r *recordingPublisher) PublishConfirmation(_ context.Context, msg types.ConfirmationMessage) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestQueueDispatcher(t *testing.T) {
	pub := &recordingPublisher{}
	ctx := types.WithRequestID(context.Background(), "req_9")

	require.NoError(t, NewQueueDispatcher(pub).Dispatch(ctx, confirmReq))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, confirmReq, pub.msgs[0].ConfirmationRequest)
	assert.Equal(t, "req_9", pub.msgs[0].RequestID)

	pub.err = errors.New("queue down")
	assert.Error(t, NewQueueDispatcher(pub).Dispatch(ctx, confirmReq))
}

func TestSender_BlockedRecipient(t *testing.T) {
	p := &mockProvider{}
	p.On("Send", mock.Anything, mock.Anything).Return("", types.NewAppError(types.ErrCodeEmailBlocked, "suppressed", nil))
	logger := &mockLogger{}

	_, err := NewSender(newTestRenderer(t), p, logger).Send(context.Background(), confirmReq)
	assert.True(t, IsBlocklistError(err))
	assert.True(t, logger.has("recipient blocked by provider"))
}
