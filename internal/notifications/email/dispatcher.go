package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"forwardgate/internal/consent"
	"forwardgate/internal/types"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// FailureRecorder counts confirmations that never reached the provider.
type FailureRecorder interface {
	RecordDispatchFailure(ctx context.Context)
}

type AsyncDispatcherConfig struct {
	Sender *Sender
	// Timeout bounds each send. Zero means 10 seconds.
	Timeout time.Duration
	Metrics FailureRecorder
	Logger  types.Logger
}

// AsyncDispatcher sends confirmations on a goroutine so channel setup never
// waits on the provider. Sends are tried once; failures are logged.
type AsyncDispatcher struct {
	sender  *Sender
	timeout time.Duration
	metrics FailureRecorder
	logger  types.Logger

	mu      sync.Mutex
	closed  bool
	pending int
	// idle is closed whenever pending is zero.
	idle chan struct{}
}

func NewAsyncDispatcher(cfg AsyncDispatcherConfig) *AsyncDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	return &AsyncDispatcher{
		sender:  cfg.Sender,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		idle:    idle,
	}
}

// Dispatch starts the send and returns at once. The send outlives ctx's
// cancellation but keeps its values (request id).
func (d *AsyncDispatcher) Dispatch(ctx context.Context, req types.ConfirmationRequest) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	go func() {
		defer d.done()
		defer cancel()

		id, err := d.sender.Send(sendCtx, req)
		if err != nil {
			if d.metrics != nil {
				d.metrics.RecordDispatchFailure(sendCtx)
			}
			d.logger.Error("confirmation send failed",
				"record_id", req.RecordID,
				"error", err,
			)
			return
		}
		d.logger.Info("confirmation sent", "record_id", req.RecordID, "provider_msg_id", id)
	}()
	return nil
}

func (d *AsyncDispatcher) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

// Flush waits until every send started so far has finished, or ctx ends.
// The dispatcher stays open. Short-lived runtimes such as Lambda call it
// before returning, since a frozen environment never completes the sends.
func (d *AsyncDispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	idle, pending := d.idle, d.pending
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		d.logger.Error("confirmation sends still in flight", "pending", pending, "error", ctx.Err())
		return ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight sends or ctx.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Flush(ctx)
}

// Publisher enqueues confirmation messages for the email worker.
type Publisher interface {
	PublishConfirmation(ctx context.Context, msg types.ConfirmationMessage) error
}

// QueueDispatcher hands confirmations to the email worker through a queue.
// A publish failure is returned to the ledger, which logs it.
type QueueDispatcher struct {
	publisher Publisher
}

func NewQueueDispatcher(p Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: p}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req types.ConfirmationRequest) error {
	return d.publisher.PublishConfirmation(ctx, types.ConfirmationMessage{
		ConfirmationRequest: req,
		RequestID:           types.GetRequestID(ctx),
	})
}

var (
	_ consent.Dispatcher = (*AsyncDispatcher)(nil)
	_ consent.Dispatcher = (*QueueDispatcher)(nil)
)
