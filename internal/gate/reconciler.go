package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"forwardgate/internal/types"
)

const (
	DefaultReconcileBatchSize   = 200
	DefaultReconcileConcurrency = 8
)

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Ready    int `json:"ready"`
	Deferred int `json:"deferred"`
	Denied   int `json:"denied"`
	// Requested counts confirmations opened because a channel had no record.
	Requested int `json:"requested"`
	Failed    int `json:"failed"`
}

func (r *ReconcileReport) add(outcome types.GateOutcome, requested bool, err error) {
	r.Scanned++
	if requested {
		r.Requested++
	}
	if err != nil {
		r.Failed++
		return
	}
	switch outcome {
	case types.OutcomeReady:
		r.Ready++
	case types.OutcomeDenied:
		r.Denied++
	default:
		r.Deferred++
	}
}

type ReconcilerConfig struct {
	Gate        *Gate
	Channels    types.ChannelRepository
	BatchSize   int
	Concurrency int
	Logger      types.Logger
}

// Reconciler walks every channel and re-runs the gate on it. It repairs
// channels left behind by an interrupted decision fan-out and is safe to run
// any number of times.
type Reconciler struct {
	gate        *Gate
	channels    types.ChannelRepository
	batchSize   int
	concurrency int
	logger      types.Logger
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReconcileBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultReconcileConcurrency
	}
	return &Reconciler{
		gate:        cfg.Gate,
		channels:    cfg.Channels,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run performs one full pass. A failure to list channels aborts the pass;
// per-channel failures are counted, logged and returned joined once the pass
// finishes.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var (
		report ReconcileReport
		mu     sync.Mutex
		errs   []error
		after  string
	)

	for {
		page, err := r.channels.List(ctx, after, r.batchSize)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for i := range page {
			ch := page[i]
			g.Go(func() error {
				outcome, requested, err := r.gate.reconcileChannel(gCtx, &ch)

				mu.Lock()
				defer mu.Unlock()
				report.add(outcome, requested, err)
				if err != nil {
					errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID, err))
				}
				// Per-channel failures must not cancel the rest of the page.
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return report, err
		}
		after = page[len(page)-1].ID
		if len(page) < r.batchSize {
			break
		}
	}

	r.logger.Info("reconciliation pass complete",
		"scanned", report.Scanned,
		"ready", report.Ready,
		"deferred", report.Deferred,
		"denied", report.Denied,
		"requested", report.Requested,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}
