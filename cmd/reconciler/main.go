// Package main is the scheduled channel reconciler.
//
// An EventBridge schedule invokes it periodically. Each run walks every
// channel and re-applies the gate, which repairs channels a crashed decision
// fan-out left behind. Outside Lambda (APP_ENV=local) it runs one pass and
// prints the report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"forwardgate/internal/bootstrap"
	"forwardgate/internal/config"
	"forwardgate/internal/gate"
	"forwardgate/internal/types"
)

// Runner is satisfied by *gate.Reconciler.
type Runner interface {
	Run(ctx context.Context) (gate.ReconcileReport, error)
}

type Handler struct {
	runner Runner
	// flush waits for confirmations the pass dispatched. Nil skips it.
	flush  func(ctx context.Context) error
	logger types.Logger
	now    func() time.Time
}

// Handle runs one reconciliation pass and waits for the confirmations it
// dispatched, since Lambda freezes the environment once Handle returns. Any
// failure, including a single channel or an unfinished send, fails the
// invocation so the schedule's retry runs the pass again.
func (h *Handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (gate.ReconcileReport, error) {
	start := h.now()
	report, err := h.runner.Run(ctx)
	if h.flush != nil {
		if ferr := h.flush(ctx); ferr != nil {
			err = errors.Join(err, fmt.Errorf("flushing confirmations: %w", ferr))
		}
	}
	if err != nil {
		h.logger.Error("reconciliation failed",
			"event_id", ev.ID,
			"scanned", report.Scanned,
			"failed", report.Failed,
			"error", err,
		)
		return report, err
	}

	h.logger.Info("reconciliation complete",
		"event_id", ev.ID,
		"scanned", report.Scanned,
		"ready", report.Ready,
		"deferred", report.Deferred,
		"denied", report.Denied,
		"requested", report.Requested,
		"duration_ms", h.now().Sub(start).Milliseconds(),
	)
	return report, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	local := os.Getenv("APP_ENV") == "local"
	var provider config.SecretProvider
	if !local {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel).With("component", "reconciler")

	ctx := context.Background()
	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close(context.Background())

	h := &Handler{
		runner: stack.Reconciler(logger),
		flush:  stack.Flush,
		logger: types.NewSlogLogger(logger),
		now:    time.Now,
	}

	if local {
		return runOnce(ctx, h, os.Stdout)
	}
	lambda.Start(h.Handle)
	return nil
}

func runOnce(ctx context.Context, h *Handler, out io.Writer) error {
	report, err := h.Handle(ctx, events.CloudWatchEvent{ID: "local", Time: h.now()})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
