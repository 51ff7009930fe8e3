// Package main is the entry point for the confirmation email worker.
//
// The worker consumes ConfirmationMessages from the confirmations SQS queue
// (EMAIL_DISPATCH_MODE=queue) and sends each through the confirmation Sender.
// Retryable provider failures are re-published with a growing delay up to
// maxAttempts; anything else is logged, counted and acknowledged.
//
// Outside Lambda (APP_ENV=local) it reads one SQS event as JSON from stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"forwardgate/internal/bootstrap"
	"forwardgate/internal/config"
	"forwardgate/internal/notifications/email"
	"forwardgate/internal/types"
)

const (
	maxAttempts = 5
	baseDelay   = 30 * time.Second
)

// ConfirmationSender is satisfied by *email.Sender.
type ConfirmationSender interface {
	Send(ctx context.Context, req types.ConfirmationRequest) (string, error)
}

// Requeuer is satisfied by *core.ConfirmationPublisher.
type Requeuer interface {
	Requeue(ctx context.Context, msg types.ConfirmationMessage, delay time.Duration) error
}

type Handler struct {
	sender   ConfirmationSender
	requeuer Requeuer
	metrics  email.FailureRecorder
	logger   types.Logger
}

// Handle processes a batch. Only messages whose retry could not be queued
// are reported back, so SQS redelivers exactly those.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range ev.Records {
		if err := h.process(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func (h *Handler) process(ctx context.Context, record events.SQSMessage) error {
	var msg types.ConfirmationMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Poison message; retrying cannot help.
		h.logger.Error("failed to unmarshal confirmation message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger := h.logger.With(
		"record_id", msg.RecordID,
		"retry_count", msg.RetryCount,
		"request_id", msg.RequestID,
	)
	if msg.RequestID != "" {
		ctx = types.WithRequestID(ctx, msg.RequestID)
	}

	id, err := h.sender.Send(ctx, msg.ConfirmationRequest)
	if err == nil {
		logger.Info("confirmation delivered", "provider_msg_id", id)
		return nil
	}

	if !email.ShouldRetry(err) || msg.RetryCount+1 >= maxAttempts {
		logger.Error("confirmation abandoned",
			"recipient", email.RedactEmail(msg.Recipient),
			"error", err,
		)
		h.metrics.RecordDispatchFailure(ctx)
		return nil
	}

	delay := retryDelay(msg.RetryCount)
	if rqErr := h.requeuer.Requeue(ctx, msg, delay); rqErr != nil {
		return fmt.Errorf("requeue after send failure (%v): %w", err, rqErr)
	}
	logger.Warn("confirmation send failed, retry scheduled", "delay", delay, "error", err)
	return nil
}

// retryDelay doubles from baseDelay per attempt. The publisher clamps it to
// the SQS maximum.
func retryDelay(retryCount int) time.Duration {
	return baseDelay << max(0, min(retryCount, 8))
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
	logger := bootstrap.NewLogger(cfg.LogLevel).With("component", "email-worker")

	ctx := context.Background()
	m, err := bootstrap.NewMessaging(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if m.Publisher == nil {
		return fmt.Errorf("SQS_CONFIRMATIONS must be set for the email worker")
	}

	h := &Handler{
		sender:   m.Sender,
		requeuer: m.Publisher,
		metrics:  m.Metrics,
		logger:   types.NewSlogLogger(logger),
	}

	if local {
		return runLocal(ctx, h, os.Stdin)
	}
	lambda.Start(h.Handle)
	return nil
}

func runLocal(ctx context.Context, h *Handler, in io.Reader) error {
	var ev events.SQSEvent
	if err := json.NewDecoder(in).Decode(&ev); err != nil {
		return fmt.Errorf("decoding SQS event from stdin: %w", err)
	}
	resp, err := h.Handle(ctx, ev)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(resp)
}
