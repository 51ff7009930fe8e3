// Package core holds the notification plumbing shared by the API and the
// email worker: the confirmation queue publisher and consent metrics.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"forwardgate/internal/types"
)

// maxSQSDelay is the largest DelaySeconds SQS accepts.
const maxSQSDelay = 900 * time.Second

// SQSSender is the SendMessage subset of *sqs.Client.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ConfirmationPublisher writes ConfirmationMessages to the confirmation queue.
type ConfirmationPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

func NewConfirmationPublisher(client SQSSender, queueURL string, logger types.Logger) *ConfirmationPublisher {
	return &ConfirmationPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishConfirmation enqueues a first delivery attempt.
func (p *ConfirmationPublisher) PublishConfirmation(ctx context.Context, msg types.ConfirmationMessage) error {
	return p.send(ctx, msg, 0)
}

// Requeue schedules another attempt after delay, clamped to the SQS maximum.
// RetryCount is incremented before the message is serialized so the next
// consumer sees the attempt number.
func (p *ConfirmationPublisher) Requeue(ctx context.Context, msg types.ConfirmationMessage, delay time.Duration) error {
	msg.RetryCount++
	return p.send(ctx, msg, delay)
}

func (p *ConfirmationPublisher) send(ctx context.Context, msg types.ConfirmationMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode confirmation message", err)
	}

	delay = min(max(delay, 0), maxSQSDelay)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to enqueue confirmation %s", msg.RecordID), err)
	}

	p.logger.Info("confirmation enqueued",
		"record_id", msg.RecordID,
		"retry_count", msg.RetryCount,
		"delay_seconds", int(delay/time.Second),
		"request_id", msg.RequestID,
	)
	return nil
}
