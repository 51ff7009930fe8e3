// Package gate keeps channel availability in line with consent. It turns the
// ledger's effective mode into a GateOutcome, enables, disables or deletes
// channels accordingly, and answers whether a channel may be used to send.
package gate

import (
	"context"
	"errors"
	"fmt"

	"forwardgate/internal/consent"
	"forwardgate/internal/types"
)

// Resolver is the part of the consent ledger the gate depends on.
type Resolver interface {
	Resolve(ctx context.Context, req consent.ResolveRequest) (consent.Resolution, error)
}

// Metrics receives one event per gate outcome.
type Metrics interface {
	RecordOutcome(ctx context.Context, outcome types.GateOutcome)
}

// FanOutResult counts what OnDecisionApplied did.
type FanOutResult struct {
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
	Deleted  int `json:"deleted"`
	// Skipped channels no longer existed.
	Skipped int `json:"skipped"`
}

type GateConfig struct {
	Ledger   Resolver
	Channels types.ChannelRepository
	Metrics  Metrics
	Logger   types.Logger
}

type Gate struct {
	ledger   Resolver
	channels types.ChannelRepository
	metrics  Metrics
	logger   types.Logger
}

// NewGate builds a gate over the ledger and channel store; nil Metrics
// record nothing.
func NewGate(cfg GateConfig) *Gate {
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Gate{
		ledger:   cfg.Ledger,
		channels: cfg.Channels,
		metrics:  m,
		logger:   cfg.Logger,
	}
}

// OnChannelSetup resolves consent for a freshly created channel and applies
// the outcome to it. A Denied channel is deleted and the returned error is an
// ErrCodeConsentRecipientUnavailable AppError pointing at the recipient field;
// the outcome is returned alongside it.
func (g *Gate) OnChannelSetup(ctx context.Context, ch *types.Channel) (types.GateOutcome, error) {
	outcome, _, err := g.reconcileChannel(ctx, ch)
	if err != nil {
		return "", err
	}
	g.metrics.RecordOutcome(ctx, outcome)

	if outcome == types.OutcomeDenied {
		return outcome, types.NewAppErrorWithDetails(types.ErrCodeConsentRecipientUnavailable,
			"Recipient Unavailable", nil, map[string]any{"field": "recipient_address"})
	}
	return outcome, nil
}

// reconcileChannel re-runs Resolve for the channel and brings its stored
// state in line with the outcome. It writes only when the state differs.
func (g *Gate) reconcileChannel(ctx context.Context, ch *types.Channel) (types.GateOutcome, bool, error) {
	res, err := g.ledger.Resolve(ctx, consent.ResolveRequest{
		SenderID:   ch.OwnerID,
		SenderName: ch.OwnerName,
		Recipient:  ch.RecipientAddress,
		ChannelID:  ch.ID,
	})
	if err != nil {
		return "", false, err
	}

	outcome := types.OutcomeFor(res.Mode)
	switch outcome {
	case types.OutcomeDenied:
		if err := g.channels.Delete(ctx, ch.ID); err != nil && !types.IsCode(err, types.ErrCodeNotFoundChannel) {
			return "", res.Requested, err
		}
		g.logger.Info("channel deleted, recipient opted out",
			"channel_id", ch.ID,
			"owner_id", ch.OwnerID,
		)
	default:
		want := outcome == types.OutcomeReady
		if ch.Available != want {
			if err := g.channels.SetAvailable(ctx, ch.ID, want); err != nil {
				return "", res.Requested, err
			}
			ch.Available = want
		}
	}
	return outcome, res.Requested, nil
}

// OnDecisionApplied applies a recipient's decision to every listed channel:
// no_global deletes, accept enables. Failures do not stop the loop; they are
// joined into the returned error so a partial fan-out is visible.
func (g *Gate) OnDecisionApplied(ctx context.Context, channelIDs []string, decision types.ConsentMode) (FanOutResult, error) {
	var (
		result FanOutResult
		errs   []error
	)
	for _, id := range channelIDs {
		var err error
		switch decision {
		case types.ConsentNoGlobal:
			err = g.channels.Delete(ctx, id)
			if err == nil {
				result.Deleted++
			}
		default:
			available := decision == types.ConsentAccept
			err = g.channels.SetAvailable(ctx, id, available)
			if err == nil && available {
				result.Enabled++
			} else if err == nil {
				result.Disabled++
			}
		}

		if types.IsCode(err, types.ErrCodeNotFoundChannel) {
			result.Skipped++
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", id, err))
		}
	}

	if len(errs) > 0 {
		g.logger.Error("decision fan-out incomplete",
			"decision", string(decision),
			"failed", len(errs),
			"total", len(channelIDs),
		)
		return result, errors.Join(errs...)
	}
	return result, nil
}

// Allowed reports whether the channel may carry mail right now.
func (g *Gate) Allowed(ctx context.Context, channelID string) (bool, error) {
	ch, err := g.channels.Get(ctx, channelID)
	if err != nil {
		return false, err
	}
	return ch.Available, nil
}

// ReconcileRecipient re-evaluates every channel, from any owner, that targets
// recipient. After a no_global decision this removes the channels of senders
// other than the one whose confirmation was answered.
func (g *Gate) ReconcileRecipient(ctx context.Context, recipient string) (ReconcileReport, error) {
	var report ReconcileReport
	channels, err := g.channels.ListByRecipient(ctx, types.NormalizeAddress(recipient))
	if err != nil {
		return report, err
	}

	var errs []error
	for i := range channels {
		outcome, requested, err := g.reconcileChannel(ctx, &channels[i])
		report.add(outcome, requested, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channels[i].ID, err))
		}
	}
	return report, errors.Join(errs...)
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(context.Context, types.GateOutcome) {}
