// Package consent owns verification records: it computes the effective
// consent mode for a (sender, recipient) pair, opens new confirmation
// requests, and applies a recipient's decision.
package consent

import (
	"context"
	"strings"

	"forwardgate/internal/types"
)

// Dispatcher delivers a confirmation request to the recipient. The ledger
// never retries and never fails an operation because of a dispatch error.
type Dispatcher interface {
	Dispatch(ctx context.Context, req types.ConfirmationRequest) error
}

// Metrics receives ledger events. Implementations must not block.
type Metrics interface {
	RecordResolution(ctx context.Context, mode types.EffectiveMode)
	RecordDecision(ctx context.Context, decision types.ConsentMode, channels int)
	RecordDispatchFailure(ctx context.Context)
}

// ResolveRequest identifies the pair being resolved and the channel whose
// setup triggered it.
type ResolveRequest struct {
	SenderID   string
	SenderName string
	Recipient  string
	ChannelID  string
}

// Resolution is what Resolve reports.
type Resolution struct {
	Mode types.EffectiveMode
	// Record decided Mode, or is the pending record just opened.
	Record *types.VerificationRecord
	// Requested is true when this call opened a new pending record and asked
	// for a confirmation to be sent.
	Requested bool
}

// DecisionResult lists the channels a decision affects. The ledger does not
// touch them; callers hand the result to the channel gate.
type DecisionResult struct {
	Decision   types.ConsentMode
	Record     types.VerificationRecord
	ChannelIDs []string
	// Replayed is true when the record already held this decision.
	Replayed bool
}

// LedgerConfig collects the ledger's dependencies.
type LedgerConfig struct {
	TxManager  types.TransactionManager
	Records    types.VerificationRepository
	Dispatcher Dispatcher
	Metrics    Metrics
	Logger     types.Logger
}

// Ledger implements the consent state machine.
type Ledger struct {
	tx         types.TransactionManager
	records    types.VerificationRepository
	dispatcher Dispatcher
	metrics    Metrics
	logger     types.Logger

	newID    func() string
	newNonce func(channelID string) (string, error)
}

// NewLedger builds a ledger; nil Metrics record nothing.
func NewLedger(cfg LedgerConfig) *Ledger {
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	return &Ledger{
		tx:         cfg.TxManager,
		records:    cfg.Records,
		dispatcher: cfg.Dispatcher,
		metrics:    m,
		logger:     cfg.Logger,
		newID:      NewRecordID,
		newNonce:   NewNonce,
	}
}

func validatePair(senderID, recipient string) error {
	if strings.TrimSpace(senderID) == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"sender id is required", nil, map[string]any{"field": "owner_id"})
	}
	if recipient == "" || !strings.Contains(recipient, "@") {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEmail,
			"recipient address is invalid", nil, map[string]any{"field": "recipient_address"})
	}
	return nil
}

// Resolve computes the effective mode for the pair. An unresolved pair gets
// a new pending record, committed before the confirmation is dispatched.
// Every other mode is reported without side effects; acting on no_global is
// the caller's job.
func (l *Ledger) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	recipient := types.NormalizeAddress(req.Recipient)
	if err := validatePair(req.SenderID, recipient); err != nil {
		return Resolution{}, err
	}

	var res Resolution
	err := l.tx.RunInTx(ctx, PairKey(req.SenderID, recipient), func(ctx context.Context, repos types.RepositoryRegistry) error {
		records, err := repos.Verifications().ListByRecipient(ctx, recipient)
		if err != nil {
			return err
		}

		eval := Evaluate(records, req.SenderID)
		if eval.LivePending > 1 {
			l.logger.Warn("duplicate pending verifications for pair",
				"sender_id", req.SenderID,
				"pending", eval.LivePending,
			)
		}
		res = Resolution{Mode: eval.Mode, Record: eval.Record}
		if eval.Mode != types.EffectiveUnresolved {
			return nil
		}

		nonce, err := l.newNonce(req.ChannelID)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate nonce", err)
		}
		rec := &types.VerificationRecord{
			ID:               l.newID(),
			RecipientAddress: recipient,
			SenderID:         req.SenderID,
			Nonce:            nonce,
			Mode:             types.ConsentPending,
		}
		if err := repos.Verifications().Create(ctx, rec); err != nil {
			return err
		}
		res.Record = rec
		res.Requested = true
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}

	l.metrics.RecordResolution(ctx, res.Mode)
	if res.Requested {
		l.dispatch(ctx, types.ConfirmationRequest{
			RecordID:   res.Record.ID,
			Recipient:  recipient,
			SenderID:   req.SenderID,
			SenderName: req.SenderName,
			Nonce:      res.Record.Nonce,
			ChannelID:  req.ChannelID,
		})
	}
	return res, nil
}

func (l *Ledger) dispatch(ctx context.Context, req types.ConfirmationRequest) {
	if l.dispatcher == nil {
		return
	}
	if err := l.dispatcher.Dispatch(ctx, req); err != nil {
		l.metrics.RecordDispatchFailure(ctx)
		l.logger.Error("confirmation dispatch failed",
			"record_id", req.RecordID,
			"sender_id", req.SenderID,
			"error", err,
		)
	}
}

// Inspect evaluates the pair without creating anything.
func (l *Ledger) Inspect(ctx context.Context, senderID, recipient string) (Evaluation, error) {
	recipient = types.NormalizeAddress(recipient)
	if err := validatePair(senderID, recipient); err != nil {
		return Evaluation{}, err
	}
	records, err := l.records.ListByRecipient(ctx, recipient)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(records, senderID), nil
}

// ApplyDecision records a recipient's answer for the record holding nonce and
// returns every channel the requesting sender has to that recipient.
//
// A pending record moves to the decision. A record already holding the same
// decision is left alone and reported as Replayed, so a repeated click still
// fans out. A record holding the other terminal mode is final and yields
// ErrCodeConflictDecisionFinal.
func (l *Ledger) ApplyDecision(ctx context.Context, nonce string, decision types.ConsentMode) (DecisionResult, error) {
	if !decision.IsTerminal() {
		return DecisionResult{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDecision,
			"decision must be one of: accept, no_global", nil, map[string]any{"field": "accept"})
	}
	if nonce == "" {
		return DecisionResult{}, types.NewAppError(types.ErrCodeNotFoundVerification, "verification not found", nil)
	}

	// The pair is only known once the record is found; the lookup is
	// repeated under the pair lock.
	found, err := l.records.FindByNonce(ctx, nonce)
	if err != nil {
		return DecisionResult{}, err
	}

	result := DecisionResult{Decision: decision}
	err = l.tx.RunInTx(ctx, PairKey(found.SenderID, found.RecipientAddress), func(ctx context.Context, repos types.RepositoryRegistry) error {
		rec, err := repos.Verifications().FindByNonce(ctx, nonce)
		if err != nil {
			return err
		}

		switch rec.Mode {
		case types.ConsentPending:
			if err := repos.Verifications().UpdateMode(ctx, rec.ID, types.ConsentPending, decision); err != nil {
				return err
			}
			rec.Mode = decision
		case decision:
			result.Replayed = true
		default:
			return types.NewAppErrorWithDetails(types.ErrCodeConflictDecisionFinal,
				"verification has already been answered", nil,
				map[string]any{"mode": string(rec.Mode)})
		}

		channels, err := repos.Channels().ListByOwnerAndRecipient(ctx, rec.SenderID, rec.RecipientAddress)
		if err != nil {
			return err
		}
		result.Record = *rec
		result.ChannelIDs = make([]string, 0, len(channels))
		for _, ch := range channels {
			result.ChannelIDs = append(result.ChannelIDs, ch.ID)
		}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	l.metrics.RecordDecision(ctx, decision, len(result.ChannelIDs))
	l.logger.Info("verification decision applied",
		"record_id", result.Record.ID,
		"decision", string(decision),
		"channels", len(result.ChannelIDs),
		"replayed", result.Replayed,
	)
	return result, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordResolution(context.Context, types.EffectiveMode)  {}
func (noopMetrics) RecordDecision(context.Context, types.ConsentMode, int) {}
func (noopMetrics) RecordDispatchFailure(context.Context)                  {}
