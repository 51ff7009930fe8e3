package consent

import (
	"forwardgate/internal/types"
)

// Evaluation is the outcome of applying precedence to a recipient's records
// from one sender's point of view.
type Evaluation struct {
	Mode types.EffectiveMode
	// Record is the record that decided Mode. Nil when Mode is unresolved.
	Record *types.VerificationRecord
	// LivePending counts this sender's pending records. More than one means
	// two resolves raced past the lock at some point in the past.
	LivePending int
}

// Evaluate computes the effective mode for senderID from every record held
// for one recipient. It runs in two phases:
//
//  1. A no_global record from any sender wins outright.
//  2. Otherwise only this sender's records count: accept wins over pending.
//
// With neither, the pair is unresolved. Record order does not matter.
func Evaluate(records []types.VerificationRecord, senderID string) Evaluation {
	for i := range records {
		if records[i].Mode == types.ConsentNoGlobal {
			return Evaluation{Mode: types.EffectiveNoGlobal, Record: &records[i]}
		}
	}

	var (
		pending *types.VerificationRecord
		live    int
	)
	for i := range records {
		rec := &records[i]
		if rec.SenderID != senderID {
			continue
		}
		switch rec.Mode {
		case types.ConsentAccept:
			return Evaluation{Mode: types.EffectiveAccept, Record: rec}
		case types.ConsentPending:
			live++
			if pending == nil || rec.CreatedAt.After(pending.CreatedAt) {
				pending = rec
			}
		}
	}
	if pending != nil {
		return Evaluation{Mode: types.EffectivePending, Record: pending, LivePending: live}
	}
	return Evaluation{Mode: types.EffectiveUnresolved}
}

// EffectiveModeOf is Evaluate without the supporting detail.
func EffectiveModeOf(records []types.VerificationRecord, senderID string) types.EffectiveMode {
	return Evaluate(records, senderID).Mode
}
