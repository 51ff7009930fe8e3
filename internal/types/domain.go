package types

import (
	"strings"
	"time"
)

// ConsentMode is the stored state of a VerificationRecord.
type ConsentMode string

const (
	ConsentPending  ConsentMode = "pending"
	ConsentAccept   ConsentMode = "accept"
	ConsentNoGlobal ConsentMode = "no_global"
)

// Valid reports whether m is one of the stored modes.
func (m ConsentMode) Valid() bool {
	switch m {
	case ConsentPending, ConsentAccept, ConsentNoGlobal:
		return true
	}
	return false
}

// IsTerminal reports whether the mode can no longer change.
// Transitions only ever leave pending.
func (m ConsentMode) IsTerminal() bool {
	return m == ConsentAccept || m == ConsentNoGlobal
}

// ParseDecision parses a recipient's answer. Only the two terminal modes are
// acceptable decisions; "pending" is never something a recipient can choose.
func ParseDecision(s string) (ConsentMode, error) {
	m := ConsentMode(strings.TrimSpace(s))
	if !m.IsTerminal() {
		return "", NewAppErrorWithDetails(ErrCodeValidationInvalidDecision,
			"decision must be one of: accept, no_global", nil,
			map[string]any{"field": "accept", "value": s})
	}
	return m, nil
}

// EffectiveMode is the consent state computed for a (sender, recipient) pair
// from all of the recipient's records. It adds Unresolved for pairs with no
// applicable record.
type EffectiveMode string

const (
	EffectiveAccept     EffectiveMode = "accept"
	EffectivePending    EffectiveMode = "pending"
	EffectiveNoGlobal   EffectiveMode = "no_global"
	EffectiveUnresolved EffectiveMode = "unresolved"
)

// GateOutcome is what channel setup reports to its caller.
type GateOutcome string

const (
	OutcomeReady    GateOutcome = "ready"
	OutcomeDeferred GateOutcome = "deferred"
	OutcomeDenied   GateOutcome = "denied"
)

// OutcomeFor maps an effective mode to a setup outcome.
func OutcomeFor(m EffectiveMode) GateOutcome {
	switch m {
	case EffectiveAccept:
		return OutcomeReady
	case EffectiveNoGlobal:
		return OutcomeDenied
	default:
		return OutcomeDeferred
	}
}

// VerificationRecord is one consent request from a sender to a recipient.
// Records are never deleted.
type VerificationRecord struct {
	ID               string      `json:"id"`
	RecipientAddress string      `json:"recipient_address"`
	SenderID         string      `json:"requesting_sender_id"`
	Nonce            string      `json:"-"`
	Mode             ConsentMode `json:"mode"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Channel is a configured sending route from an owner to one recipient.
type Channel struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	OwnerName        string    `json:"owner_name,omitempty"`
	RecipientAddress string    `json:"recipient_address"`
	Available        bool      `json:"available"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Description is the human-readable summary shown in channel listings.
func (c *Channel) Description() string {
	return "Send an Email to " + c.RecipientAddress
}

// NormalizeAddress canonicalizes a recipient address for record matching.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
