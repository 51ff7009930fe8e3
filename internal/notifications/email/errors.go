// Package email renders and dispatches the confirmation email that asks a
// recipient to accept a sender, either in-process or through a queue consumed
// by the email worker.
package email

import (
	"errors"

	"forwardgate/internal/types"
)

// ErrRecipientBlocked marks a recipient the provider refuses to mail.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError reports whether err means the provider will never deliver
// to the recipient.
func IsBlocklistError(err error) bool {
	return errors.Is(err, ErrRecipientBlocked) || types.IsCode(err, types.ErrCodeEmailBlocked)
}

// ShouldRetry reports whether a queued send that failed with err is worth
// redelivering.
func ShouldRetry(err error) bool {
	if err == nil || IsBlocklistError(err) {
		return false
	}
	switch types.CodeOf(err) {
	case types.ErrCodeValidationMissingField, types.ErrCodeInternalUnexpected:
		return false
	}
	return true
}
