package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentMode_Transitions(t *testing.T) {
	assert.True(t, ConsentPending.Valid())
	assert.True(t, ConsentAccept.Valid())
	assert.True(t, ConsentNoGlobal.Valid())
	assert.False(t, ConsentMode("maybe").Valid())

	assert.False(t, ConsentPending.IsTerminal())
	assert.True(t, ConsentAccept.IsTerminal())
	assert.True(t, ConsentNoGlobal.IsTerminal())
}

func TestParseDecision(t *testing.T) {
	m, err := ParseDecision("accept")
	require.NoError(t, err)
	assert.Equal(t, ConsentAccept, m)

	m, err = ParseDecision(" no_global ")
	require.NoError(t, err)
	assert.Equal(t, ConsentNoGlobal, m)

	for _, bad := range []string{"", "pending", "ACCEPT", "reject"} {
		_, err := ParseDecision(bad)
		assert.True(t, IsCode(err, ErrCodeValidationInvalidDecision), "input %q", bad)
	}
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, OutcomeReady, OutcomeFor(EffectiveAccept))
	assert.Equal(t, OutcomeDeferred, OutcomeFor(EffectivePending))
	assert.Equal(t, OutcomeDeferred, OutcomeFor(EffectiveUnresolved))
	assert.Equal(t, OutcomeDenied, OutcomeFor(EffectiveNoGlobal))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeAddress("  Jane@Example.COM "))
}

func TestChannel_Description(t *testing.T) {
	c := &Channel{RecipientAddress: "jane@example.com"}
	assert.Equal(t, "Send an Email to jane@example.com", c.Description())
}

func TestConfirmationRequest_DisplayName(t *testing.T) {
	assert.Equal(t, "Alice", ConfirmationRequest{SenderID: "u1", SenderName: "Alice"}.DisplayName())
	assert.Equal(t, "u1", ConfirmationRequest{SenderID: "u1"}.DisplayName())
}
