package types

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretString_NeverLeaks(t *testing.T) {
	s := SecretString("SG.live-key-abc")

	assert.Equal(t, redactedPlaceholder, s.String())
	assert.NotContains(t, fmt.Sprintf("%s %v", s, s), "live-key")

	data, err := json.Marshal(struct {
		Key SecretString `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"***REDACTED***"}`, string(data))
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString("postgres://u:p@localhost/db")
	assert.Equal(t, "postgres://u:p@localhost/db", s.Unmask())
	assert.True(t, s.IsSet())
	assert.False(t, SecretString("").IsSet())
}
