package consent

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNonce_UniqueAndURLSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n, err := NewNonce("ch_1")
		require.NoError(t, err)
		assert.False(t, seen[n], "nonce repeated")
		seen[n] = true

		raw, err := base64.RawURLEncoding.DecodeString(n)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
		assert.Equal(t, n, url.QueryEscape(n))
	}
}

func TestNewRecordID(t *testing.T) {
	a, b := NewRecordID(), NewRecordID()
	assert.True(t, strings.HasPrefix(a, "vr_"))
	assert.NotEqual(t, a, b)
}

func TestPairKey_NoCollisions(t *testing.T) {
	assert.NotEqual(t, PairKey("a:b", "c@example.com"), PairKey("a", "b:c@example.com"))
	assert.Equal(t, PairKey("alice", "bob@example.com"), PairKey("alice", "bob@example.com"))
}

func TestConfirmationLinks(t *testing.T) {
	links := ConfirmationLinks("https://gate.example.com", "abc-_123")

	accept, err := url.Parse(links.Accept)
	require.NoError(t, err)
	assert.Equal(t, "/v1/verify", accept.Path)
	assert.Equal(t, "abc-_123", accept.Query().Get("_nonce"))
	assert.Equal(t, "accept", accept.Query().Get("accept"))

	deny, err := url.Parse(links.NoGlobal)
	require.NoError(t, err)
	assert.Equal(t, "no_global", deny.Query().Get("accept"))
	assert.Equal(t, "gate.example.com", deny.Host)
}
