package consent

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const nonceSeedBytes = 32

// NewNonce returns an unguessable, URL-safe token for a callback link. Fresh
// randomness is bound to the channel that triggered the request and digested
// with BLAKE2b-256.
func NewNonce(channelID string) (string, error) {
	buf := make([]byte, nonceSeedBytes, nonceSeedBytes+len(channelID))
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random seed: %w", err)
	}
	sum := blake2b.Sum256(append(buf, channelID...))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// NewRecordID returns a time-ordered record identifier.
func NewRecordID() string {
	return "vr_" + uuid.Must(uuid.NewV7()).String()
}

// PairKey is the lock key serializing work on one (sender, recipient) pair.
// The length prefix keeps distinct pairs from colliding whatever characters
// the sender id contains.
func PairKey(senderID, recipient string) string {
	return strconv.Itoa(len(senderID)) + ":" + senderID + ":" + recipient
}

// VerifyPath is where recipients land from the confirmation email.
const VerifyPath = "/v1/verify"

// Links are the two answers offered to a recipient.
type Links struct {
	Accept   string
	NoGlobal string
}

// ConfirmationLinks builds the accept and permanent opt-out URLs for nonce.
// baseURL has no trailing slash.
func ConfirmationLinks(baseURL, nonce string) Links {
	build := func(decision string) string {
		q := url.Values{}
		q.Set("_nonce", nonce)
		q.Set("accept", decision)
		return baseURL + VerifyPath + "?" + q.Encode()
	}
	return Links{
		Accept:   build("accept"),
		NoGlobal: build("no_global"),
	}
}
