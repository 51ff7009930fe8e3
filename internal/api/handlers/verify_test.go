package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwardgate/internal/consent"
	"forwardgate/internal/gate"
	"forwardgate/internal/types"
)

func TestVerify_AcceptEnablesChannelAndRedirects(t *testing.T) {
	s := newAPIStack(t)
	_, ch := s.createChannel(t, "alice", "bob@example.com")

	rec := s.verify(t, s.dispatcher.nonceFor(t, ch.ID), "accept")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testWebsite+"/emitter/email_verify/accept", rec.Header().Get("Location"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	stored, err := s.store.Channels().Get(context.Background(), ch.ID)
	require.NoError(t, err)
	assert.True(t, stored.Available)
}

func TestVerify_NoGlobalRemovesEverySendersChannels(t *testing.T) {
	s := newAPIStack(t)
	_, alice := s.createChannel(t, "alice", "bob@example.com")
	_, carol := s.createChannel(t, "carol", "bob@example.com")
	_, other := s.createChannel(t, "carol", "dave@example.com")

	rec := s.verify(t, s.dispatcher.nonceFor(t, alice.ID), "no_global")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testWebsite+"/emitter/email_verify/no_global", rec.Header().Get("Location"))

	assert.False(t, s.channelExists(t, alice.ID))
	assert.False(t, s.channelExists(t, carol.ID))
	assert.True(t, s.channelExists(t, other.ID))
}

func TestVerify_Errors(t *testing.T) {
	s := newAPIStack(t)
	_, ch := s.createChannel(t, "alice", "bob@example.com")
	nonce := s.dispatcher.nonceFor(t, ch.ID)

	tests := []struct {
		name     string
		nonce    string
		decision string
		status   int
		code     string
	}{
		{"pending is not a decision", nonce, "pending", http.StatusBadRequest, "validation_invalid_decision"},
		{"missing decision", nonce, "", http.StatusBadRequest, "validation_invalid_decision"},
		{"unknown nonce", "nope", "accept", http.StatusNotFound, "not_found_verification"},
		{"missing nonce", "", "accept", http.StatusNotFound, "not_found_verification"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.verify(t, tt.nonce, tt.decision)
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorBody(t, rec).Code)
		})
	}
}

func TestVerify_ReplayAndFinality(t *testing.T) {
	s := newAPIStack(t)
	_, ch := s.createChannel(t, "alice", "bob@example.com")
	nonce := s.dispatcher.nonceFor(t, ch.ID)

	require.Equal(t, http.StatusFound, s.verify(t, nonce, "accept").Code)
	require.Equal(t, http.StatusFound, s.verify(t, nonce, "accept").Code, "same answer twice is harmless")

	rec := s.verify(t, nonce, "no_global")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict_decision_final", errorBody(t, rec).Code)
	assert.True(t, s.channelExists(t, ch.ID))
}

func TestVerify_ThrottledPerClient(t *testing.T) {
	s := newAPIStack(t, withLimiter(1, 1))

	assert.Equal(t, http.StatusNotFound, s.verify(t, "a", "accept").Code)
	rec := s.verify(t, "b", "accept")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

type stubLedger struct {
	res consent.DecisionResult
}

func (l stubLedger) ApplyDecision(context.Context, string, types.ConsentMode) (consent.DecisionResult, error) {
	return l.res, nil
}

type brokenGate struct {
	reconciled []string
}

func (g *brokenGate) OnDecisionApplied(context.Context, []string, types.ConsentMode) (gate.FanOutResult, error) {
	return gate.FanOutResult{}, errors.New("channel store unavailable")
}

func (g *brokenGate) ReconcileRecipient(_ context.Context, recipient string) (gate.ReconcileReport, error) {
	g.reconciled = append(g.reconciled, recipient)
	return gate.ReconcileReport{}, errors.New("channel store unavailable")
}

func TestVerify_FanOutFailureStillRedirects(t *testing.T) {
	g := &brokenGate{}
	h := NewVerifyHandler(stubLedger{res: consent.DecisionResult{
		Decision:   types.ConsentNoGlobal,
		Record:     types.VerificationRecord{ID: "vr_1", RecipientAddress: "bob@example.com"},
		ChannelIDs: []string{"ch_1"},
	}}, g, testWebsite+"/", nil, quietLogger())

	rec := httptest.NewRecorder()
	routeWith(h.RegisterRoutes).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/verify?_nonce=n&accept=no_global", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testWebsite+"/emitter/email_verify/no_global", rec.Header().Get("Location"))
	assert.Equal(t, []string{"bob@example.com"}, g.reconciled)
}
