package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"forwardgate/internal/config"
	"forwardgate/internal/consent"
	"forwardgate/internal/core"
	"forwardgate/internal/db"
	"forwardgate/internal/external"
	"forwardgate/internal/forward"
	"forwardgate/internal/gate"
	"forwardgate/internal/types"
)

const testWebsite = "https://forwardgate.example"

type capturingDispatcher struct {
	mu   sync.Mutex
	reqs []types.ConfirmationRequest
}

func (d *capturingDispatcher) Dispatch(_ context.Context, req types.ConfirmationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	return nil
}

// nonceFor returns the nonce mailed for the given channel.
func (d *capturingDispatcher) nonceFor(t *testing.T, channelID string) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.reqs {
		if r.ChannelID == channelID {
			return r.Nonce
		}
	}
	t.Fatalf("no confirmation dispatched for %s", channelID)
	return ""
}

func (d *capturingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type apiStack struct {
	store      *db.MemoryStore
	dispatcher *capturingDispatcher
	provider   *external.StubEmailProvider
	server     *core.Server
}

type stackOption func(*core.Server)

func withLimiter(perMinute, burst int) stackOption {
	return func(s *core.Server) { s.Limiter = core.NewClientRateLimiter(perMinute, burst) }
}

func newAPIStack(t *testing.T, opts ...stackOption) *apiStack {
	t.Helper()
	logger := quietLogger()
	typed := types.NewSlogLogger(logger)

	s := &apiStack{
		store:      db.NewMemoryStore(nil),
		dispatcher: &capturingDispatcher{},
		provider:   external.NewStubEmailProvider(logger),
	}
	ledger := consent.NewLedger(consent.LedgerConfig{
		TxManager:  s.store,
		Records:    s.store.Verifications(),
		Dispatcher: s.dispatcher,
		Logger:     typed,
	})
	g := gate.NewGate(gate.GateConfig{
		Ledger:   ledger,
		Channels: s.store.Channels(),
		Logger:   typed,
	})
	fwd := forward.NewForwarder(forward.ForwarderConfig{
		Gate:     g,
		Channels: s.store.Channels(),
		Provider: s.provider,
		From:     types.SenderIdentity{Address: "support@forwardgate.io", Name: "forwardgate app"},
		NoReply:  "noreply@forwardgate.io",
		Logger:   typed,
	})

	cfg := &config.Config{Environment: "local"}
	cfg.Server.WebsiteURL = testWebsite
	srv, err := core.NewServer(cfg, logger)
	require.NoError(t, err)
	for _, opt := range opts {
		opt(srv)
	}

	channels := NewChannelHandler(s.store.Channels(), g, fwd, srv.Validator, logger)
	verify := NewVerifyHandler(ledger, g, cfg.Server.WebsiteURL, srv.ClientThrottle, logger)
	srv.V1RouteRegistrars = []core.RouteRegistrar{channels.RegisterRoutes, verify.RegisterRoutes}
	srv.MountRoutes()
	s.server = srv
	return s
}

func (s *apiStack) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *apiStack) createChannel(t *testing.T, owner, recipient string) (*httptest.ResponseRecorder, ChannelResponse) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/channels",
		`{"owner_id":"`+owner+`","owner_name":"`+owner+`","recipient_address":"`+recipient+`"}`)
	var out struct {
		Data ChannelResponse `json:"data"`
	}
	if rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out.Data
}

func (s *apiStack) verify(t *testing.T, nonce, decision string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodGet, "/v1/verify?_nonce="+nonce+"&accept="+decision, "")
}

func (s *apiStack) channelExists(t *testing.T, id string) bool {
	t.Helper()
	_, err := s.store.Channels().Get(context.Background(), id)
	if types.IsCode(err, types.ErrCodeNotFoundChannel) {
		return false
	}
	require.NoError(t, err)
	return true
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var out core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Error
}

// routeWith mounts a single handler registration for tests that use fakes.
func routeWith(register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", register)
	return r
}
