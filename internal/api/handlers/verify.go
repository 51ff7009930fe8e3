package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"forwardgate/internal/consent"
	"forwardgate/internal/core"
	"forwardgate/internal/gate"
	"forwardgate/internal/types"
)

// DecisionLedger records a recipient's answer.
type DecisionLedger interface {
	ApplyDecision(ctx context.Context, nonce string, decision types.ConsentMode) (consent.DecisionResult, error)
}

// DecisionGate propagates an answer to channels.
type DecisionGate interface {
	OnDecisionApplied(ctx context.Context, channelIDs []string, decision types.ConsentMode) (gate.FanOutResult, error)
	ReconcileRecipient(ctx context.Context, recipient string) (gate.ReconcileReport, error)
}

// VerifyHandler serves the links in confirmation emails. It is mounted under
// /v1, matching consent.VerifyPath.
type VerifyHandler struct {
	ledger     DecisionLedger
	gate       DecisionGate
	websiteURL string
	throttle   func(http.Handler) http.Handler
	logger     *slog.Logger
}

// NewVerifyHandler builds the handler. throttle wraps the route, typically
// with Server.ClientThrottle; nil leaves it unthrottled.
func NewVerifyHandler(
	ledger DecisionLedger,
	g DecisionGate,
	websiteURL string,
	throttle func(http.Handler) http.Handler,
	logger *slog.Logger,
) *VerifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}
	return &VerifyHandler{
		ledger:     ledger,
		gate:       g,
		websiteURL: strings.TrimSuffix(websiteURL, "/"),
		throttle:   throttle,
		logger:     logger,
	}
}

func (h *VerifyHandler) RegisterRoutes(r chi.Router) {
	r.With(h.throttle).Get("/verify", h.Verify)
}

// Verify applies the decision named by the link and redirects to the
// website's confirmation page. Channel fan-out failures are logged only; the
// decision is already durable and the reconciler repairs the channels.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	decision, err := types.ParseDecision(q.Get("accept"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.ledger.ApplyDecision(r.Context(), q.Get("_nonce"), decision)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	fanOut, err := h.gate.OnDecisionApplied(ctx, res.ChannelIDs, decision)
	if err != nil {
		h.logger.ErrorContext(ctx, "decision fan-out failed",
			"record_id", res.Record.ID,
			"decision", decision,
			"error", err,
		)
	}
	if decision == types.ConsentNoGlobal {
		if _, err := h.gate.ReconcileRecipient(ctx, res.Record.RecipientAddress); err != nil {
			h.logger.ErrorContext(ctx, "recipient-wide reconcile failed",
				"record_id", res.Record.ID,
				"error", err,
			)
		}
	}

	h.logger.InfoContext(ctx, "decision applied",
		"record_id", res.Record.ID,
		"sender_id", res.Record.SenderID,
		"decision", decision,
		"replayed", res.Replayed,
		"enabled", fanOut.Enabled,
		"disabled", fanOut.Disabled,
		"deleted", fanOut.Deleted,
	)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.websiteURL+"/emitter/email_verify/"+string(decision), http.StatusFound)
}
