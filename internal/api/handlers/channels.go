// Package handlers contains the HTTP handlers for the forwardgate API. Each
// handler depends on small locally declared interfaces so tests can swap in
// fakes or an in-memory stack.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"forwardgate/internal/core"
	"forwardgate/internal/forward"
	"forwardgate/internal/types"
)

// ChannelStore is the channel persistence the handler needs.
type ChannelStore interface {
	Create(ctx context.Context, ch *types.Channel) error
	Get(ctx context.Context, id string) (*types.Channel, error)
	Delete(ctx context.Context, id string) error
}

// ChannelGate runs consent for a new channel.
type ChannelGate interface {
	OnChannelSetup(ctx context.Context, ch *types.Channel) (types.GateOutcome, error)
}

// MessageForwarder sends over an available channel.
type MessageForwarder interface {
	Send(ctx context.Context, channelID string, msg forward.Message) (string, error)
}

type CreateChannelRequest struct {
	OwnerID          string `json:"owner_id" validate:"required,max=128"`
	OwnerName        string `json:"owner_name" validate:"max=200"`
	RecipientAddress string `json:"recipient_address" validate:"required,email,max=254"`
}

type ChannelResponse struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	OwnerName        string            `json:"owner_name,omitempty"`
	RecipientAddress string            `json:"recipient_address"`
	Description      string            `json:"description"`
	Available        bool              `json:"available"`
	Outcome          types.GateOutcome `json:"outcome,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

type SendResponse struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

type ChannelHandler struct {
	channels  ChannelStore
	gate      ChannelGate
	forwarder MessageForwarder
	validator *core.Validator
	logger    *slog.Logger
}

func NewChannelHandler(
	channels ChannelStore,
	gate ChannelGate,
	forwarder MessageForwarder,
	v *core.Validator,
	logger *slog.Logger,
) *ChannelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelHandler{
		channels:  channels,
		gate:      gate,
		forwarder: forwarder,
		validator: v,
		logger:    logger,
	}
}

func (h *ChannelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/channels", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/send", h.Send)
	})
}

func newChannelID() string {
	return "ch_" + uuid.Must(uuid.NewV7()).String()
}

// Create stores a channel and runs consent for it. The status carries the
// outcome: 200 when the recipient already accepted, 202 while confirmation
// is outstanding, 403 when the recipient opted out of all senders (the
// channel is removed again).
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ch := &types.Channel{
		ID:               newChannelID(),
		OwnerID:          req.OwnerID,
		OwnerName:        req.OwnerName,
		RecipientAddress: types.NormalizeAddress(req.RecipientAddress),
	}
	if err := h.channels.Create(r.Context(), ch); err != nil {
		core.Error(w, r, err)
		return
	}

	outcome, err := h.gate.OnChannelSetup(r.Context(), ch)
	if err != nil {
		if outcome != types.OutcomeDenied {
			h.discard(r.Context(), ch.ID, err)
		}
		core.Error(w, r, err)
		return
	}

	status := http.StatusAccepted
	if outcome == types.OutcomeReady {
		status = http.StatusOK
	}
	h.logger.InfoContext(r.Context(), "channel created",
		"channel_id", ch.ID,
		"owner_id", ch.OwnerID,
		"outcome", outcome,
	)
	core.JSON(w, r, status, core.APIResponse{Data: toChannelResponse(ch, outcome)})
}

// discard removes a channel whose setup failed part way so it cannot linger
// without a consent decision behind it.
func (h *ChannelHandler) discard(ctx context.Context, id string, cause error) {
	if err := h.channels.Delete(context.WithoutCancel(ctx), id); err != nil && !types.IsCode(err, types.ErrCodeNotFoundChannel) {
		h.logger.ErrorContext(ctx, "failed to remove channel after setup error",
			"channel_id", id,
			"setup_error", cause,
			"error", err,
		)
	}
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := h.channels.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toChannelResponse(ch, "")})
}

// Send forwards a message. Channels still awaiting consent answer 409.
func (h *ChannelHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var msg forward.Message
	if err := core.DecodeJSON(w, r, &msg); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(msg); err != nil {
		core.Error(w, r, err)
		return
	}

	messageID, err := h.forwarder.Send(r.Context(), id, msg)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: SendResponse{ChannelID: id, MessageID: messageID}})
}

func toChannelResponse(ch *types.Channel, outcome types.GateOutcome) ChannelResponse {
	return ChannelResponse{
		ID:               ch.ID,
		OwnerID:          ch.OwnerID,
		OwnerName:        ch.OwnerName,
		RecipientAddress: ch.RecipientAddress,
		Description:      ch.Description(),
		Available:        ch.Available,
		Outcome:          outcome,
		CreatedAt:        ch.CreatedAt,
	}
}
