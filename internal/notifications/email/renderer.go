package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"forwardgate/internal/consent"
	"forwardgate/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

type confirmationData struct {
	Subject   string
	Name      string
	Product   string
	AcceptURL string
	OptOutURL string
}

type RendererConfig struct {
	// BaseURL prefixes the accept and opt-out links.
	BaseURL string
	From    types.SenderIdentity
	NoReply string
	// Product names the service in the email body.
	Product string
}

// Renderer builds the confirmation email from the embedded templates.
type Renderer struct {
	html    *template.Template
	text    *texttemplate.Template
	baseURL string
	from    types.SenderIdentity
	noReply string
	product string
}

func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	html, err := template.ParseFS(templateFS, "templates/confirmation.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse html: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/confirmation.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: parse text: %w", err)
	}
	product := cfg.Product
	if product == "" {
		product = "forwardgate"
	}
	return &Renderer{
		html:    html,
		text:    text,
		baseURL: cfg.BaseURL,
		from:    cfg.From,
		noReply: cfg.NoReply,
		product: product,
	}, nil
}

// Render produces a ready-to-send confirmation for req. The subject is
// "<name> wants to connect!" with the sender id standing in for a missing
// display name.
func (r *Renderer) Render(req types.ConfirmationRequest) (types.SendInput, error) {
	if req.Recipient == "" || req.Nonce == "" {
		return types.SendInput{}, types.NewAppError(types.ErrCodeValidationMissingField,
			"confirmation needs a recipient and a nonce", nil)
	}

	links := consent.ConfirmationLinks(r.baseURL, req.Nonce)
	name := req.DisplayName()
	data := confirmationData{
		Subject:   name + " wants to connect!",
		Name:      name,
		Product:   r.product,
		AcceptURL: links.Accept,
		OptOutURL: links.NoGlobal,
	}

	var html, text bytes.Buffer
	if err := r.html.Execute(&html, data); err != nil {
		return types.SendInput{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render confirmation html", err)
	}
	if err := r.text.Execute(&text, data); err != nil {
		return types.SendInput{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render confirmation text", err)
	}

	return types.SendInput{
		To:          req.Recipient,
		From:        r.from,
		ReplyTo:     r.noReply,
		Subject:     data.Subject,
		BodyHTML:    html.String(),
		BodyText:    text.String(),
		ReferenceID: req.RecordID,
	}, nil
}
