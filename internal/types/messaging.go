package types

// SenderIdentity is the From header of an outgoing email.
type SenderIdentity struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// SendInput is a fully composed email handed to a provider. Providers never
// alter the content.
type SendInput struct {
	To          string         `json:"to"`
	From        SenderIdentity `json:"from"`
	ReplyTo     string         `json:"reply_to,omitempty"`
	Subject     string         `json:"subject"`
	BodyHTML    string         `json:"body_html,omitempty"`
	BodyText    string         `json:"body_text,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
}

// ConfirmationRequest asks that a recipient be sent an accept/reject link pair
// for a newly created pending record.
type ConfirmationRequest struct {
	RecordID   string `json:"record_id"`
	Recipient  string `json:"recipient"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Nonce      string `json:"nonce"`
	ChannelID  string `json:"channel_id,omitempty"`
}

// DisplayName falls back to the sender id when no display name is set.
func (r ConfirmationRequest) DisplayName() string {
	if r.SenderName != "" {
		return r.SenderName
	}
	return r.SenderID
}

// ConfirmationMessage is the queue payload consumed by the email worker.
type ConfirmationMessage struct {
	ConfirmationRequest
	RequestID  string `json:"request_id,omitempty"`
	RetryCount int    `json:"retry_count"`
}
