package services

import "context"

// ResponseOption is a reply the recipient can pick, e.g. a button.
type ResponseOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is the localized text sent for an occurrence plus its reply options.
type Message struct {
	Text    string           `json:"text"`
	Options []ResponseOption `json:"options,omitempty"`
}

// DeliveryReceipt is what a provider hands back after accepting a message.
type DeliveryReceipt struct {
	ProviderID string
	Raw        map[string]interface{}
}

// Channel delivers a message to one recipient.
type Channel interface {
	// Name is the channel recorded on the notification log for recipient,
	// e.g. "whatsapp", "sms" or "telegram".
	Name(recipient string) string
	Send(ctx context.Context, recipient string, msg Message) (*DeliveryReceipt, error)
}

// GeneratedPayload is the raw answer of a text generator.
type GeneratedPayload struct {
	Candidates []string
}

// TextGenerator produces free text from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (*GeneratedPayload, error)
}
