// Package mailer sends transactional email through a pluggable provider.
package mailer

// Message is one email to deliver.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// SendResult carries the provider's reference for a delivered message.
type SendResult struct {
	ProviderMessageID string
}

// Provider delivers messages via one backend.
type Provider interface {
	Name() string
	Send(msg Message) (SendResult, error)
}

// Mailer wraps a provider with a default sender address.
type Mailer struct {
	provider    Provider
	fromAddress string
}

func New(provider Provider, fromAddress string) *Mailer {
	return &Mailer{
		provider:    provider,
		fromAddress: fromAddress,
	}
}

// Send delivers msg via the configured provider, filling in the default
// sender when msg.From is empty.
func (m *Mailer) Send(msg Message) (SendResult, error) {
	if msg.From == "" {
		msg.From = m.fromAddress
	}
	return m.provider.Send(msg)
}

// ProviderName reports which backend is configured.
func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}
