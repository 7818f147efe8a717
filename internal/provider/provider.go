// Package provider contains the outbound mail transports and the router
// that picks one per send.
//
// Transports are split into individual files:
//   - smtp.go:     direct SMTP (also the fallback target)
//   - mailgun.go:  Mailgun Messages API
//   - sendgrid.go: SendGrid v3 Mail Send
//   - mailbaby.go: MailBaby Mail Send API
//
// Transports are stateless; everything a send needs, including
// credentials, arrives in the per-call SendConfig, so per-team overrides
// never require rebuilding a transport.
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// Message is one fully rendered email ready to hand to a transport.
type Message struct {
	ID         uuid.UUID
	CampaignID uuid.UUID
	To         string
	ToName     string
	Subject    string
	HTML       string
	Text       string

	// Headers carries extra top-level headers (List-Unsubscribe and
	// friends). Transports that cannot set arbitrary headers drop them.
	Headers map[string]string
}

// SMTPConfig is the connection half of a SendConfig.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string
}

// SendConfig is the complete, explicit configuration for one send call.
// The router resolves it fresh per delivery (team override on top of
// system defaults); nothing here is shared mutable state.
type SendConfig struct {
	Provider    domain.Provider
	FromAddress string
	FromName    string
	ReplyTo     string

	SMTP SMTPConfig

	// API transports.
	APIKey  string
	Domain  string // mailgun sending domain
	BaseURL string // override for tests; empty means the provider default

	// FallbackToSMTP retries a failed API send once over SMTP.
	FallbackToSMTP bool
}

// SendResult reports a successful handoff to a provider.
type SendResult struct {
	Provider  domain.Provider
	MessageID string
	SentAt    time.Time
}

// Transport delivers one message through one provider.
type Transport interface {
	Name() domain.Provider
	Send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error)
}
