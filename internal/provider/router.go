package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
	"github.com/idoneo/emailer/internal/store"
)

// Defaults is the system-wide outgoing-mail configuration. Per-team mail
// settings are layered on top of it at resolve time.
type Defaults struct {
	Provider    domain.Provider
	FromAddress string
	FromName    string
	ReplyTo     string

	SMTP SMTPConfig

	MailgunAPIKey  string
	MailgunDomain  string
	SendGridAPIKey string
	MailBabyAPIKey string

	FallbackToSMTP bool

	// BaseURL overrides every API transport's endpoint; tests only.
	BaseURL string
}

// Router resolves a SendConfig per delivery and hands the message to the
// matching transport, falling back to SMTP once when enabled.
type Router struct {
	store      store.Store
	teams      domain.TeamProvider
	defaults   Defaults
	transports map[domain.Provider]Transport
}

// NewRouter creates a Router with the standard transports registered.
func NewRouter(st store.Store, teams domain.TeamProvider, defaults Defaults) *Router {
	r := &Router{
		store:      st,
		teams:      teams,
		defaults:   defaults,
		transports: make(map[domain.Provider]Transport),
	}
	for _, t := range []Transport{SMTPTransport{}, MailgunTransport{}, SendGridTransport{}, MailBabyTransport{}} {
		r.transports[t.Name()] = t
	}
	return r
}

// Register swaps in a transport, replacing the standard one of the same
// name. Tests use it to stub provider APIs.
func (r *Router) Register(t Transport) {
	r.transports[t.Name()] = t
}

// Resolve builds the explicit SendConfig for one team: system defaults
// first, then the team's mail settings on top. Team SMTP credentials
// replace the connection only when SMTP carries the send; an API
// provider keeps the transport and takes just the team identity.
func (r *Router) Resolve(ctx context.Context, teamID uuid.UUID) (SendConfig, error) {
	return r.resolve(ctx, teamID)
}

func (r *Router) resolve(ctx context.Context, teamID uuid.UUID) (SendConfig, error) {
	d := r.defaults
	cfg := SendConfig{
		Provider:       d.Provider,
		FromAddress:    d.FromAddress,
		FromName:       d.FromName,
		ReplyTo:        d.ReplyTo,
		SMTP:           d.SMTP,
		FallbackToSMTP: d.FallbackToSMTP,
		BaseURL:        d.BaseURL,
	}
	if !domain.ValidProvider(cfg.Provider) {
		cfg.Provider = domain.ProviderSMTP
	}
	switch cfg.Provider {
	case domain.ProviderMailgun:
		cfg.APIKey, cfg.Domain = d.MailgunAPIKey, d.MailgunDomain
	case domain.ProviderSendGrid:
		cfg.APIKey = d.SendGridAPIKey
	case domain.ProviderMailBaby:
		cfg.APIKey = d.MailBabyAPIKey
	}

	if r.teams == nil {
		return cfg, nil
	}
	ms, err := r.teams.MailSettingsFor(ctx, teamID)
	if err != nil {
		return SendConfig{}, fmt.Errorf("resolve mail settings: %w", err)
	}
	if cfg.Provider == domain.ProviderSMTP && ms.HasSMTP() {
		cfg.SMTP = SMTPConfig{
			Host:       ms.Host,
			Port:       ms.Port,
			Username:   ms.Username,
			Password:   ms.Password,
			Encryption: ms.Encryption,
		}
	}
	if ms != nil && ms.FromAddress != "" {
		cfg.FromAddress = ms.FromAddress
	}
	if ms != nil && ms.FromName != "" {
		cfg.FromName = ms.FromName
	}
	return cfg, nil
}

// Deliver sends one rendered message for its delivery row and records the
// outcome. A missing recipient errors the delivery immediately. Transport
// failures are returned to the caller for retry; the delivery row is only
// marked on success here.
func (r *Router) Deliver(ctx context.Context, d *domain.Delivery, msg *Message) error {
	if msg.To == "" {
		if err := r.store.MarkError(ctx, d.ID); err != nil {
			return fmt.Errorf("mark no-recipient error: %w", err)
		}
		return domain.ErrNoRecipient
	}

	cfg, err := r.resolve(ctx, d.TeamID)
	if err != nil {
		return err
	}

	res, err := r.send(ctx, cfg, msg)
	if err != nil {
		return err
	}

	if err := r.store.MarkSent(ctx, d.ID, res.Provider, res.MessageID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	logger.Info("delivery sent",
		"delivery_id", d.ID.String(),
		"campaign_id", d.CampaignID.String(),
		"provider", string(res.Provider),
		"message_id", res.MessageID)
	return nil
}

func (r *Router) send(ctx context.Context, cfg SendConfig, msg *Message) (*SendResult, error) {
	primary, ok := r.transports[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("no transport for provider %q", cfg.Provider)
	}

	res, err := primary.Send(ctx, cfg, msg)
	if err == nil {
		return res, nil
	}
	if !cfg.FallbackToSMTP || cfg.Provider == domain.ProviderSMTP {
		return nil, err
	}

	logger.Warn("provider send failed, falling back to smtp",
		"provider", string(cfg.Provider),
		"error", err.Error())
	res, ferr := r.transports[domain.ProviderSMTP].Send(ctx, cfg, msg)
	if ferr != nil {
		return nil, fmt.Errorf("%s failed (%v); smtp fallback failed: %w", cfg.Provider, err, ferr)
	}
	return res, nil
}
