package domain

import (
	"context"

	"github.com/google/uuid"
)

// The engine never binds host-application models by name. The consuming
// application implements these narrow capability interfaces and injects
// them at construction.

// Contact is the recipient record the host application owns.
type Contact struct {
	ID         uuid.UUID
	TeamID     uuid.UUID
	Email      string
	Name       string
	Subscribed bool
}

// ContactProvider exposes the host application's contact records.
type ContactProvider interface {
	// ContactByID returns nil (not an error) when the contact no longer
	// exists; deliveries fall back to their stored recipient fields.
	ContactByID(ctx context.Context, id uuid.UUID) (*Contact, error)
	// ActiveByTeam lists subscribed contacts with a non-empty email.
	ActiveByTeam(ctx context.Context, teamID uuid.UUID) ([]Contact, error)
	// Unsubscribe flips the contact's subscription flag off.
	Unsubscribe(ctx context.Context, id uuid.UUID) error
}

// CategoryProvider resolves a category to its member contacts.
type CategoryProvider interface {
	// ActiveByCategory lists subscribed members of the category with a
	// non-empty email.
	ActiveByCategory(ctx context.Context, categoryID uuid.UUID) ([]Contact, error)
}

// MailSettings is a team's custom outgoing-mail configuration. Empty
// fields fall back to the system defaults.
type MailSettings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string
	FromAddress string
	FromName    string
}

// HasSMTP reports whether the settings carry a usable custom SMTP host.
func (m *MailSettings) HasSMTP() bool {
	return m != nil && m.Host != ""
}

// TeamProvider exposes per-team outgoing-mail overrides.
type TeamProvider interface {
	// MailSettingsFor returns nil when the team has no override.
	MailSettingsFor(ctx context.Context, teamID uuid.UUID) (*MailSettings, error)
}

// TemplateProvider renders the HTML body for a delivery. Implementations
// receive the campaign content plus per-recipient variables.
type TemplateProvider interface {
	Render(ctx context.Context, templateID *uuid.UUID, content string, vars map[string]any) (string, error)
}
