package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignInactive CampaignStatus = "inactive"
	CampaignActive   CampaignStatus = "active"
)

// Campaign is a message template bound to an audience (a category, or the
// whole team when CategoryID is nil). Campaigns are soft-deleted only, so
// delivery rows never lose their parent.
type Campaign struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	TeamID     uuid.UUID      `json:"team_id" db:"team_id"`
	CategoryID *uuid.UUID     `json:"category_id" db:"category_id"`
	TemplateID *uuid.UUID     `json:"template_id" db:"template_id"`
	Name       string         `json:"name" db:"name"`
	Subject    string         `json:"subject" db:"subject"`
	Content    string         `json:"content" db:"content"`
	Status     CampaignStatus `json:"status" db:"status"`
	DeletedAt  *time.Time     `json:"deleted_at" db:"deleted_at"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether new sends may start for this campaign.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive && c.DeletedAt == nil
}

// CampaignStats is a materialized view over a campaign's deliveries.
// It is fully recomputable at any time and never a source of truth.
type CampaignStats struct {
	CampaignID    uuid.UUID `json:"campaign_id" db:"campaign_id"`
	TotalContacts int       `json:"total_contacts" db:"total_contacts"`
	Sent          int       `json:"sent" db:"sent"`
	Delivered     int       `json:"delivered" db:"delivered"`
	Opened        int       `json:"opened" db:"opened"`
	Clicked       int       `json:"clicked" db:"clicked"`
	Failed        int       `json:"failed" db:"failed"`
	Pending       int       `json:"pending" db:"pending"`

	// Rates are percentages rounded to 2 decimals; zero denominators
	// yield 0, never NaN.
	SuccessRate float64 `json:"success_rate" db:"success_rate"`
	OpenRate    float64 `json:"open_rate" db:"open_rate"`
	ClickRate   float64 `json:"click_rate" db:"click_rate"`
	BounceRate  float64 `json:"bounce_rate" db:"bounce_rate"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
