// Package store persists campaigns, deliveries, link-click counters, and
// the append-only tracking-event log. It owns the delivery state machine:
// every transition is applied under per-delivery mutual exclusion (row-
// atomic guarded UPDATEs in Postgres, a store mutex in memory), so
// concurrent webhooks and tracking hits cannot lose updates.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// StatusCounts is the per-campaign breakdown the stats aggregator
// recomputes rates from. Sent counts deliveries that reached any milestone
// from Sent through Clicked; Failed counts only deliveries whose send
// never happened.
type StatusCounts struct {
	Total     int
	Pending   int
	Sent      int
	Delivered int
	Opened    int
	Clicked   int
	Failed    int
}

// Store is the persistence boundary for the delivery engine.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	SetCampaignStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error
	SoftDeleteCampaign(ctx context.Context, id uuid.UUID) error

	// Deliveries
	CreateDelivery(ctx context.Context, d *domain.Delivery) error
	DeliveryByID(ctx context.Context, id uuid.UUID) (*domain.Delivery, error)
	DeliveriesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Delivery, error)
	DeliveryByProviderMessageID(ctx context.Context, messageID string) (*domain.Delivery, error)
	// DeliveryIDByToken is the reverse index behind token resolution.
	DeliveryIDByToken(ctx context.Context, token string) (uuid.UUID, error)
	// HasDelivery reports whether the (campaign, contact) pair already
	// has a delivery row; the scheduler uses it to skip existing rows.
	HasDelivery(ctx context.Context, campaignID, contactID uuid.UUID) (bool, error)

	// State machine. MarkOpened and MarkClicked are idempotent no-ops
	// once their timestamp is set. MarkError escalates to Error only
	// from Pending; after a successful send it records a delivery_status
	// annotation instead and never downgrades the milestone.
	MarkSent(ctx context.Context, id uuid.UUID, provider domain.Provider, providerMessageID string) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkOpened(ctx context.Context, id uuid.UUID) error
	MarkClicked(ctx context.Context, id uuid.UUID) error
	MarkError(ctx context.Context, id uuid.UUID) error
	MergeProviderPayload(ctx context.Context, id uuid.UUID, payload map[string]any) error

	// Link-click counters: lazy insert on first click, atomic increment
	// on every repeat of the same (delivery, original URL) pair.
	RecordClick(ctx context.Context, deliveryID uuid.UUID, originalURL, trackedURL string) error
	LinksByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryLink, error)

	// Tracking-event log (append-only).
	AppendEvent(ctx context.Context, e *domain.TrackingEvent) error
	EventsByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.TrackingEvent, error)

	// Stats
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (StatusCounts, error)
	UpsertCampaignStats(ctx context.Context, s *domain.CampaignStats) error
	StatsByCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
}
