// Package emailer is the engine facade: campaign lifecycle, test sends,
// and stats, wired over the scheduler, queue, router, and store.
package emailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/distlock"
	"github.com/idoneo/emailer/internal/pkg/logger"
	"github.com/idoneo/emailer/internal/provider"
	"github.com/idoneo/emailer/internal/queue"
	"github.com/idoneo/emailer/internal/scheduler"
	"github.com/idoneo/emailer/internal/stats"
	"github.com/idoneo/emailer/internal/store"
	"github.com/idoneo/emailer/internal/template"
	"github.com/idoneo/emailer/internal/token"
)

// LockFactory builds a named distributed lock. nil disables locking,
// which is fine for single-node deployments and tests.
type LockFactory func(key string, ttl time.Duration) distlock.Lock

// Emailer ties the engine together behind campaign-level operations.
type Emailer struct {
	store    store.Store
	queue    *queue.Queue
	sched    *scheduler.Scheduler
	router   *provider.Router
	stats    *stats.Aggregator
	renderer domain.TemplateProvider
	injector *template.Injector
	codec    *token.Codec
	contacts domain.ContactProvider
	locks    LockFactory
}

// New creates the facade.
func New(st store.Store, q *queue.Queue, sched *scheduler.Scheduler, router *provider.Router,
	agg *stats.Aggregator, renderer domain.TemplateProvider, injector *template.Injector,
	codec *token.Codec, contacts domain.ContactProvider, locks LockFactory) *Emailer {
	return &Emailer{
		store:    st,
		queue:    q,
		sched:    sched,
		router:   router,
		stats:    agg,
		renderer: renderer,
		injector: injector,
		codec:    codec,
		contacts: contacts,
		locks:    locks,
	}
}

// CreateCampaign persists a new campaign in the inactive state.
func (e *Emailer) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	return e.store.CreateCampaign(ctx, c)
}

// Campaign loads one campaign.
func (e *Emailer) Campaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return e.store.CampaignByID(ctx, id)
}

// DeleteCampaign soft-deletes a campaign and drops its queued sends.
func (e *Emailer) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	if err := e.store.SoftDeleteCampaign(ctx, id); err != nil {
		return err
	}
	if _, err := e.queue.Purge(ctx, id); err != nil {
		return fmt.Errorf("purge campaign queue: %w", err)
	}
	return nil
}

// Deliveries lists a campaign's delivery rows.
func (e *Emailer) Deliveries(ctx context.Context, campaignID uuid.UUID) ([]domain.Delivery, error) {
	return e.store.DeliveriesByCampaign(ctx, campaignID)
}

// StartCampaign activates a campaign and populates its paced deliveries.
// Restarting a stopped campaign also requeues rows still pending from
// the earlier run. A campaign-scoped lock keeps two nodes from
// populating the same campaign at once; the loser returns without
// creating anything. It returns the number of deliveries created.
func (e *Emailer) StartCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	if err := e.store.SetCampaignStatus(ctx, campaignID, domain.CampaignActive); err != nil {
		return 0, fmt.Errorf("activate campaign: %w", err)
	}
	campaign, err := e.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	if e.locks != nil {
		lock := e.locks("campaign:populate:"+campaignID.String(), 5*time.Minute)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("acquire populate lock: %w", err)
		}
		if !ok {
			logger.Warn("campaign populate already in progress", "campaign_id", campaignID.String())
			return 0, nil
		}
		defer lock.Release(ctx)
	}

	created, err := e.sched.Populate(ctx, campaign)
	if err != nil {
		return created, fmt.Errorf("populate campaign: %w", err)
	}
	// A previous stop purged the tasks of rows Populate now skips.
	if _, err := e.sched.RequeuePending(ctx, campaign); err != nil {
		return created, fmt.Errorf("requeue pending deliveries: %w", err)
	}
	return created, nil
}

// StopCampaign deactivates a campaign and drops its queued sends.
// Deliveries already handed to a provider are unaffected.
func (e *Emailer) StopCampaign(ctx context.Context, campaignID uuid.UUID) error {
	if err := e.store.SetCampaignStatus(ctx, campaignID, domain.CampaignInactive); err != nil {
		return fmt.Errorf("deactivate campaign: %w", err)
	}
	removed, err := e.queue.Purge(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("purge campaign queue: %w", err)
	}
	logger.Info("campaign stopped", "campaign_id", campaignID.String(), "purged", fmt.Sprintf("%d", removed))
	return nil
}

// SendTest sends the campaign synchronously to one address, skipping
// pacing and audience resolution. The delivery row is real, so tracking
// and webhooks work on test sends too. The campaign does not need to be
// active.
func (e *Emailer) SendTest(ctx context.Context, campaignID uuid.UUID, recipient string) (*domain.Delivery, error) {
	if recipient == "" {
		return nil, domain.ErrNoRecipient
	}
	campaign, err := e.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	d := &domain.Delivery{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		TeamID:         campaign.TeamID,
		RecipientEmail: recipient,
	}
	d.TrackingToken = e.codec.Derive(d.ID)
	if err := e.store.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("create test delivery: %w", err)
	}

	msg, err := e.Compose(ctx, campaign, d)
	if err != nil {
		return nil, err
	}
	if err := e.router.Deliver(ctx, d, msg); err != nil {
		return nil, err
	}
	return e.store.DeliveryByID(ctx, d.ID)
}

// CampaignStats recomputes and returns the campaign's aggregates.
func (e *Emailer) CampaignStats(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	return e.stats.Recompute(ctx, campaignID)
}

// Compose renders the outgoing message for a delivery: live contact data
// when the contact still exists, stored recipient fields otherwise, then
// Liquid rendering and tracking injection.
func (e *Emailer) Compose(ctx context.Context, campaign *domain.Campaign, d *domain.Delivery) (*provider.Message, error) {
	toEmail, toName := d.RecipientEmail, d.RecipientName
	if d.ContactID != nil && e.contacts != nil {
		contact, err := e.contacts.ContactByID(ctx, *d.ContactID)
		if err != nil {
			return nil, fmt.Errorf("load contact: %w", err)
		}
		if contact != nil {
			if contact.Email != "" {
				toEmail = contact.Email
			}
			if contact.Name != "" {
				toName = contact.Name
			}
		}
	}

	vars := map[string]any{
		"name":  toName,
		"email": toEmail,
	}
	subject, err := e.renderer.Render(ctx, campaign.TemplateID, campaign.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	html, err := e.renderer.Render(ctx, campaign.TemplateID, campaign.Content, vars)
	if err != nil {
		return nil, fmt.Errorf("render content: %w", err)
	}
	html = e.injector.Inject(html, d.TrackingToken)

	return &provider.Message{
		ID:         d.ID,
		CampaignID: campaign.ID,
		To:         toEmail,
		ToName:     toName,
		Subject:    subject,
		HTML:       html,
		Headers:    e.injector.Headers(d.TrackingToken),
	}, nil
}
