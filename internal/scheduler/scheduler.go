// Package scheduler turns an active campaign into paced delivery rows
// and queued send tasks.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
	"github.com/idoneo/emailer/internal/queue"
	"github.com/idoneo/emailer/internal/store"
	"github.com/idoneo/emailer/internal/token"
)

// Pacing spreads a campaign's sends over time: each new delivery is
// offset by its position times BaseMinutes, plus up to MaxRandomSeconds
// of jitter so sends do not land on exact minute boundaries.
type Pacing struct {
	BaseMinutes      int
	MaxRandomSeconds int
}

// Scheduler creates delivery rows and enqueues their send tasks.
type Scheduler struct {
	store      store.Store
	queue      *queue.Queue
	codec      *token.Codec
	contacts   domain.ContactProvider
	categories domain.CategoryProvider
	pacing     Pacing

	// now and jitter are swappable for tests.
	now    func() time.Time
	jitter func(maxSeconds int) time.Duration
}

// New creates a Scheduler.
func New(st store.Store, q *queue.Queue, codec *token.Codec,
	contacts domain.ContactProvider, categories domain.CategoryProvider, pacing Pacing) *Scheduler {
	return &Scheduler{
		store:      st,
		queue:      q,
		codec:      codec,
		contacts:   contacts,
		categories: categories,
		pacing:     pacing,
		now:        time.Now,
		jitter: func(maxSeconds int) time.Duration {
			if maxSeconds <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(maxSeconds)+1)) * time.Second
		},
	}
}

// Populate creates delivery rows for every audience contact that does not
// have one yet and enqueues their send tasks. The pacing position counts
// only newly created deliveries, so re-running after a partial populate
// never stretches the schedule with gaps for already-covered contacts.
// It returns the number of deliveries created.
func (s *Scheduler) Populate(ctx context.Context, campaign *domain.Campaign) (int, error) {
	if !campaign.IsActive() {
		return 0, domain.ErrInactiveCampaign
	}

	audience, err := s.audience(ctx, campaign)
	if err != nil {
		return 0, err
	}

	base := time.Duration(s.pacing.BaseMinutes) * time.Minute
	start := s.now()
	created := 0
	for _, contact := range audience {
		if contact.Email == "" {
			continue
		}
		exists, err := s.store.HasDelivery(ctx, campaign.ID, contact.ID)
		if err != nil {
			return created, fmt.Errorf("check existing delivery: %w", err)
		}
		if exists {
			continue
		}

		scheduledAt := start.Add(time.Duration(created)*base + s.jitter(s.pacing.MaxRandomSeconds))
		contactID := contact.ID
		d := &domain.Delivery{
			CampaignID:     campaign.ID,
			TeamID:         campaign.TeamID,
			ContactID:      &contactID,
			RecipientEmail: contact.Email,
			RecipientName:  contact.Name,
			ScheduledAt:    &scheduledAt,
		}
		d.ID = uuid.New()
		d.TrackingToken = s.codec.Derive(d.ID)

		if err := s.store.CreateDelivery(ctx, d); err != nil {
			return created, fmt.Errorf("create delivery: %w", err)
		}
		if err := s.queue.Enqueue(ctx, queue.Task{DeliveryID: d.ID, CampaignID: campaign.ID}, scheduledAt); err != nil {
			return created, fmt.Errorf("enqueue delivery: %w", err)
		}
		created++
	}

	logger.Info("campaign populated",
		"campaign_id", campaign.ID.String(),
		"audience", fmt.Sprintf("%d", len(audience)),
		"created", fmt.Sprintf("%d", created))
	return created, nil
}

// RequeuePending enqueues a send task for every delivery of the campaign
// that is still pending. Stopping a campaign purges its queued tasks, and
// Populate skips contacts that already have rows, so a restart needs this
// to bring the untouched rows back. Tasks carry no attempt state here and
// identical members share a sorted-set slot, so rows Populate just
// enqueued are not duplicated.
func (s *Scheduler) RequeuePending(ctx context.Context, campaign *domain.Campaign) (int, error) {
	deliveries, err := s.store.DeliveriesByCampaign(ctx, campaign.ID)
	if err != nil {
		return 0, fmt.Errorf("list deliveries: %w", err)
	}

	requeued := 0
	for _, d := range deliveries {
		if d.Status != domain.DeliveryPending {
			continue
		}
		// Rows whose pacing slot already passed become ripe immediately.
		dueAt := s.now()
		if d.ScheduledAt != nil && d.ScheduledAt.After(dueAt) {
			dueAt = *d.ScheduledAt
		}
		if err := s.queue.Enqueue(ctx, queue.Task{DeliveryID: d.ID, CampaignID: campaign.ID}, dueAt); err != nil {
			return requeued, fmt.Errorf("requeue delivery: %w", err)
		}
		requeued++
	}
	return requeued, nil
}

func (s *Scheduler) audience(ctx context.Context, campaign *domain.Campaign) ([]domain.Contact, error) {
	if campaign.CategoryID != nil {
		contacts, err := s.categories.ActiveByCategory(ctx, *campaign.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("resolve category audience: %w", err)
		}
		return contacts, nil
	}
	contacts, err := s.contacts.ActiveByTeam(ctx, campaign.TeamID)
	if err != nil {
		return nil, fmt.Errorf("resolve team audience: %w", err)
	}
	return contacts, nil
}
