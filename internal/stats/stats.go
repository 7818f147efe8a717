// Package stats recomputes per-campaign aggregates from delivery rows.
// The stats table is a cache; every number in it can be rebuilt from
// scratch with one Recompute call.
package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/store"
)

// Aggregator recomputes and persists campaign stats.
type Aggregator struct {
	store store.Store
}

// New creates an Aggregator over the given store.
func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Recompute rebuilds the stats row for a campaign from its delivery counts
// and upserts it. Rates are percentages rounded to two decimals; empty
// denominators yield zero.
func (a *Aggregator) Recompute(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	counts, err := a.store.CountByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("recompute stats: %w", err)
	}

	s := &domain.CampaignStats{
		CampaignID:    campaignID,
		TotalContacts: counts.Total,
		Sent:          counts.Sent,
		Delivered:     counts.Delivered,
		Opened:        counts.Opened,
		Clicked:       counts.Clicked,
		Failed:        counts.Failed,
		Pending:       counts.Pending,
		SuccessRate:   rate(counts.Sent, counts.Total),
		OpenRate:      rate(counts.Opened, counts.Sent),
		ClickRate:     rate(counts.Clicked, counts.Sent),
		BounceRate:    rate(counts.Failed, counts.Total),
	}
	if err := a.store.UpsertCampaignStats(ctx, s); err != nil {
		return nil, fmt.Errorf("recompute stats: %w", err)
	}
	return s, nil
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
