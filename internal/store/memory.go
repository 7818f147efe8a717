package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// Memory is an in-memory Store used by tests and by the dev server when no
// DATABASE_URL is configured. One mutex guards everything; at in-memory
// scale that is cheaper and simpler than per-delivery locks.
type Memory struct {
	mu         sync.Mutex
	campaigns  map[uuid.UUID]*domain.Campaign
	deliveries map[uuid.UUID]*domain.Delivery
	byToken    map[string]uuid.UUID
	byMsgID    map[string]uuid.UUID
	links      map[uuid.UUID]map[string]*domain.DeliveryLink
	events     map[uuid.UUID][]domain.TrackingEvent
	stats      map[uuid.UUID]*domain.CampaignStats
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		campaigns:  make(map[uuid.UUID]*domain.Campaign),
		deliveries: make(map[uuid.UUID]*domain.Delivery),
		byToken:    make(map[string]uuid.UUID),
		byMsgID:    make(map[string]uuid.UUID),
		links:      make(map[uuid.UUID]map[string]*domain.DeliveryLink),
		events:     make(map[uuid.UUID][]domain.TrackingEvent),
		stats:      make(map[uuid.UUID]*domain.CampaignStats),
	}
}

func (m *Memory) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.CampaignInactive
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *Memory) CampaignByID(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) SetCampaignStatus(_ context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return domain.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SoftDeleteCampaign(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.DeletedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	c.Status = domain.CampaignInactive
	return nil
}

func (m *Memory) CreateDelivery(_ context.Context, d *domain.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	m.deliveries[d.ID] = &cp
	if d.TrackingToken != "" {
		m.byToken[d.TrackingToken] = d.ID
	}
	return nil
}

func (m *Memory) DeliveryByID(_ context.Context, id uuid.UUID) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) DeliveriesByCampaign(_ context.Context, campaignID uuid.UUID) ([]domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Delivery
	for _, d := range m.deliveries {
		if d.CampaignID == campaignID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeliveryByProviderMessageID(_ context.Context, messageID string) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMsgID[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m.deliveries[id]
	return &cp, nil
}

func (m *Memory) DeliveryIDByToken(_ context.Context, token string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return id, nil
}

func (m *Memory) HasDelivery(_ context.Context, campaignID, contactID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.CampaignID == campaignID && d.ContactID != nil && *d.ContactID == contactID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) MarkSent(_ context.Context, id uuid.UUID, provider domain.Provider, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	if d.SentAt == nil {
		d.SentAt = &now
	}
	if d.Status.CanAdvanceTo(domain.DeliverySent) {
		d.Status = domain.DeliverySent
	}
	d.Provider = provider
	d.ProviderMessageID = providerMessageID
	d.UpdatedAt = now
	if providerMessageID != "" {
		m.byMsgID[providerMessageID] = id
	}
	return nil
}

func (m *Memory) MarkDelivered(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	if d.DeliveredAt == nil {
		d.DeliveredAt = &now
	}
	if d.Status.CanAdvanceTo(domain.DeliveryDelivered) {
		d.Status = domain.DeliveryDelivered
	}
	d.UpdatedAt = now
	return nil
}

func (m *Memory) MarkOpened(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.OpenedAt != nil {
		return nil // idempotent
	}
	now := time.Now().UTC()
	d.OpenedAt = &now
	if d.Status.CanAdvanceTo(domain.DeliveryOpened) {
		d.Status = domain.DeliveryOpened
	}
	d.UpdatedAt = now
	return nil
}

func (m *Memory) MarkClicked(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.ClickedAt != nil {
		return nil // idempotent
	}
	now := time.Now().UTC()
	d.ClickedAt = &now
	if d.Status.CanAdvanceTo(domain.DeliveryClicked) {
		d.Status = domain.DeliveryClicked
	}
	d.UpdatedAt = now
	return nil
}

func (m *Memory) MarkError(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	if d.SentAt == nil {
		d.SentAt = &now
	}
	if d.Status == domain.DeliveryPending {
		d.Status = domain.DeliveryError
		d.DeliveryStatus = "error"
	} else {
		d.DeliveryStatus = "failed"
	}
	d.UpdatedAt = now
	return nil
}

func (m *Memory) MergeProviderPayload(_ context.Context, id uuid.UUID, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.ProviderPayload == nil {
		d.ProviderPayload = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		d.ProviderPayload[k] = v
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) RecordClick(_ context.Context, deliveryID uuid.UUID, originalURL, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byURL, ok := m.links[deliveryID]
	if !ok {
		byURL = make(map[string]*domain.DeliveryLink)
		m.links[deliveryID] = byURL
	}
	now := time.Now().UTC()
	if l, ok := byURL[originalURL]; ok {
		l.ClickCount++
		l.LastClickedAt = &now
		return nil
	}
	byURL[originalURL] = &domain.DeliveryLink{
		ID:             uuid.New(),
		DeliveryID:     deliveryID,
		OriginalURL:    originalURL,
		ClickCount:     1,
		FirstClickedAt: &now,
		LastClickedAt:  &now,
	}
	return nil
}

func (m *Memory) LinksByDelivery(_ context.Context, deliveryID uuid.UUID) ([]domain.DeliveryLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryLink
	for _, l := range m.links[deliveryID] {
		out = append(out, *l)
	}
	return out, nil
}

func (m *Memory) AppendEvent(_ context.Context, e *domain.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TrackedAt.IsZero() {
		e.TrackedAt = time.Now().UTC()
	}
	m.events[e.DeliveryID] = append(m.events[e.DeliveryID], *e)
	return nil
}

func (m *Memory) EventsByDelivery(_ context.Context, deliveryID uuid.UUID) ([]domain.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackingEvent, len(m.events[deliveryID]))
	copy(out, m.events[deliveryID])
	return out, nil
}

func (m *Memory) CountByCampaign(_ context.Context, campaignID uuid.UUID) (StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c StatusCounts
	for _, d := range m.deliveries {
		if d.CampaignID != campaignID {
			continue
		}
		c.Total++
		switch {
		case d.Status == domain.DeliveryPending:
			c.Pending++
		case d.Status == domain.DeliveryError:
			c.Failed++
		default:
			c.Sent++
		}
		if d.DeliveredAt != nil {
			c.Delivered++
		}
		if d.OpenedAt != nil {
			c.Opened++
		}
		if d.ClickedAt != nil {
			c.Clicked++
		}
	}
	return c, nil
}

func (m *Memory) UpsertCampaignStats(_ context.Context, s *domain.CampaignStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	m.stats[s.CampaignID] = &cp
	return nil
}

func (m *Memory) StatsByCampaign(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[campaignID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}
