package store

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

func newDelivery(t *testing.T, m *Memory, campaignID uuid.UUID) *domain.Delivery {
	t.Helper()
	d := &domain.Delivery{
		CampaignID:     campaignID,
		TeamID:         uuid.New(),
		RecipientEmail: "recipient@example.com",
	}
	if err := m.CreateDelivery(context.Background(), d); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	return d
}

func TestMarkSentSetsMilestoneOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())

	if err := m.MarkSent(ctx, d.ID, domain.ProviderMailgun, "msg-1"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	got, _ := m.DeliveryByID(ctx, d.ID)
	if got.Status != domain.DeliverySent {
		t.Errorf("status = %v, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sent_at not set")
	}
	firstSentAt := *got.SentAt

	// A redundant MarkSent must not rewind sent_at.
	if err := m.MarkSent(ctx, d.ID, domain.ProviderSMTP, "msg-2"); err != nil {
		t.Fatalf("MarkSent again: %v", err)
	}
	got, _ = m.DeliveryByID(ctx, d.ID)
	if !got.SentAt.Equal(firstSentAt) {
		t.Error("sent_at changed on repeated MarkSent")
	}

	if _, err := m.DeliveryByProviderMessageID(ctx, "msg-1"); err != nil {
		t.Errorf("DeliveryByProviderMessageID(msg-1): %v", err)
	}
}

func TestMarkOpenedIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())
	m.MarkSent(ctx, d.ID, domain.ProviderSMTP, "")

	if err := m.MarkOpened(ctx, d.ID); err != nil {
		t.Fatalf("MarkOpened: %v", err)
	}
	first, _ := m.DeliveryByID(ctx, d.ID)
	if first.Status != domain.DeliveryOpened || first.OpenedAt == nil {
		t.Fatalf("after first open: status=%v opened_at=%v", first.Status, first.OpenedAt)
	}

	if err := m.MarkOpened(ctx, d.ID); err != nil {
		t.Fatalf("MarkOpened again: %v", err)
	}
	second, _ := m.DeliveryByID(ctx, d.ID)
	if !second.OpenedAt.Equal(*first.OpenedAt) {
		t.Error("opened_at changed on repeated MarkOpened")
	}
}

func TestOpenAfterClickKeepsClickedStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())
	m.MarkSent(ctx, d.ID, domain.ProviderSMTP, "")
	m.MarkClicked(ctx, d.ID)

	// Webhooks can deliver the open after the click. The timestamp is
	// still recorded but the status never moves backwards.
	if err := m.MarkOpened(ctx, d.ID); err != nil {
		t.Fatalf("MarkOpened: %v", err)
	}
	got, _ := m.DeliveryByID(ctx, d.ID)
	if got.Status != domain.DeliveryClicked {
		t.Errorf("status = %v, want clicked", got.Status)
	}
	if got.OpenedAt == nil {
		t.Error("opened_at not recorded")
	}
}

func TestMarkErrorOnlyFromPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	pending := newDelivery(t, m, uuid.New())
	if err := m.MarkError(ctx, pending.ID); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	got, _ := m.DeliveryByID(ctx, pending.ID)
	if got.Status != domain.DeliveryError {
		t.Errorf("pending delivery status = %v, want error", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sent_at not stamped on error")
	}
	if got.DeliveryStatus != "error" {
		t.Errorf("delivery_status = %q, want error", got.DeliveryStatus)
	}

	opened := newDelivery(t, m, uuid.New())
	m.MarkSent(ctx, opened.ID, domain.ProviderSMTP, "")
	m.MarkOpened(ctx, opened.ID)
	if err := m.MarkError(ctx, opened.ID); err != nil {
		t.Fatalf("MarkError after open: %v", err)
	}
	got, _ = m.DeliveryByID(ctx, opened.ID)
	if got.Status != domain.DeliveryOpened {
		t.Errorf("opened delivery status = %v, must not downgrade", got.Status)
	}
	if got.DeliveryStatus != "failed" {
		t.Errorf("delivery_status = %q, want failed", got.DeliveryStatus)
	}
}

func TestErrorIsSticky(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())
	m.MarkError(ctx, d.ID)

	// Late webhooks for an errored delivery record timestamps only.
	m.MarkOpened(ctx, d.ID)
	m.MarkClicked(ctx, d.ID)
	got, _ := m.DeliveryByID(ctx, d.ID)
	if got.Status != domain.DeliveryError {
		t.Errorf("status = %v, error must be sticky", got.Status)
	}
	if got.OpenedAt == nil || got.ClickedAt == nil {
		t.Error("timestamps must still be recorded on an errored delivery")
	}
}

func TestRecordClickCountsEveryHit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())

	const hits = 50
	var wg sync.WaitGroup
	for range hits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.RecordClick(ctx, d.ID, "https://example.com/offer", "tok"); err != nil {
				t.Errorf("RecordClick: %v", err)
			}
		}()
	}
	wg.Wait()

	links, err := m.LinksByDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("LinksByDelivery: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	if links[0].ClickCount != hits {
		t.Errorf("click_count = %d, want %d", links[0].ClickCount, hits)
	}
	if links[0].FirstClickedAt == nil || links[0].LastClickedAt == nil {
		t.Error("first/last clicked timestamps not set")
	}
}

func TestRecordClickSeparatesURLs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := newDelivery(t, m, uuid.New())

	m.RecordClick(ctx, d.ID, "https://example.com/a", "tok")
	m.RecordClick(ctx, d.ID, "https://example.com/b", "tok")
	m.RecordClick(ctx, d.ID, "https://example.com/a", "tok")

	links, _ := m.LinksByDelivery(ctx, d.ID)
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	counts := map[string]int{}
	for _, l := range links {
		counts[l.OriginalURL] = l.ClickCount
	}
	if counts["https://example.com/a"] != 2 || counts["https://example.com/b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCountByCampaign(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	campaignID := uuid.New()

	// 3 pending, 3 sent-only, 3 opened (one of them clicked), 1 error.
	for range 3 {
		newDelivery(t, m, campaignID)
	}
	for range 3 {
		d := newDelivery(t, m, campaignID)
		m.MarkSent(ctx, d.ID, domain.ProviderSMTP, "")
	}
	var clicked uuid.UUID
	for i := range 3 {
		d := newDelivery(t, m, campaignID)
		m.MarkSent(ctx, d.ID, domain.ProviderSMTP, "")
		m.MarkOpened(ctx, d.ID)
		if i == 0 {
			m.MarkClicked(ctx, d.ID)
			clicked = d.ID
		}
	}
	errored := newDelivery(t, m, campaignID)
	m.MarkError(ctx, errored.ID)

	// Another campaign's rows must not leak into the counts.
	other := newDelivery(t, m, uuid.New())
	m.MarkSent(ctx, other.ID, domain.ProviderSMTP, "")

	got, err := m.CountByCampaign(ctx, campaignID)
	if err != nil {
		t.Fatalf("CountByCampaign: %v", err)
	}
	want := StatusCounts{Total: 10, Pending: 3, Sent: 6, Opened: 3, Clicked: 1, Failed: 1}
	if got != want {
		t.Errorf("CountByCampaign = %+v, want %+v", got, want)
	}
	_ = clicked
}

func TestSoftDeleteHidesCampaign(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	c := &domain.Campaign{TeamID: uuid.New(), Name: "launch", Status: domain.CampaignActive}
	if err := m.CreateCampaign(ctx, c); err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if err := m.SoftDeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("SoftDeleteCampaign: %v", err)
	}
	if _, err := m.CampaignByID(ctx, c.ID); err != domain.ErrNotFound {
		t.Errorf("CampaignByID after delete = %v, want ErrNotFound", err)
	}
	if err := m.SetCampaignStatus(ctx, c.ID, domain.CampaignActive); err != domain.ErrNotFound {
		t.Errorf("SetCampaignStatus after delete = %v, want ErrNotFound", err)
	}
}

func TestTokenIndex(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	d := &domain.Delivery{
		CampaignID:     uuid.New(),
		TeamID:         uuid.New(),
		RecipientEmail: "recipient@example.com",
		TrackingToken:  "deadbeef",
	}
	if err := m.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}
	id, err := m.DeliveryIDByToken(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("DeliveryIDByToken: %v", err)
	}
	if id != d.ID {
		t.Errorf("DeliveryIDByToken = %s, want %s", id, d.ID)
	}
	if _, err := m.DeliveryIDByToken(ctx, "unknown"); err != domain.ErrNotFound {
		t.Errorf("unknown token error = %v, want ErrNotFound", err)
	}
}
