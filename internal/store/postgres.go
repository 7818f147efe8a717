package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// Postgres implements Store on database/sql. All state-machine guards run
// inside single UPDATE statements, so concurrent transitions for the same
// delivery serialize on the row lock and the highest milestone wins.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.CampaignInactive
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO emailer_campaigns (id, team_id, category_id, template_id, name, subject, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, c.ID, c.TeamID, uuidOrNil(c.CategoryID), uuidOrNil(c.TemplateID), c.Name, c.Subject, c.Content, c.Status)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (p *Postgres) CampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, team_id, category_id, template_id, name, subject, content, status, deleted_at, created_at, updated_at
		FROM emailer_campaigns
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	var c domain.Campaign
	var categoryID, templateID uuid.NullUUID
	err := row.Scan(&c.ID, &c.TeamID, &categoryID, &templateID, &c.Name, &c.Subject, &c.Content, &c.Status, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if categoryID.Valid {
		c.CategoryID = &categoryID.UUID
	}
	if templateID.Valid {
		c.TemplateID = &templateID.UUID
	}
	return &c, nil
}

func (p *Postgres) SetCampaignStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE emailer_campaigns SET status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, status)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	return errIfNoRows(res)
}

func (p *Postgres) SoftDeleteCampaign(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE emailer_campaigns SET deleted_at = NOW(), status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, domain.CampaignInactive)
	if err != nil {
		return fmt.Errorf("soft-delete campaign: %w", err)
	}
	return errIfNoRows(res)
}

func (p *Postgres) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.TrackingToken == "" {
		return fmt.Errorf("create delivery: tracking token not derived")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO emailer_deliveries
			(id, campaign_id, team_id, contact_id, recipient_email, recipient_name, status, tracking_token, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, d.ID, d.CampaignID, d.TeamID, uuidOrNil(d.ContactID), d.RecipientEmail, d.RecipientName, d.Status, d.TrackingToken, d.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

const deliveryColumns = `
	id, campaign_id, team_id, contact_id, recipient_email, recipient_name,
	status, tracking_token, scheduled_at, sent_at, delivered_at, opened_at, clicked_at,
	COALESCE(provider, ''), COALESCE(provider_message_id, ''), COALESCE(delivery_status, ''),
	provider_payload, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanDelivery(row rowScanner) (*domain.Delivery, error) {
	var d domain.Delivery
	var contactID uuid.NullUUID
	var payload []byte
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.TeamID, &contactID, &d.RecipientEmail, &d.RecipientName,
		&d.Status, &d.TrackingToken, &d.ScheduledAt, &d.SentAt, &d.DeliveredAt, &d.OpenedAt, &d.ClickedAt,
		&d.Provider, &d.ProviderMessageID, &d.DeliveryStatus,
		&payload, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	if contactID.Valid {
		d.ContactID = &contactID.UUID
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &d.ProviderPayload); err != nil {
			return nil, fmt.Errorf("decode provider payload: %w", err)
		}
	}
	return &d, nil
}

func (p *Postgres) DeliveryByID(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	return p.scanDelivery(p.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM emailer_deliveries WHERE id = $1`, id))
}

func (p *Postgres) DeliveriesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Delivery, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM emailer_deliveries WHERE campaign_id = $1 ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		d, err := p.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (p *Postgres) DeliveryByProviderMessageID(ctx context.Context, messageID string) (*domain.Delivery, error) {
	return p.scanDelivery(p.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM emailer_deliveries WHERE provider_message_id = $1`, messageID))
}

func (p *Postgres) DeliveryIDByToken(ctx context.Context, tok string) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM emailer_deliveries WHERE tracking_token = $1`, tok).Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, domain.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup token: %w", err)
	}
	return id, nil
}

func (p *Postgres) HasDelivery(ctx context.Context, campaignID, contactID uuid.UUID) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM emailer_deliveries WHERE campaign_id = $1 AND contact_id = $2)
	`, campaignID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivery: %w", err)
	}
	return exists, nil
}

func (p *Postgres) MarkSent(ctx context.Context, id uuid.UUID, provider domain.Provider, providerMessageID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET sent_at = COALESCE(sent_at, NOW()),
		    status = CASE WHEN status < $2 THEN $2 ELSE status END,
		    provider = $3,
		    provider_message_id = $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, domain.DeliverySent, provider, providerMessageID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return errIfNoRows(res)
}

func (p *Postgres) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET delivered_at = COALESCE(delivered_at, NOW()),
		    status = CASE WHEN status IN (0, 1) THEN $2 ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, domain.DeliveryDelivered)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return errIfNoRows(res)
}

// MarkOpened is a no-op once opened_at is set; the WHERE guard makes the
// first concurrent caller win and everyone else affect zero rows.
func (p *Postgres) MarkOpened(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET opened_at = NOW(),
		    status = CASE WHEN status IN (0, 1, 2) THEN $2 ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND opened_at IS NULL
	`, id, domain.DeliveryOpened)
	if err != nil {
		return fmt.Errorf("mark opened: %w", err)
	}
	return nil
}

func (p *Postgres) MarkClicked(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET clicked_at = NOW(),
		    status = CASE WHEN status IN (0, 1, 2, 3) THEN $2 ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND clicked_at IS NULL
	`, id, domain.DeliveryClicked)
	if err != nil {
		return fmt.Errorf("mark clicked: %w", err)
	}
	return nil
}

// MarkError escalates to Error only when the send never happened (still
// Pending). A delivery that already reached Sent or beyond keeps its
// milestone and gets a delivery_status annotation instead; the CASE
// expressions all evaluate against the pre-update row.
func (p *Postgres) MarkError(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET sent_at = COALESCE(sent_at, NOW()),
		    status = CASE WHEN status = 0 THEN $2 ELSE status END,
		    delivery_status = CASE WHEN status = 0 THEN 'error' ELSE 'failed' END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, domain.DeliveryError)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return errIfNoRows(res)
}

// MergeProviderPayload union-merges raw webhook data into the delivery,
// last write wins per key (jsonb || semantics).
func (p *Postgres) MergeProviderPayload(ctx context.Context, id uuid.UUID, payload map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode provider payload: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE emailer_deliveries
		SET provider_payload = COALESCE(provider_payload, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1
	`, id, data)
	if err != nil {
		return fmt.Errorf("merge provider payload: %w", err)
	}
	return nil
}

// RecordClick upserts the (delivery, original URL) counter. The increment
// happens inside the conflict clause, so N concurrent clicks always count N.
func (p *Postgres) RecordClick(ctx context.Context, deliveryID uuid.UUID, originalURL, trackedURL string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO emailer_delivery_links
			(id, delivery_id, original_url, link, click_count, first_clicked_at, last_clicked_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (delivery_id, original_url) DO UPDATE
		SET click_count = emailer_delivery_links.click_count + 1,
		    last_clicked_at = NOW()
	`, uuid.New(), deliveryID, originalURL, trackedURL)
	if err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

func (p *Postgres) LinksByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.DeliveryLink, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, delivery_id, original_url, click_count, first_clicked_at, last_clicked_at
		FROM emailer_delivery_links
		WHERE delivery_id = $1
		ORDER BY first_clicked_at
	`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("load delivery links: %w", err)
	}
	defer rows.Close()

	var links []domain.DeliveryLink
	for rows.Next() {
		var l domain.DeliveryLink
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.OriginalURL, &l.ClickCount, &l.FirstClickedAt, &l.LastClickedAt); err != nil {
			return nil, fmt.Errorf("scan delivery link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (p *Postgres) AppendEvent(ctx context.Context, e *domain.TrackingEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TrackedAt.IsZero() {
		e.TrackedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO emailer_tracking_events (id, delivery_id, event, tracked_at, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.DeliveryID, e.Event, e.TrackedAt, e.IPAddress, e.UserAgent, meta)
	if err != nil {
		return fmt.Errorf("append tracking event: %w", err)
	}
	return nil
}

func (p *Postgres) EventsByDelivery(ctx context.Context, deliveryID uuid.UUID) ([]domain.TrackingEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, delivery_id, event, tracked_at, COALESCE(ip_address, ''), COALESCE(user_agent, ''), metadata
		FROM emailer_tracking_events
		WHERE delivery_id = $1
		ORDER BY tracked_at
	`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("load tracking events: %w", err)
	}
	defer rows.Close()

	var events []domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		var meta []byte
		if err := rows.Scan(&e.ID, &e.DeliveryID, &e.Event, &e.TrackedAt, &e.IPAddress, &e.UserAgent, &meta); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (StatusCounts, error) {
	var c StatusCounts
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 0),
			COUNT(*) FILTER (WHERE status BETWEEN 1 AND 4),
			COUNT(*) FILTER (WHERE delivered_at IS NOT NULL),
			COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE clicked_at IS NOT NULL),
			COUNT(*) FILTER (WHERE status = 5)
		FROM emailer_deliveries
		WHERE campaign_id = $1
	`, campaignID).Scan(&c.Total, &c.Pending, &c.Sent, &c.Delivered, &c.Opened, &c.Clicked, &c.Failed)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count deliveries: %w", err)
	}
	return c, nil
}

func (p *Postgres) UpsertCampaignStats(ctx context.Context, s *domain.CampaignStats) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO emailer_campaign_stats
			(campaign_id, total_contacts, sent, delivered, opened, clicked, failed, pending,
			 success_rate, open_rate, click_rate, bounce_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (campaign_id) DO UPDATE SET
			total_contacts = EXCLUDED.total_contacts,
			sent = EXCLUDED.sent,
			delivered = EXCLUDED.delivered,
			opened = EXCLUDED.opened,
			clicked = EXCLUDED.clicked,
			failed = EXCLUDED.failed,
			pending = EXCLUDED.pending,
			success_rate = EXCLUDED.success_rate,
			open_rate = EXCLUDED.open_rate,
			click_rate = EXCLUDED.click_rate,
			bounce_rate = EXCLUDED.bounce_rate,
			updated_at = NOW()
	`, s.CampaignID, s.TotalContacts, s.Sent, s.Delivered, s.Opened, s.Clicked, s.Failed, s.Pending,
		s.SuccessRate, s.OpenRate, s.ClickRate, s.BounceRate)
	if err != nil {
		return fmt.Errorf("upsert campaign stats: %w", err)
	}
	return nil
}

func (p *Postgres) StatsByCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	var s domain.CampaignStats
	err := p.db.QueryRowContext(ctx, `
		SELECT campaign_id, total_contacts, sent, delivered, opened, clicked, failed, pending,
		       success_rate, open_rate, click_rate, bounce_rate, updated_at
		FROM emailer_campaign_stats
		WHERE campaign_id = $1
	`, campaignID).Scan(
		&s.CampaignID, &s.TotalContacts, &s.Sent, &s.Delivered, &s.Opened, &s.Clicked, &s.Failed, &s.Pending,
		&s.SuccessRate, &s.OpenRate, &s.ClickRate, &s.BounceRate, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign stats: %w", err)
	}
	return &s, nil
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func errIfNoRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil // driver without RowsAffected support; treat as success
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
