package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a tracking-event log entry.
type EventKind string

const (
	EventOpened       EventKind = "opened"
	EventClicked      EventKind = "clicked"
	EventUnsubscribed EventKind = "unsubscribed"
	EventDelivered    EventKind = "delivered"
	EventBounced      EventKind = "bounced"
)

// TrackingEvent is an append-only log entry. Rows are written once and
// never mutated; idempotence lives in the delivery state machine, not here.
type TrackingEvent struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	DeliveryID uuid.UUID      `json:"delivery_id" db:"delivery_id"`
	Event      EventKind      `json:"event" db:"event"`
	TrackedAt  time.Time      `json:"tracked_at" db:"tracked_at"`
	IPAddress  string         `json:"ip_address" db:"ip_address"`
	UserAgent  string         `json:"user_agent" db:"user_agent"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
}

// DeliveryLink counts clicks on one original URL within one delivery.
// The (DeliveryID, OriginalURL) pair is unique; the row is created lazily
// on first click and incremented on every repeat.
type DeliveryLink struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DeliveryID     uuid.UUID  `json:"delivery_id" db:"delivery_id"`
	OriginalURL    string     `json:"original_url" db:"original_url"`
	ClickCount     int        `json:"click_count" db:"click_count"`
	FirstClickedAt *time.Time `json:"first_clicked_at" db:"first_clicked_at"`
	LastClickedAt  *time.Time `json:"last_clicked_at" db:"last_clicked_at"`
}
