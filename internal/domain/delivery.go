package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the highest milestone a delivery has reached.
// The numeric values double as a rank: a delivery's status only ever
// moves to a higher rank, with Error as the one exception (it is set
// only when the send never happened and is sticky afterwards).
type DeliveryStatus int

const (
	DeliveryPending   DeliveryStatus = 0
	DeliverySent      DeliveryStatus = 1
	DeliveryDelivered DeliveryStatus = 2
	DeliveryOpened    DeliveryStatus = 3
	DeliveryClicked   DeliveryStatus = 4
	DeliveryError     DeliveryStatus = 5
)

var deliveryStatusNames = map[DeliveryStatus]string{
	DeliveryPending:   "pending",
	DeliverySent:      "sent",
	DeliveryDelivered: "delivered",
	DeliveryOpened:    "opened",
	DeliveryClicked:   "clicked",
	DeliveryError:     "error",
}

func (s DeliveryStatus) String() string {
	if name, ok := deliveryStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Rank returns the milestone rank used for transition guards. Error does
// not participate in the milestone ladder and ranks below everything so
// it can never overwrite a real milestone.
func (s DeliveryStatus) Rank() int {
	if s == DeliveryError {
		return -1
	}
	return int(s)
}

// CanAdvanceTo reports whether a delivery currently in status s may move
// to the milestone next. Error is sticky: once set, milestone bumps are
// refused (timestamps may still be recorded, see Store semantics).
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == DeliveryError {
		return false
	}
	return next.Rank() > s.Rank()
}

// Provider identifies the transport a delivery was (or will be) sent through.
type Provider string

const (
	ProviderSMTP     Provider = "smtp"
	ProviderMailgun  Provider = "mailgun"
	ProviderSendGrid Provider = "sendgrid"
	ProviderMailBaby Provider = "mailbaby"
)

// ValidProvider reports whether p is one of the supported transports.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderSMTP, ProviderMailgun, ProviderSendGrid, ProviderMailBaby:
		return true
	}
	return false
}

// Delivery is one scheduled/sent email instance for one (campaign, recipient)
// pair. RecipientEmail/RecipientName are captured at creation so the delivery
// survives removal of the contact record.
type Delivery struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	CampaignID   uuid.UUID      `json:"campaign_id" db:"campaign_id"`
	TeamID       uuid.UUID      `json:"team_id" db:"team_id"`
	ContactID    *uuid.UUID     `json:"contact_id" db:"contact_id"`
	RecipientEmail string       `json:"recipient_email" db:"recipient_email"`
	RecipientName  string       `json:"recipient_name" db:"recipient_name"`
	Status       DeliveryStatus `json:"status" db:"status"`

	// TrackingToken is the keyed-hash token derived at creation time and
	// persisted so inbound tracking hits resolve with an index lookup.
	TrackingToken string `json:"-" db:"tracking_token"`

	// ScheduledAt nil means send as soon as a worker picks it up.
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at" db:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at" db:"clicked_at"`

	Provider          Provider `json:"provider" db:"provider"`
	ProviderMessageID string   `json:"provider_message_id" db:"provider_message_id"`

	// DeliveryStatus is a free-form provider annotation ("failed",
	// "deferred", ...). Post-send provider failures land here instead of
	// downgrading Status.
	DeliveryStatus string `json:"delivery_status" db:"delivery_status"`

	// ProviderPayload is the union-merged raw webhook data, last write
	// wins per key.
	ProviderPayload map[string]any `json:"provider_payload" db:"provider_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recipient returns the address a send should go to: the stored fallback
// email (which the scheduler copies from the contact at creation time).
// Callers that can reach a live contact record should prefer its current
// address; this is the fallback.
func (d *Delivery) Recipient() string {
	return d.RecipientEmail
}
