package domain

import "errors"

var (
	// ErrNotFound is returned when a delivery, campaign, or token cannot
	// be resolved. Unknown tracking tokens surface this, never a panic.
	ErrNotFound = errors.New("not found")

	// ErrNoRecipient means neither a live contact email nor a stored
	// fallback address is available. The delivery is marked Error and
	// never retried.
	ErrNoRecipient = errors.New("no recipient email available")

	// ErrInactiveCampaign means the campaign was stopped before the send
	// started. The task is dropped; this is not a failure.
	ErrInactiveCampaign = errors.New("campaign is not active")
)
