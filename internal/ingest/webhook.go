package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
)

// event is a provider webhook normalized to the engine's vocabulary.
type event struct {
	MessageID string
	Kind      domain.EventKind
	Raw       map[string]any
}

// providerEventKinds maps each provider's event names onto the normalized
// kinds. Anything not listed is logged and ignored with a 200, so
// providers do not retry events the engine does not care about.
var providerEventKinds = map[string]domain.EventKind{
	"delivered":    domain.EventDelivered,
	"opened":       domain.EventOpened,
	"open":         domain.EventOpened,
	"clicked":      domain.EventClicked,
	"click":        domain.EventClicked,
	"failed":       domain.EventBounced,
	"rejected":     domain.EventBounced,
	"bounce":       domain.EventBounced,
	"bounced":      domain.EventBounced,
	"dropped":      domain.EventBounced,
	"unsubscribed": domain.EventUnsubscribed,
	"unsubscribe":  domain.EventUnsubscribed,
}

// Webhook ingests a provider callback. Events correlate to deliveries by
// provider message id; events for unknown messages are acknowledged and
// dropped, malformed payloads get a 400 so the provider retries.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var events []event
	switch domain.Provider(providerName) {
	case domain.ProviderMailgun:
		events, err = parseMailgun(body)
	case domain.ProviderSendGrid:
		events, err = parseSendGrid(body)
	case domain.ProviderMailBaby:
		events, err = parseMailBaby(body)
	default:
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Warn("malformed webhook", "provider", providerName, "error", err.Error())
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		h.applyEvent(r.Context(), providerName, ev)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) applyEvent(ctx context.Context, providerName string, ev event) {
	if ev.MessageID == "" {
		logger.Warn("webhook event without message id", "provider", providerName)
		return
	}
	d, err := h.store.DeliveryByProviderMessageID(ctx, ev.MessageID)
	if err == domain.ErrNotFound {
		logger.Warn("webhook for unknown message", "provider", providerName, "message_id", ev.MessageID)
		return
	}
	if err != nil {
		logger.Error("webhook delivery lookup failed", "provider", providerName, "error", err.Error())
		return
	}

	switch ev.Kind {
	case domain.EventDelivered:
		err = h.store.MarkDelivered(ctx, d.ID)
	case domain.EventOpened:
		err = h.store.MarkOpened(ctx, d.ID)
	case domain.EventClicked:
		err = h.store.MarkClicked(ctx, d.ID)
	case domain.EventBounced:
		err = h.store.MarkError(ctx, d.ID)
	case domain.EventUnsubscribed:
		if d.ContactID != nil && h.contacts != nil {
			err = h.contacts.Unsubscribe(ctx, *d.ContactID)
		}
	}
	if err != nil {
		logger.Error("webhook transition failed",
			"provider", providerName, "delivery_id", d.ID.String(), "event", string(ev.Kind), "error", err.Error())
		return
	}

	h.store.AppendEvent(ctx, &domain.TrackingEvent{
		DeliveryID: d.ID,
		Event:      ev.Kind,
		Metadata:   map[string]any{"provider": providerName, "message_id": ev.MessageID},
	})
	if len(ev.Raw) > 0 {
		if err := h.store.MergeProviderPayload(ctx, d.ID, ev.Raw); err != nil {
			logger.Error("payload merge failed", "delivery_id", d.ID.String(), "error", err.Error())
		}
	}
	logger.Debug("webhook applied",
		"provider", providerName, "delivery_id", d.ID.String(), "event", string(ev.Kind))
}

// parseMailgun handles the Mailgun events webhook: one event per request,
// nested under event-data.
func parseMailgun(body []byte) ([]event, error) {
	var payload struct {
		EventData map[string]any `json:"event-data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode mailgun payload: %w", err)
	}
	if payload.EventData == nil {
		return nil, fmt.Errorf("mailgun payload missing event-data")
	}

	name, _ := payload.EventData["event"].(string)
	kind, ok := providerEventKinds[strings.ToLower(name)]
	if !ok {
		logger.Info("ignoring mailgun event", "event", name)
		return nil, nil
	}

	var messageID string
	if msg, ok := payload.EventData["message"].(map[string]any); ok {
		if hdrs, ok := msg["headers"].(map[string]any); ok {
			messageID, _ = hdrs["message-id"].(string)
		}
	}
	return []event{{
		MessageID: strings.Trim(messageID, "<>"),
		Kind:      kind,
		Raw:       payload.EventData,
	}}, nil
}

// parseSendGrid handles the SendGrid event webhook: a JSON array, many
// events per request.
func parseSendGrid(body []byte) ([]event, error) {
	var payload []map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode sendgrid payload: %w", err)
	}

	var events []event
	for _, item := range payload {
		name, _ := item["event"].(string)
		kind, ok := providerEventKinds[strings.ToLower(name)]
		if !ok {
			logger.Info("ignoring sendgrid event", "event", name)
			continue
		}
		messageID, _ := item["sg_message_id"].(string)
		// sg_message_id carries filter suffixes after the first dot.
		if i := strings.IndexByte(messageID, '.'); i > 0 {
			messageID = messageID[:i]
		}
		events = append(events, event{MessageID: messageID, Kind: kind, Raw: item})
	}
	return events, nil
}

// parseMailBaby handles the MailBaby callback: a flat JSON object.
func parseMailBaby(body []byte) ([]event, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode mailbaby payload: %w", err)
	}

	name, _ := payload["event"].(string)
	kind, ok := providerEventKinds[strings.ToLower(name)]
	if !ok {
		logger.Info("ignoring mailbaby event", "event", name)
		return nil, nil
	}
	messageID, _ := payload["message_id"].(string)
	return []event{{MessageID: messageID, Kind: kind, Raw: payload}}, nil
}
