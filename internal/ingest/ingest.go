// Package ingest receives everything the outside world sends back:
// open-pixel hits, click redirects, unsubscribes, and provider webhooks.
package ingest

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/pkg/logger"
	"github.com/idoneo/emailer/internal/store"
	"github.com/idoneo/emailer/internal/token"
)

// pixelGIF is a transparent 1x1 GIF. Tracking endpoints always serve it,
// valid token or not, so scanners cannot probe which tokens exist.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking and webhook surface.
type Handler struct {
	codec    *token.Codec
	store    store.Store
	contacts domain.ContactProvider
}

// NewHandler creates the ingest handler.
func NewHandler(codec *token.Codec, st store.Store, contacts domain.ContactProvider) *Handler {
	return &Handler{codec: codec, store: st, contacts: contacts}
}

// Routes returns the public router: tracking, unsubscribe, and webhooks.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/{token}", h.TrackOpen)
	r.Get("/track-click/{token}", h.TrackClick)
	r.Get("/unsubscribe/{token}", h.Unsubscribe)
	r.Post("/webhook/{provider}", h.Webhook)
	return r
}

// TrackOpen records an open and serves the pixel. Failures are logged,
// never surfaced; the response is the pixel either way.
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id, err := h.codec.Resolve(ctx, chi.URLParam(r, "token")); err == nil {
		h.recordOpen(ctx, id, r)
	} else if err != domain.ErrNotFound {
		logger.Error("open tracking failed", "error", err.Error())
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(pixelGIF)
}

func (h *Handler) recordOpen(ctx context.Context, id uuid.UUID, r *http.Request) {
	if err := h.store.MarkOpened(ctx, id); err != nil {
		logger.Error("mark opened failed", "delivery_id", id.String(), "error", err.Error())
		return
	}
	h.appendEvent(ctx, id, domain.EventOpened, r, nil)
}

// TrackClick records the click and redirects to the original URL. Without
// a resolvable token or a sane target the recipient still lands somewhere.
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := r.URL.Query().Get("url")
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "/"
	}

	id, err := h.codec.Resolve(ctx, chi.URLParam(r, "token"))
	if err == nil {
		if err := h.store.MarkClicked(ctx, id); err != nil {
			logger.Error("mark clicked failed", "delivery_id", id.String(), "error", err.Error())
		}
		if target != "/" {
			if err := h.store.RecordClick(ctx, id, target, r.URL.String()); err != nil {
				logger.Error("record click failed", "delivery_id", id.String(), "error", err.Error())
			}
		}
		h.appendEvent(ctx, id, domain.EventClicked, r, map[string]any{"url": target})
	} else if err != domain.ErrNotFound {
		logger.Error("click tracking failed", "error", err.Error())
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Unsubscribe flips the contact's subscription off and renders a plain
// confirmation page naming the unsubscribed address. Unknown tokens get
// the failure page, same status, and never an address.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	id, err := h.codec.Resolve(ctx, chi.URLParam(r, "token"))
	if err != nil {
		w.Write([]byte(unsubscribeFailureHTML))
		return
	}
	d, err := h.store.DeliveryByID(ctx, id)
	if err != nil {
		w.Write([]byte(unsubscribeFailureHTML))
		return
	}
	if d.ContactID != nil && h.contacts != nil {
		if err := h.contacts.Unsubscribe(ctx, *d.ContactID); err != nil {
			logger.Error("unsubscribe failed", "delivery_id", id.String(), "error", err.Error())
			w.Write([]byte(unsubscribeFailureHTML))
			return
		}
	}
	h.appendEvent(ctx, id, domain.EventUnsubscribed, r, nil)
	logger.Info("contact unsubscribed", "delivery_id", id.String())
	fmt.Fprintf(w, unsubscribeSuccessHTML, html.EscapeString(d.RecipientEmail))
}

func (h *Handler) appendEvent(ctx context.Context, deliveryID uuid.UUID, kind domain.EventKind, r *http.Request, meta map[string]any) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	e := &domain.TrackingEvent{
		DeliveryID: deliveryID,
		Event:      kind,
		IPAddress:  ip,
		UserAgent:  r.UserAgent(),
		Metadata:   meta,
	}
	if err := h.store.AppendEvent(ctx, e); err != nil {
		logger.Error("append tracking event failed", "delivery_id", deliveryID.String(), "error", err.Error())
	}
}

const unsubscribeSuccessHTML = `<!DOCTYPE html>
<html><head><title>Unsubscribed</title></head>
<body style="font-family:sans-serif;max-width:32em;margin:4em auto">
<h1>You have been unsubscribed</h1>
<p><strong>%s</strong> will no longer receive emails from this sender.</p>
</body></html>`

const unsubscribeFailureHTML = `<!DOCTYPE html>
<html><head><title>Link expired</title></head>
<body style="font-family:sans-serif;max-width:32em;margin:4em auto">
<h1>This link is no longer valid</h1>
<p>The unsubscribe link you followed has expired or is malformed.</p>
</body></html>`
