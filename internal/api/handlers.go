package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
	"github.com/idoneo/emailer/internal/emailer"
	"github.com/idoneo/emailer/internal/pkg/logger"
)

type handlers struct {
	emailer *emailer.Emailer
}

// Health returns service health status.
func (h *handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createCampaignRequest struct {
	TeamID     uuid.UUID  `json:"team_id"`
	CategoryID *uuid.UUID `json:"category_id"`
	TemplateID *uuid.UUID `json:"template_id"`
	Name       string     `json:"name"`
	Subject    string     `json:"subject"`
	Content    string     `json:"content"`
}

func (h *handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TeamID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "team_id is required")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	campaign := &domain.Campaign{
		TeamID:     req.TeamID,
		CategoryID: req.CategoryID,
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Subject:    req.Subject,
		Content:    req.Content,
	}
	if err := h.emailer.CreateCampaign(r.Context(), campaign); err != nil {
		logger.Error("create campaign", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, campaign)
}

func (h *handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := h.emailer.Campaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "load campaign")
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

func (h *handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := h.emailer.DeleteCampaign(r.Context(), id); err != nil {
		respondStoreError(w, err, "delete campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	created, err := h.emailer.StartCampaign(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "start campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "started",
		"deliveries_created": created,
	})
}

func (h *handlers) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := h.emailer.StopCampaign(r.Context(), id); err != nil {
		respondStoreError(w, err, "stop campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type sendTestRequest struct {
	Email string `json:"email"`
}

func (h *handlers) SendTest(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var req sendTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := h.emailer.SendTest(r.Context(), id, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNoRecipient) {
			respondError(w, http.StatusBadRequest, "email is required")
			return
		}
		respondStoreError(w, err, "send test")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	stats, err := h.emailer.CampaignStats(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "campaign stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	deliveries, err := h.emailer.Deliveries(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// campaignID parses the {id} URL parameter, responding 400 itself on
// a malformed value.
func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return uuid.Nil, false
	}
	return id, true
}

func respondStoreError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	logger.Error(op, "error", err.Error())
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encode response", "error", err.Error())
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
