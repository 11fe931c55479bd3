package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scribesync/hookd/internal/config"
	"github.com/scribesync/hookd/internal/dispatch"
	"github.com/scribesync/hookd/internal/models"
	"github.com/scribesync/hookd/internal/storage"
)

type WebhookHandler struct {
	store  storage.Storage
	tester *dispatch.TestSender
	cfg    config.WebhookConfig
}

func NewWebhookHandler(store storage.Storage, tester *dispatch.TestSender, cfg config.WebhookConfig) *WebhookHandler {
	return &WebhookHandler{store: store, tester: tester, cfg: cfg}
}

type createWebhookRequest struct {
	URL            string   `json:"url"`
	Description    string   `json:"description"`
	Events         []string `json:"events"`
	RetryAttempts  int      `json:"retry_attempts"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func validateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be a valid HTTP or HTTPS URL")
	}
	return nil
}

func (h *WebhookHandler) validateLimits(retryAttempts, timeoutSeconds int) error {
	if retryAttempts < 1 || retryAttempts > h.cfg.MaxRetryAttempts {
		return fmt.Errorf("retry_attempts must be between 1 and %d", h.cfg.MaxRetryAttempts)
	}
	if timeoutSeconds < 1 || timeoutSeconds > h.cfg.MaxTimeoutSeconds {
		return fmt.Errorf("timeout_seconds must be between 1 and %d", h.cfg.MaxTimeoutSeconds)
	}
	return nil
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events is required")
		return
	}
	if bad, ok := models.ValidEventTypes(req.Events); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type: %s", bad))
		return
	}

	if req.RetryAttempts == 0 {
		req.RetryAttempts = h.cfg.DefaultRetryAttempts
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = h.cfg.DefaultTimeoutSeconds
	}
	if err := h.validateLimits(req.RetryAttempts, req.TimeoutSeconds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	wh := &models.Webhook{
		ID:             models.NewID("wh"),
		UserID:         user.ID,
		URL:            req.URL,
		Description:    req.Description,
		Secret:         models.NewSecret(),
		Events:         req.Events,
		IsActive:       true,
		RetryAttempts:  req.RetryAttempts,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.CreateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	// The secret is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, wh)
}

// loadOwned fetches a webhook and checks it belongs to the caller.
func (h *WebhookHandler) loadOwned(w http.ResponseWriter, r *http.Request) *models.Webhook {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	id := chi.URLParam(r, "id")
	wh, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil
	}
	if wh == nil || wh.UserID != user.ID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil
	}
	return wh
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh := h.loadOwned(w, r)
	if wh == nil {
		return
	}
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	webhooks, err := h.store.ListWebhooks(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	for i := range webhooks {
		webhooks[i].Secret = ""
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}
	writeJSON(w, http.StatusOK, webhooks)
}

type updateWebhookRequest struct {
	URL            string   `json:"url"`
	Description    string   `json:"description"`
	Events         []string `json:"events"`
	RetryAttempts  int      `json:"retry_attempts"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	wh := h.loadOwned(w, r)
	if wh == nil {
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if err := validateTargetURL(req.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		wh.URL = req.URL
	}
	wh.Description = req.Description
	if req.Events != nil {
		if bad, ok := models.ValidEventTypes(req.Events); !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type: %s", bad))
			return
		}
		wh.Events = req.Events
	}
	if req.RetryAttempts != 0 {
		wh.RetryAttempts = req.RetryAttempts
	}
	if req.TimeoutSeconds != 0 {
		wh.TimeoutSeconds = req.TimeoutSeconds
	}
	// In-flight deliveries keep the max_attempts they were enqueued with.
	if err := h.validateLimits(wh.RetryAttempts, wh.TimeoutSeconds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpdateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	wh := h.loadOwned(w, r)
	if wh == nil {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), wh.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	wh := h.loadOwned(w, r)
	if wh == nil {
		return
	}

	newActive := !wh.IsActive
	if err := h.store.ToggleWebhook(r.Context(), wh.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle webhook")
		return
	}

	wh.IsActive = newActive
	wh.Secret = ""
	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	wh := h.loadOwned(w, r)
	if wh == nil {
		return
	}

	result, err := h.tester.SendTest(r.Context(), wh.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to send test event")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.store.GetStats(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
