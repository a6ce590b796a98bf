package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/memory"
	"github.com/sirupsen/logrus"
)

// ResponseCache is the cache surface the admin endpoints need.
type ResponseCache interface {
	Clear(ctx context.Context) error
	Stats() models.CacheStats
}

// KeyValidator checks a Gemini API key against the upstream.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (bool, error)
}

// AdminHandler serves reset, key validation, stats and health.
type AdminHandler struct {
	cache     ResponseCache
	memory    memory.Service
	validator KeyValidator
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(c ResponseCache, mem memory.Service, validator KeyValidator, localizer *i18n.Localizer, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		cache:     c,
		memory:    mem,
		validator: validator,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleReset wipes the response cache and every stored memory.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))
	ctx := r.Context()

	if err := h.memory.Clear(ctx); err != nil {
		h.logger.WithError(err).Error("Failed to reset memory store")
		writeError(w, http.StatusInternalServerError, h.localizer.Get(lang, i18n.MsgResetFailed, nil))
		return
	}
	if err := h.cache.Clear(ctx); err != nil {
		h.logger.WithError(err).Error("Failed to reset response cache")
		writeError(w, http.StatusInternalServerError, h.localizer.Get(lang, i18n.MsgResetFailed, nil))
		return
	}

	h.logger.Info("Memory and response cache reset")
	writeJSON(w, http.StatusOK, map[string]string{"message": h.localizer.Get(lang, i18n.MsgResetOK, nil)})
}

// HandleValidateKey reports whether the key in the credential header works.
func (h *AdminHandler) HandleValidateKey(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))

	key := strings.TrimSpace(r.Header.Get(CredentialHeader))
	if key == "" {
		writeError(w, http.StatusUnprocessableEntity, h.localizer.Get(lang, i18n.MsgCredentialMissing, nil))
		return
	}

	valid, err := h.validator.Validate(r.Context(), key)
	if err != nil {
		h.logger.WithError(err).Warn("API key probe failed")
		writeError(w, http.StatusBadGateway, h.localizer.Get(lang, i18n.MsgCredentialProbeFailed, nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// HandleStats reports response cache usage.
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"cache": h.cache.Stats()})
}

// HandleHealth is a liveness probe.
func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
