package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/middleware"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/memory"
	"github.com/sirupsen/logrus"
)

const (
	defaultSearchTopK = 5
	maxSearchTopK     = 25
)

type upsertRequest struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

// MemoryHandler serves the memory endpoints.
type MemoryHandler struct {
	memory    memory.Service
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(mem memory.Service, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *MemoryHandler {
	return &MemoryHandler{
		memory:    mem,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleUpsert stores one memory.
func (h *MemoryHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))

	var req upsertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, lang, err)
		return
	}

	start := time.Now()
	rec, err := h.memory.Upsert(r.Context(), req.Type, req.Text)
	if isMemoryValidation(err) {
		h.reject(w, lang, err)
		return
	}
	h.record("upsert", err, start)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upsert memory")
		writeError(w, http.StatusInternalServerError, h.localizer.Get(lang, i18n.MsgMemoryUpsertFailed, nil))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"memory": rec})
}

// HandleSearch returns the memories most relevant to a query.
func (h *MemoryHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, lang, err)
		return
	}
	topK := defaultSearchTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > maxSearchTopK {
		h.reject(w, lang, fmt.Errorf("top_k must be between 1 and %d", maxSearchTopK))
		return
	}

	start := time.Now()
	results, err := h.memory.Search(r.Context(), req.Query, topK)
	if isMemoryValidation(err) {
		h.reject(w, lang, err)
		return
	}
	h.record("search", err, start)
	if err != nil {
		h.logger.WithError(err).Error("Memory search failed")
		writeError(w, http.StatusInternalServerError, h.localizer.Get(lang, i18n.MsgMemorySearchFailed, nil))
		return
	}
	if results == nil {
		results = []models.MemoryRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *MemoryHandler) record(op string, err error, start time.Time) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordMemoryOperation(op, status, time.Since(start))
}

func (h *MemoryHandler) reject(w http.ResponseWriter, lang string, err error) {
	writeError(w, http.StatusUnprocessableEntity, h.localizer.Get(lang, i18n.MsgValidationFailed, map[string]interface{}{
		"Reason": err.Error(),
	}))
}

func isMemoryValidation(err error) bool {
	return errors.Is(err, models.ErrInvalidMemoryType) ||
		errors.Is(err, memory.ErrEmptyText) ||
		errors.Is(err, memory.ErrTextTooLong) ||
		errors.Is(err, memory.ErrEmptyQuery) ||
		errors.Is(err, memory.ErrQueryTooLong)
}
