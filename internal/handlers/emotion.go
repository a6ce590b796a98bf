package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/services/ai"
	"github.com/sirupsen/logrus"
)

// Classifier labels the mood of a reply. It never fails; it falls back to
// the neutral defaults instead.
type Classifier interface {
	Classify(ctx context.Context, text, persona, credential string) ai.Emotion
}

type emotionRequest struct {
	Text    string `json:"text"`
	Persona string `json:"persona"`
}

// EmotionHandler serves the avatar emotion endpoint.
type EmotionHandler struct {
	config     *config.Config
	classifier Classifier
	localizer  *i18n.Localizer
	logger     *logrus.Logger
}

// NewEmotionHandler creates a new emotion handler
func NewEmotionHandler(cfg *config.Config, classifier Classifier, localizer *i18n.Localizer, logger *logrus.Logger) *EmotionHandler {
	return &EmotionHandler{
		config:     cfg,
		classifier: classifier,
		localizer:  localizer,
		logger:     logger,
	}
}

// HandleEmotion classifies the text of a reply.
func (h *EmotionHandler) HandleEmotion(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))

	var req emotionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, h.localizer.Get(lang, i18n.MsgValidationFailed, map[string]interface{}{
			"Reason": err.Error(),
		}))
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusOK, ai.DefaultEmotion())
		return
	}

	credential := strings.TrimSpace(r.Header.Get(CredentialHeader))
	if credential == "" {
		credential = h.config.Gemini.APIKey
	}
	writeJSON(w, http.StatusOK, h.classifier.Classify(r.Context(), text, req.Persona, credential))
}
