package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/middleware"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/cache"
	"github.com/alfan-chat/relay/internal/services/persona"
	"github.com/alfan-chat/relay/internal/stream"
	"github.com/alfan-chat/relay/pkg/logger"
	"github.com/sirupsen/logrus"
)

// CredentialHeader lets the caller supply their own Gemini key.
const CredentialHeader = "X-Gemini-Api-Key"

const maxPersonaLength = 1200

// Streamer runs one chat session as a frame stream.
type Streamer interface {
	Run(ctx context.Context, s stream.Session, emit func(stream.Frame) error) error
}

// PromptAssembler resolves the persona and system prompt for a request.
type PromptAssembler interface {
	Assemble(ctx context.Context, req persona.Request) persona.Assembly
}

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	config    *config.Config
	streamer  Streamer
	assembler PromptAssembler
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	cfg *config.Config,
	streamer Streamer,
	assembler PromptAssembler,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *ChatHandler {
	return &ChatHandler{
		config:    cfg,
		streamer:  streamer,
		assembler: assembler,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleChat validates the request, then streams the reply as server-sent
// events until the done frame or until the client goes away.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	lang := h.localizer.Match(r.Header.Get("Accept-Language"))

	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.reject(w, lang, err)
		return
	}
	if len([]rune(req.Persona)) > maxPersonaLength {
		h.reject(w, lang, fmt.Errorf("persona exceeds %d characters", maxPersonaLength))
		return
	}
	if err := models.ValidateMessages(req.Messages); err != nil {
		h.reject(w, lang, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, h.localizer.Get(lang, i18n.MsgInternalError, nil))
		return
	}

	ctx := r.Context()
	messages := models.CleanInterrupted(req.Messages)
	assembly := h.assembler.Assemble(ctx, persona.Request{
		Persona:   req.Persona,
		Messages:  messages,
		UseMemory: req.UseMemory,
		UseSearch: req.UseSearch,
	})

	image := models.ParseAttachment(req.ImageBase64)
	lastText := ""
	if last, ok := models.LastUserMessage(messages); ok {
		lastText = last.Content
	}

	credential := strings.TrimSpace(r.Header.Get(CredentialHeader))
	if credential == "" {
		credential = h.config.Gemini.APIKey
	}

	requestID := middleware.RequestIDFromContext(ctx)
	session := stream.Session{
		Persona:      assembly.Persona.Name,
		Messages:     messages,
		SystemPrompt: assembly.SystemPrompt,
		Image:        image,
		Credential:   credential,
		Key:          cache.NewKey(assembly.Persona.Name, lastText, image),
		RequestID:    requestID,
	}

	requested := req.Persona
	if requested == "" {
		requested = "Not Provided"
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Persona-Requested", requested)
	header.Set("X-Persona-Resolved", assembly.Persona.Name)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logger.WithRequest(h.logger, requestID, assembly.Persona.Name)
	log.WithFields(logrus.Fields{
		"messages": len(messages),
		"memory":   req.UseMemory,
		"image":    image != nil,
	}).Info("Chat stream started")

	err := h.streamer.Run(ctx, session, func(f stream.Frame) error {
		if err := stream.WriteFrame(w, f); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info("Client disconnected mid-stream")
	default:
		log.WithError(err).Warn("Chat stream ended early")
	}
}

func (h *ChatHandler) reject(w http.ResponseWriter, lang string, err error) {
	h.logger.WithError(err).Debug("Rejected chat request")
	writeError(w, http.StatusUnprocessableEntity, h.localizer.Get(lang, i18n.MsgValidationFailed, map[string]interface{}{
		"Reason": err.Error(),
	}))
}
