package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/sirupsen/logrus"
)

// Generator opens a streaming generation against one model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Stream, error)
}

// Stream yields raw text fragments. It is finite and cannot be restarted.
type Stream interface {
	// Next returns the next fragment, or io.EOF once the reply is complete.
	Next() (string, error)
	Close() error
}

// GenerateRequest is everything one attempt needs.
type GenerateRequest struct {
	Model        string
	Messages     []models.Message
	SystemPrompt string
	Image        *models.Attachment
	// Credential overrides the configured API key when non-empty.
	Credential string
}

// GeminiClient streams replies from the Gemini REST API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	generation config.GenerationConfig
	timeout    time.Duration
	httpClient *http.Client
	logger     *logrus.Logger

	connected sync.Once
}

// NewGeminiClient creates a new streaming client
func NewGeminiClient(cfg *config.GeminiConfig, logger *logrus.Logger) *GeminiClient {
	logger.WithFields(logrus.Fields{
		"baseURL":    cfg.BaseURL,
		"candidates": cfg.Models,
		"timeout":    cfg.RequestTimeout,
	}).Info("Gemini client initialized")

	return &GeminiClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		generation: cfg.Generation,
		timeout:    cfg.RequestTimeout,
		// Streams can run long; the per-attempt context carries the deadline.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Generate performs a single streaming attempt. Failures come back as
// *UpstreamError so the retry policy can classify them.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (Stream, error) {
	key := strings.TrimSpace(req.Credential)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return nil, &UpstreamError{
			Kind:   KindCredential,
			Status: http.StatusUnauthorized,
			Model:  req.Model,
			Err:    errors.New("no API key configured or supplied"),
		}
	}

	jsonData, err := json.Marshal(buildPayload(req, c.generation))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// request_timeout is an idle limit: it bounds the wait for headers and
	// for each SSE read, not the whole stream.
	attemptCtx, cancel := context.WithCancelCause(ctx)
	var idle *time.Timer
	if c.timeout > 0 {
		idle = time.AfterFunc(c.timeout, func() { cancel(errIdleTimeout) })
	}
	abort := func() {
		if idle != nil {
			idle.Stop()
		}
		cancel(nil)
	}

	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		abort()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", key)

	c.logger.WithFields(logrus.Fields{
		"model":    req.Model,
		"messages": len(req.Messages),
		"image":    req.Image != nil,
	}).Debug("Sending Gemini request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = idleCause(attemptCtx, err)
		abort()
		return nil, &UpstreamError{Kind: KindTransport, Model: req.Model, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		abort()

		upErr := classifyStatus(req.Model, resp.StatusCode, body)
		c.logger.WithFields(logrus.Fields{
			"model":  req.Model,
			"status": resp.StatusCode,
			"kind":   upErr.Kind.String(),
		}).Warn("Gemini request failed")
		return nil, upErr
	}

	c.connected.Do(func() {
		c.logger.WithField("model", req.Model).Info("Gemini connected")
	})

	if idle != nil {
		idle.Stop()
	}
	return &geminiStream{
		ctx:     attemptCtx,
		model:   req.Model,
		body:    resp.Body,
		events:  newEventReader(resp.Body),
		cancel:  cancel,
		idle:    idle,
		timeout: c.timeout,
	}, nil
}

var errIdleTimeout = errors.New("gemini stream idle timeout")

// idleCause reports the idle timeout instead of the bare cancellation it
// caused.
func idleCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errIdleTimeout) {
		return fmt.Errorf("%w: %v", errIdleTimeout, err)
	}
	return err
}

type geminiStream struct {
	ctx     context.Context
	model   string
	body    io.ReadCloser
	events  *eventReader
	cancel  context.CancelCauseFunc
	idle    *time.Timer
	timeout time.Duration
	pending []string
	done    bool
}

// read waits for one SSE payload with the idle timer armed. The timer is
// paused between reads so a slow consumer does not count as upstream idle.
func (s *geminiStream) read() (string, error) {
	if s.idle == nil {
		return s.events.Next()
	}
	s.idle.Reset(s.timeout)
	payload, err := s.events.Next()
	s.idle.Stop()
	return payload, err
}

func (s *geminiStream) Next() (string, error) {
	for len(s.pending) == 0 {
		if s.done {
			return "", io.EOF
		}
		payload, err := s.read()
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", io.EOF
		}
		if err != nil {
			return "", &UpstreamError{Kind: KindTransport, Model: s.model, Err: idleCause(s.ctx, err)}
		}
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		s.pending = extractText(payload)
	}

	fragment := s.pending[0]
	s.pending = s.pending[1:]
	return fragment, nil
}

func (s *geminiStream) Close() error {
	if s.idle != nil {
		s.idle.Stop()
	}
	defer s.cancel(nil)
	return s.body.Close()
}
