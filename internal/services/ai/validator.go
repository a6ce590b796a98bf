package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// newGenaiClient builds an SDK client for key. baseURL is the REST models
// endpoint from config; the SDK wants the host root and adds the version itself.
func newGenaiClient(ctx context.Context, key, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if root := sdkBaseURL(baseURL); root != "" {
		clientCfg.HTTPOptions.BaseURL = root
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

func sdkBaseURL(base string) string {
	base = strings.TrimSpace(base)
	if idx := strings.Index(base, "/v1"); idx > 0 {
		return base[:idx+1]
	}
	return base
}

// apiErrorCode extracts the HTTP code from an SDK error, or 0.
func apiErrorCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// CredentialValidator checks API keys with a cheap model listing call and
// remembers the verdict for a while.
type CredentialValidator struct {
	baseURL string
	timeout time.Duration
	cache   *gocache.Cache
	logger  *logrus.Logger

	// probe is replaced in tests.
	probe func(ctx context.Context, key string) error
}

// NewCredentialValidator creates a validator backed by the Gemini SDK.
func NewCredentialValidator(gemini *config.GeminiConfig, cred *config.CredentialConfig, logger *logrus.Logger) *CredentialValidator {
	ttl := cred.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	v := &CredentialValidator{
		baseURL: gemini.BaseURL,
		timeout: gemini.RequestTimeout,
		cache:   gocache.New(ttl, 2*ttl),
		logger:  logger,
	}
	v.probe = v.listModels
	return v
}

func (v *CredentialValidator) listModels(ctx context.Context, key string) error {
	client, err := newGenaiClient(ctx, key, v.baseURL)
	if err != nil {
		return err
	}
	_, err = client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	return err
}

// Validate reports whether key is accepted upstream. A rejected key is
// (false, nil); an error means the probe itself could not be completed.
func (v *CredentialValidator) Validate(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}

	cacheKey := hashKey(key)
	if cached, found := v.cache.Get(cacheKey); found {
		return cached.(bool), nil
	}

	probeCtx := ctx
	if v.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	err := v.probe(probeCtx, key)
	if err == nil {
		v.cache.SetDefault(cacheKey, true)
		return true, nil
	}

	switch apiErrorCode(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		v.logger.WithField("status", apiErrorCode(err)).Info("API key rejected by upstream")
		v.cache.SetDefault(cacheKey, false)
		return false, nil
	}

	v.logger.WithError(err).Warn("API key probe failed")
	return false, fmt.Errorf("credential probe failed: %w", err)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
