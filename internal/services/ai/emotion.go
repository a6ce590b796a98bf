package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Emotion drives the avatar on the client.
type Emotion struct {
	Emotion       string  `json:"emotion"`
	Blink         bool    `json:"blink"`
	Wink          bool    `json:"wink"`
	HeadSwaySpeed float64 `json:"headSwaySpeed"`
	Glow          string  `json:"glow"`
}

// DefaultEmotion is returned whenever classification is unavailable.
func DefaultEmotion() Emotion {
	return Emotion{
		Emotion:       "neutral",
		Blink:         true,
		Wink:          false,
		HeadSwaySpeed: 1.0,
		Glow:          "#a78bfa",
	}
}

const emotionPromptTemplate = `Klasifikasikan mood dari teks berikut dan keluarkan JSON VALID saja (tanpa catatan):
Teks: %s
Jika persona pengguna 'tsundere', sebutkan 'tsun' saat nada ketus namun peduli.
Skema ketat: {
  "emotion": "neutral|happy|sad|angry|tsun|excited|calm",
  "blink": true|false,
  "wink": true|false,
  "headSwaySpeed": number, # 0.6..1.6
  "glow": "#RRGGBB"
}
Aturan pewarnaan: neutral=#a78bfa, happy=#ff90c2, tsun=#f38bb3, calm=#6ea8ff, excited=#ffd166, sad=#94a3b8, angry=#fb7185.
Persona aktif: %s.`

// EmotionClassifier asks the model for a mood label of a reply.
type EmotionClassifier struct {
	model   string
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *logrus.Logger

	// generate is replaced in tests.
	generate func(ctx context.Context, key, prompt string) (string, error)
}

// NewEmotionClassifier creates a classifier using the Gemini SDK.
func NewEmotionClassifier(cfg *config.GeminiConfig, logger *logrus.Logger) *EmotionClassifier {
	model := cfg.EmotionModel
	if model == "" && len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}
	c := &EmotionClassifier{
		model:   model,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}
	c.generate = c.generateJSON
	return c
}

func (c *EmotionClassifier) generateJSON(ctx context.Context, key, prompt string) (string, error) {
	client, err := newGenaiClient(ctx, key, c.baseURL)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Classify never fails; any problem yields DefaultEmotion. credential
// overrides the configured key when non-empty.
func (c *EmotionClassifier) Classify(ctx context.Context, text, persona, credential string) Emotion {
	key := strings.TrimSpace(credential)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		c.logger.Warn("No API key for emotion classification, using defaults")
		return DefaultEmotion()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.generate(ctx, key, emotionPrompt(text, persona))
	if err != nil {
		c.logger.WithError(err).WithField("status", apiErrorCode(err)).Error("Emotion classification failed")
		return DefaultEmotion()
	}

	emotion, err := parseEmotion(raw)
	if err != nil {
		c.logger.WithError(err).Error("Emotion reply was not valid JSON")
		return DefaultEmotion()
	}
	return emotion
}

func emotionPrompt(text, persona string) string {
	hint := strings.ToLower(strings.TrimSpace(persona))
	if hint == "" {
		hint = "tidak disebut"
	}
	return fmt.Sprintf(emotionPromptTemplate, text, hint)
}

// parseEmotion reads the model's JSON reply. Missing or mistyped fields keep
// their defaults.
func parseEmotion(raw string) (Emotion, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return DefaultEmotion(), err
	}
	if fields == nil {
		return DefaultEmotion(), errors.New("emotion reply is not an object")
	}

	out := DefaultEmotion()
	if v, ok := fields["emotion"]; ok && v != nil {
		out.Emotion = fmt.Sprint(v)
	}
	if v, ok := fields["blink"].(bool); ok {
		out.Blink = v
	}
	if v, ok := fields["wink"].(bool); ok {
		out.Wink = v
	}
	if v, ok := fields["headSwaySpeed"].(float64); ok {
		out.HeadSwaySpeed = v
	}
	if v, ok := fields["glow"]; ok && v != nil {
		out.Glow = fmt.Sprint(v)
	}
	return out, nil
}
