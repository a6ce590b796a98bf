package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/pkg/logger"
	"google.golang.org/genai"
)

func newTestValidator(probe func(ctx context.Context, key string) error) *CredentialValidator {
	v := NewCredentialValidator(
		&config.GeminiConfig{BaseURL: "http://unused", RequestTimeout: time.Second},
		&config.CredentialConfig{CacheTTL: time.Minute},
		logger.Discard(),
	)
	v.probe = probe
	return v
}

func TestCredentialValidator(t *testing.T) {
	tests := []struct {
		name    string
		probe   error
		valid   bool
		wantErr bool
	}{
		{"accepted", nil, true, false},
		{"bad request", genai.APIError{Code: 400, Message: "API key not valid"}, false, false},
		{"forbidden pointer", &genai.APIError{Code: 403}, false, false},
		{"server error", genai.APIError{Code: 500}, false, true},
		{"network", errors.New("dial tcp: refused"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(func(ctx context.Context, key string) error { return tt.probe })
			valid, err := v.Validate(context.Background(), "some-key")
			if valid != tt.valid {
				t.Errorf("expected valid=%v, got %v", tt.valid, valid)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestCredentialValidator_CachesVerdict(t *testing.T) {
	probes := 0
	v := newTestValidator(func(ctx context.Context, key string) error {
		probes++
		return nil
	})

	for i := 0; i < 3; i++ {
		if ok, err := v.Validate(context.Background(), " key "); !ok || err != nil {
			t.Fatalf("Validate: %v %v", ok, err)
		}
	}
	if probes != 1 {
		t.Errorf("expected one upstream probe, got %d", probes)
	}
}

func TestCredentialValidator_EmptyKey(t *testing.T) {
	v := newTestValidator(func(ctx context.Context, key string) error {
		t.Fatal("probe must not run for an empty key")
		return nil
	})
	if ok, err := v.Validate(context.Background(), "  "); ok || err != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestSDKBaseURL(t *testing.T) {
	if got := sdkBaseURL("https://generativelanguage.googleapis.com/v1beta/models"); got != "https://generativelanguage.googleapis.com/" {
		t.Errorf("unexpected root %q", got)
	}
}

func TestParseEmotion(t *testing.T) {
	got, err := parseEmotion("```json\n{\"emotion\":\"happy\",\"wink\":true,\"headSwaySpeed\":\"fast\",\"glow\":\"#ff90c2\"}\n```")
	if err != nil {
		t.Fatalf("parseEmotion: %v", err)
	}
	want := Emotion{Emotion: "happy", Blink: true, Wink: true, HeadSwaySpeed: 1.0, Glow: "#ff90c2"}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if _, err := parseEmotion("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestEmotionClassifier_FallsBackToDefaults(t *testing.T) {
	c := NewEmotionClassifier(&config.GeminiConfig{APIKey: "k", Models: []string{"m"}}, logger.Discard())
	c.generate = func(ctx context.Context, key, prompt string) (string, error) {
		return "", genai.APIError{Code: 503}
	}
	if got := c.Classify(context.Background(), "halo", "ceria", ""); got != DefaultEmotion() {
		t.Errorf("expected defaults, got %+v", got)
	}

	var usedKey, usedPrompt string
	c.generate = func(ctx context.Context, key, prompt string) (string, error) {
		usedKey, usedPrompt = key, prompt
		return `{"emotion":"tsun","blink":false}`, nil
	}
	got := c.Classify(context.Background(), "hmph", "Tsundere", "caller")
	if got.Emotion != "tsun" || got.Blink {
		t.Errorf("unexpected emotion %+v", got)
	}
	if usedKey != "caller" {
		t.Errorf("expected caller key, got %q", usedKey)
	}
	if want := "Persona aktif: tsundere."; !strings.Contains(usedPrompt, want) {
		t.Errorf("prompt missing %q", want)
	}
}

