package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
	matcher         language.Matcher
	tags            []string
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{cfg.DefaultLanguage}
	}

	// The default language goes first so the matcher falls back to it.
	ordered := []string{cfg.DefaultLanguage}
	for _, lang := range languages {
		if lang != cfg.DefaultLanguage {
			ordered = append(ordered, lang)
		}
	}

	var supported []language.Tag
	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range ordered {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		localizers[lang] = i18n.NewLocalizer(bundle, lang, cfg.DefaultLanguage)
		supported = append(supported, language.Make(lang))
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
		matcher:         language.NewMatcher(supported),
		tags:            ordered,
	}, nil
}

// Match picks the best supported language for an Accept-Language header.
func (l *Localizer) Match(acceptLanguage string) string {
	if acceptLanguage == "" {
		return l.defaultLanguage
	}
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return l.defaultLanguage
	}
	_, idx, conf := l.matcher.Match(prefs...)
	if conf == language.No {
		return l.defaultLanguage
	}
	return l.tags[idx]
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	msg, err := l.localize(lang, messageID, data)
	if err != nil {
		return messageID // Fallback to message ID
	}
	return msg
}

// ErrorMessage is the stream error notice in the persona's voice, in the
// default language.
func (l *Localizer) ErrorMessage(persona string) string {
	if msg, err := l.localize(l.defaultLanguage, MsgStreamError+"_"+persona, nil); err == nil {
		return msg
	}
	return l.Get(l.defaultLanguage, MsgStreamError, nil)
}

// CredentialMessage is the notice for a rejected or missing Gemini key,
// in the persona's voice when one exists.
func (l *Localizer) CredentialMessage(persona string) string {
	if msg, err := l.localize(l.defaultLanguage, MsgCredentialRejected+"_"+persona, nil); err == nil {
		return msg
	}
	return l.Get(l.defaultLanguage, MsgCredentialRejected, nil)
}

func (l *Localizer) localize(lang, messageID string, data map[string]interface{}) (string, error) {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	return localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
}

// Message IDs
const (
	MsgStreamError           = "stream_error"
	MsgValidationFailed      = "validation_failed"
	MsgResetOK               = "reset_ok"
	MsgResetFailed           = "reset_failed"
	MsgMemorySearchFailed    = "memory_search_failed"
	MsgMemoryUpsertFailed    = "memory_upsert_failed"
	MsgCredentialMissing     = "credential_missing"
	MsgCredentialRejected    = "credential_rejected"
	MsgCredentialProbeFailed = "credential_probe_failed"
	MsgRateLimited           = "rate_limited"
	MsgInternalError         = "internal_error"
)
