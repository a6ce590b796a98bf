package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/middleware"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/internal/services/ai"
	"github.com/alfan-chat/relay/internal/services/memory"
	"github.com/alfan-chat/relay/internal/services/persona"
	"github.com/alfan-chat/relay/internal/stream"
	"github.com/alfan-chat/relay/pkg/logger"
	"github.com/gorilla/mux"
)

type fakeStreamer struct {
	session stream.Session
	frames  []stream.Frame
	calls   int
}

func (f *fakeStreamer) Run(_ context.Context, s stream.Session, emit func(stream.Frame) error) error {
	f.calls++
	f.session = s
	for _, fr := range f.frames {
		if err := emit(fr); err != nil {
			return err
		}
	}
	return nil
}

type fakeMemory struct {
	upsertErr error
	searchErr error
	clearErr  error
	cleared   bool
}

func (f *fakeMemory) Upsert(_ context.Context, memType, text string) (models.MemoryRecord, error) {
	return models.MemoryRecord{ID: 1, Type: memType, Text: text}, f.upsertErr
}

func (f *fakeMemory) Search(context.Context, string, int) ([]models.MemoryRecord, error) {
	return nil, f.searchErr
}

func (f *fakeMemory) Clear(context.Context) error {
	f.cleared = true
	return f.clearErr
}

type fakeCache struct {
	cleared bool
	err     error
}

func (f *fakeCache) Clear(context.Context) error {
	f.cleared = true
	return f.err
}

func (f *fakeCache) Stats() models.CacheStats {
	return models.CacheStats{Entries: 2, Hits: 5, Misses: 1}
}

type fakeValidator struct {
	valid bool
	err   error
	key   string
}

func (f *fakeValidator) Validate(_ context.Context, key string) (bool, error) {
	f.key = key
	return f.valid, f.err
}

type fakeClassifier struct {
	credential string
}

func (f *fakeClassifier) Classify(_ context.Context, text, p, credential string) ai.Emotion {
	f.credential = credential
	e := ai.DefaultEmotion()
	e.Emotion = "happy"
	return e
}

type fixture struct {
	router     *mux.Router
	streamer   *fakeStreamer
	cache      *fakeCache
	validator  *fakeValidator
	classifier *fakeClassifier
}

func newFixture(t *testing.T, mem memory.Service, limiter *middleware.ClientRateLimiter) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Gemini.APIKey = "server-key"
	cfg.Memory.TopK = 3
	cfg.Server.CORSOrigins = []string{"http://localhost:5173"}

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "id", Languages: []string{"id", "en"}})
	if err != nil {
		t.Fatalf("NewLocalizer() error = %v", err)
	}
	log := logger.Discard()
	metrics := middleware.NewMetrics()

	f := &fixture{
		streamer: &fakeStreamer{frames: []stream.Frame{
			{Kind: stream.FrameToken, Data: "Jakarta."},
			{Kind: stream.FrameDone, Data: "[DONE]"},
		}},
		cache:      &fakeCache{},
		validator:  &fakeValidator{valid: true},
		classifier: &fakeClassifier{},
	}
	assembler := persona.NewAssembler(cfg, persona.NewTable("ceria"), nil, nil, log)

	f.router = NewRouter(cfg, Handlers{
		Chat:    NewChatHandler(cfg, f.streamer, assembler, localizer, log),
		Memory:  NewMemoryHandler(mem, localizer, metrics, log),
		Admin:   NewAdminHandler(f.cache, mem, f.validator, localizer, log),
		Emotion: NewEmotionHandler(cfg, f.classifier, localizer, log),
	}, limiter, metrics, localizer, log)
	return f
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestChat_StreamsFrames(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)

	rec := do(t, f.router, http.MethodPost, "/chat", map[string]interface{}{
		"persona": " Formal ",
		"messages": []map[string]string{
			{"role": "user", "content": "halo"},
			{"role": "assistant", "content": "Hal"},
			{"role": "user", "content": "  Apa ibu kota Indonesia?  "},
		},
	}, map[string]string{CredentialHeader: "caller-key"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := "event: token\ndata: Jakarta.\n\nevent: done\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}

	h := rec.Header()
	if h.Get("Content-Type") != "text/event-stream" || h.Get("Cache-Control") != "no-cache" || h.Get("X-Accel-Buffering") != "no" {
		t.Errorf("stream headers = %v", h)
	}
	if h.Get("X-Persona-Requested") != " Formal " || h.Get("X-Persona-Resolved") != "formal" {
		t.Errorf("persona headers = %q / %q", h.Get("X-Persona-Requested"), h.Get("X-Persona-Resolved"))
	}

	s := f.streamer.session
	if s.Credential != "caller-key" {
		t.Errorf("Credential = %q, want caller key", s.Credential)
	}
	if s.Key.Persona != "formal" || s.Key.Text != "apa ibu kota indonesia?" || s.Key.Attachment != "" {
		t.Errorf("Key = %+v", s.Key)
	}
	if len(s.Messages) != 2 {
		t.Errorf("interrupted assistant turn not dropped: %+v", s.Messages)
	}
	if s.RequestID == "" || s.RequestID != h.Get(middleware.RequestIDHeader) {
		t.Errorf("RequestID = %q, header %q", s.RequestID, h.Get(middleware.RequestIDHeader))
	}
	if !strings.HasPrefix(s.SystemPrompt, "Nama Anda Linda") {
		t.Errorf("SystemPrompt = %q", s.SystemPrompt)
	}
}

func TestChat_DefaultsPersonaAndKey(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)

	rec := do(t, f.router, http.MethodPost, "/chat", map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": "hai"}},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Persona-Requested"); got != "Not Provided" {
		t.Errorf("X-Persona-Requested = %q", got)
	}
	if got := rec.Header().Get("X-Persona-Resolved"); got != "ceria" {
		t.Errorf("X-Persona-Resolved = %q", got)
	}
	if f.streamer.session.Credential != "server-key" {
		t.Errorf("Credential = %q, want server key", f.streamer.session.Credential)
	}
}

func TestChat_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"empty messages", map[string]interface{}{"messages": []interface{}{}}},
		{"blank content", map[string]interface{}{"messages": []map[string]string{{"role": "user", "content": "   "}}}},
		{"bad role", map[string]interface{}{"messages": []map[string]string{{"role": "robot", "content": "hi"}}}},
		{"too long", map[string]interface{}{"messages": []map[string]string{{"role": "user", "content": strings.Repeat("a", 4001)}}}},
		{"long persona", map[string]interface{}{"persona": strings.Repeat("p", 1201), "messages": []map[string]string{{"role": "user", "content": "hi"}}}},
		{"malformed", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeMemory{}, nil)
			rec := do(t, f.router, http.MethodPost, "/chat", tt.body, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", rec.Code)
			}
			if d := detail(t, rec); !strings.HasPrefix(d, "Permintaan tidak valid") {
				t.Errorf("detail = %q", d)
			}
			if f.streamer.calls != 0 {
				t.Error("streamer ran for an invalid request")
			}
		})
	}
}

func TestChat_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}, nil, logger.Discard())
	f := newFixture(t, &fakeMemory{}, limiter)
	body := map[string]interface{}{"messages": []map[string]string{{"role": "user", "content": "hai"}}}

	if rec := do(t, f.router, http.MethodPost, "/chat", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := do(t, f.router, http.MethodPost, "/chat", body, map[string]string{"Accept-Language": "en"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if d := detail(t, rec); d != "Too many requests, please slow down." {
		t.Errorf("detail = %q", d)
	}
}

func TestChat_CORSPreflight(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)
	rec := do(t, f.router, http.MethodOptions, "/chat", nil, map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestMemory_UpsertAndSearch(t *testing.T) {
	dir := t.TempDir()
	store := memory.NewStore(&config.MemoryConfig{
		DBPath:        filepath.Join(dir, "memory.db"),
		IndexPath:     filepath.Join(dir, "index.json"),
		MaxTextLength: 140,
	}, logger.Discard())
	defer store.Close()
	f := newFixture(t, store, nil)

	rec := do(t, f.router, http.MethodPost, "/memory/upsert", map[string]string{
		"type": "preference", "text": "Suka musik  lo-fi",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var upserted struct {
		Memory models.MemoryRecord `json:"memory"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &upserted); err != nil {
		t.Fatalf("decode upsert: %v", err)
	}
	if upserted.Memory.Text != "Suka musik lo-fi" || upserted.Memory.ID == 0 {
		t.Errorf("memory = %+v", upserted.Memory)
	}

	rec = do(t, f.router, http.MethodPost, "/memory/search", map[string]string{"query": "lo-fi"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var found struct {
		Results []models.MemoryRecord `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &found); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(found.Results) != 1 || found.Results[0].ID != upserted.Memory.ID {
		t.Errorf("results = %+v", found.Results)
	}

	rec = do(t, f.router, http.MethodPost, "/memory/search", map[string]string{"query": "tidak ada"}, nil)
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("empty search body = %s", rec.Body.String())
	}
}

func TestMemory_Validation(t *testing.T) {
	f := newFixture(t, &fakeMemory{upsertErr: models.ErrInvalidMemoryType}, nil)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"bad type", "/memory/upsert", map[string]string{"type": "secret", "text": "x"}},
		{"top_k zero", "/memory/search", map[string]interface{}{"query": "x", "top_k": 0}},
		{"top_k too big", "/memory/search", map[string]interface{}{"query": "x", "top_k": 26}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.router, http.MethodPost, tt.path, tt.body, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestMemory_SearchFailure(t *testing.T) {
	f := newFixture(t, &fakeMemory{searchErr: errors.New("db locked")}, nil)
	rec := do(t, f.router, http.MethodPost, "/memory/search", map[string]string{"query": "kopi"}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if d := detail(t, rec); d != "Pencarian memori gagal." {
		t.Errorf("detail = %q", d)
	}
}

func TestAdmin_Reset(t *testing.T) {
	mem := &fakeMemory{}
	f := newFixture(t, mem, nil)

	rec := do(t, f.router, http.MethodPost, "/api/reset", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !mem.cleared || !f.cache.cleared {
		t.Errorf("cleared memory=%v cache=%v", mem.cleared, f.cache.cleared)
	}
	if !strings.Contains(rec.Body.String(), "berhasil direset") {
		t.Errorf("body = %s", rec.Body.String())
	}

	failing := newFixture(t, &fakeMemory{clearErr: errors.New("readonly")}, nil)
	rec = do(t, failing.router, http.MethodPost, "/api/reset", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing status = %d", rec.Code)
	}
	if d := detail(t, rec); d != "Gagal mereset memori database." {
		t.Errorf("detail = %q", d)
	}
}

func TestAdmin_ValidateKey(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)

	rec := do(t, f.router, http.MethodPost, "/api/validate-api-key", nil, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing key status = %d, want 422", rec.Code)
	}

	rec = do(t, f.router, http.MethodPost, "/api/validate-api-key", nil, map[string]string{CredentialHeader: " abc "})
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"valid":true}` {
		t.Errorf("valid key: status %d body %s", rec.Code, rec.Body.String())
	}
	if f.validator.key != "abc" {
		t.Errorf("validated key = %q", f.validator.key)
	}

	f.validator.err = errors.New("dial tcp: timeout")
	rec = do(t, f.router, http.MethodPost, "/api/validate-api-key", nil, map[string]string{CredentialHeader: "abc"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("probe failure status = %d, want 502", rec.Code)
	}
}

func TestEmotion(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)

	rec := do(t, f.router, http.MethodPost, "/emotion", map[string]string{"text": "yeay!", "persona": "ceria"}, nil)
	var got ai.Emotion
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Emotion != "happy" || f.classifier.credential != "server-key" {
		t.Errorf("emotion = %+v, credential = %q", got, f.classifier.credential)
	}

	rec = do(t, f.router, http.MethodPost, "/emotion", map[string]string{"text": "  "}, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != ai.DefaultEmotion() {
		t.Errorf("blank text emotion = %+v, want defaults", got)
	}
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t, &fakeMemory{}, nil)

	rec := do(t, f.router, http.MethodGet, "/health", nil, nil)
	if strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("health body = %s", rec.Body.String())
	}

	rec = do(t, f.router, http.MethodGet, "/api/stats", nil, nil)
	if !strings.Contains(rec.Body.String(), `"entries":2`) {
		t.Errorf("stats body = %s", rec.Body.String())
	}
}
