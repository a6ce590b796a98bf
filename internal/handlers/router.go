package handlers

import (
	"net/http"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Chat    *ChatHandler
	Memory  *MemoryHandler
	Admin   *AdminHandler
	Emotion *EmotionHandler
}

// NewRouter mounts every endpoint behind the shared middleware chain. The
// chat route is rate limited per client.
func NewRouter(
	cfg *config.Config,
	h Handlers,
	limiter *middleware.ClientRateLimiter,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog(logger, metrics), middleware.CORS(cfg.Server.CORSOrigins))

	post := []string{http.MethodPost, http.MethodOptions}
	get := []string{http.MethodGet, http.MethodOptions}

	var chat http.Handler = http.HandlerFunc(h.Chat.HandleChat)
	if limiter != nil {
		chat = limiter.Middleware("/chat", func(w http.ResponseWriter, req *http.Request) {
			lang := localizer.Match(req.Header.Get("Accept-Language"))
			writeError(w, http.StatusTooManyRequests, localizer.Get(lang, i18n.MsgRateLimited, nil))
		})(chat)
	}
	r.Handle("/chat", chat).Methods(post...)

	r.HandleFunc("/memory/upsert", h.Memory.HandleUpsert).Methods(post...)
	r.HandleFunc("/memory/search", h.Memory.HandleSearch).Methods(post...)
	r.HandleFunc("/api/reset", h.Admin.HandleReset).Methods(post...)
	r.HandleFunc("/api/validate-api-key", h.Admin.HandleValidateKey).Methods(post...)
	r.HandleFunc("/api/stats", h.Admin.HandleStats).Methods(get...)
	r.HandleFunc("/emotion", h.Emotion.HandleEmotion).Methods(post...)
	r.HandleFunc("/health", h.Admin.HandleHealth).Methods(get...)

	return r
}
