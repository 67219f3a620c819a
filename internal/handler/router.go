package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msgsync/internal/config"
	"github.com/msgsync/internal/messenger"
	"github.com/msgsync/internal/middleware"
)

// Deps: всё, что нужно bridge API.
type Deps struct {
	Config *config.Config
	Core   *messenger.Messenger
	// Optional: nil, маршруты /api/push/* не регистрируются.
	Push           Subscriptions
	VAPIDPublicKey string
}

// NewRouter собирает bridge API для UI.
func NewRouter(d Deps) http.Handler {
	convH := NewConversationHandler(d.Core.List)
	threadH := NewThreadHandler(d.Core)
	presenceH := NewPresenceHandler(d.Core.Presence)
	configH := NewConfigHandler(d.Config, d.VAPIDPublicKey)
	feedH := NewFeedHandler(d.Core, d.Config.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", feedH.ServeWS)

	limiter := middleware.NewRateLimiter(d.Config.BridgeRateLimit, 0)
	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Get("/config", configH.Get)
		r.Get("/config/push", configH.GetPushConfig)

		r.Get("/conversations", convH.List)
		r.Post("/conversations/refresh", convH.Refresh)
		r.Post("/conversations/next", convH.Next)
		r.Put("/conversations/{id}/read", convH.MarkRead)
		r.Put("/conversations/{id}/mute", convH.ToggleMute)
		r.Delete("/conversations/{id}", convH.Delete)

		r.Get("/thread", threadH.Get)
		r.Post("/thread/open", threadH.Open)
		r.Post("/thread/close", threadH.Close)
		r.Post("/thread/older", threadH.Older)
		r.Post("/thread/send", threadH.Send)
		r.Post("/thread/reply", threadH.Reply)
		r.Post("/thread/typing", threadH.Typing)
		r.Post("/thread/messages/{id}/reaction", threadH.Reaction)
		r.Delete("/thread/messages/{id}", threadH.DeleteMessage)
		r.Delete("/thread/messages/{id}/unsend", threadH.Unsend)

		r.Get("/presence", presenceH.Get)

		if d.Push != nil {
			pushH := NewPushHandler(d.Push)
			r.Post("/push/subscription", pushH.Subscribe)
			r.Delete("/push/subscription", pushH.Unsubscribe)
		}
	})
	return r
}
