package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/chatlink/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatlink/internal/http/middleware"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger      *logging.Logger
	Connections *handlers.ConnectionsHandler
	Messages    *handlers.MessagesHandler
	Threads     *handlers.ThreadsHandler
	EventFeed   *handlers.EventFeedHandler

	// AdminAuthSecret protects /connections when set.
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter

	// ReadinessChecks are run by GET /ready; any error answers 503.
	ReadinessChecks map[string]func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", health)
	r.Get("/ready", readiness(cfg.ReadinessChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/connections", func(api chi.Router) {
		if cfg.AdminAuthSecret != "" {
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		}
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware(httpmiddleware.ClientIP))
		}

		if cfg.Connections != nil {
			api.Post("/", cfg.Connections.Create)
			api.Get("/", cfg.Connections.List)
		}

		api.Route("/{id}", func(inst chi.Router) {
			inst.Use(httpmiddleware.RequireInstance("id"))

			if cfg.EventFeed != nil {
				inst.Get("/events", cfg.EventFeed.Serve)
			}

			inst.Group(func(rest chi.Router) {
				rest.Use(middleware.Compress(5))
				if c := cfg.Connections; c != nil {
					rest.Get("/", c.Get)
					rest.Delete("/", c.Delete)
					rest.Post("/connect", c.Connect)
					rest.Post("/logout", c.Logout)
					rest.Put("/automation", c.SetAutomation)
				}
				if m := cfg.Messages; m != nil {
					rest.Post("/messages", m.Send)
					rest.Post("/messages/bulk", m.SendBulk)
					rest.Get("/conversations/{address}", m.Conversation)
				}
				if t := cfg.Threads; t != nil {
					rest.Get("/threads", t.List)
					rest.Post("/threads/{address}/reopen", t.Reopen)
				}
			})
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(checks map[string]func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
