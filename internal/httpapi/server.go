// Package httpapi exposes the auction engine, the roster and the event
// stream over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/health"
	"github.com/jensholdgaard/draft-auction/internal/roster"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	engine   *auction.Manager
	roster   *roster.Manager
	hub      *broadcast.Hub
	auth     *Authenticator
	health   *health.Handler
	logger   *slog.Logger
	buffer   int
	origins  []string
	upgrader websocket.Upgrader
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists CORS and websocket origins. Empty allows any.
	AllowedOrigins []string
	// SubscriberBuffer is the per-connection event queue length.
	SubscriberBuffer int
}

// NewServer returns a Server. health may be nil.
func NewServer(engine *auction.Manager, rm *roster.Manager, hub *broadcast.Hub, auth *Authenticator, hh *health.Handler, logger *slog.Logger, opts Options) *Server {
	s := &Server{
		engine:  engine,
		roster:  rm,
		hub:     hub,
		auth:    auth,
		health:  hh,
		logger:  logger,
		buffer:  max(opts.SubscriberBuffer, 1),
		origins: opts.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler())
		r.Get("/readyz", s.health.ReadinessHandler())
	}

	r.Route("/api/scopes/{scope}", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(requireScope)

		r.Get("/auction", s.getAuction)
		r.Get("/players", s.listPlayers)
		r.Get("/players/{playerID}/bids", s.bidHistory)
		r.Get("/bidders", s.listBidders)
		r.Get("/events", s.journal)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(RoleAdmin))
			r.Post("/auction/open", s.openPlayer)
			r.Post("/auction/open-random", s.openRandomPlayer)
			r.Post("/auction/price", s.setPrice)
			r.Post("/auction/sold", s.finalizeSold)
			r.Post("/auction/unsold", s.finalizeUnsold)
			r.Post("/players", s.addPlayer)
			r.Delete("/players/{playerID}", s.removePlayer)
			r.Post("/bidders", s.registerBidder)
			r.Put("/bidders/{bidderID}/budget", s.setBudget)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(RoleBidder))
			r.Post("/bids", s.submitBid)
			r.Get("/bidders/me", s.me)
		})
	})

	r.With(s.auth.Middleware, requireScope).Get("/ws/scopes/{scope}", s.stream)

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.origins) == 0 {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// logRequests logs each request with its status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
