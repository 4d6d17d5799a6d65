package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/auth"
	"github.com/lessongate/lessongate/internal/database"
	"github.com/lessongate/lessongate/internal/httputil"
	"github.com/lessongate/lessongate/internal/lesson"
	"github.com/lessongate/lessongate/internal/ratelimit"
)

var ErrMissingJWTSecret = errors.New("server: JWT secret is required")

const (
	defaultProgressRate  = 1.0
	defaultProgressBurst = 5
)

type Config struct {
	DB              database.DBTX
	Pinger          database.Pinger
	Storage         lesson.VideoStorage
	Webhooks        lesson.EventNotifier
	Redis           lesson.RedisClient
	RequirementsTTL time.Duration
	JWTSecret       string
	BaseURL         string
	// AllowedOrigins are the course pages allowed to call the API from a
	// browser.
	AllowedOrigins  []string
	// ProgressRate and ProgressBurst size the per-learner token bucket on
	// progress writes.
	ProgressRate    float64
	ProgressBurst   int
	// Player overrides the session settings sent with playback.
	Player          *lesson.PlayerSettings
	Clock           clockwork.Clock
}

type Server struct {
	router          chi.Router
	pinger          database.Pinger
	authenticator   *auth.Authenticator
	lessonHandler   *lesson.Handler
	progressLimiter *ratelimit.Limiter
}

func New(cfg Config) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgressRate <= 0 {
		cfg.ProgressRate = defaultProgressRate
	}
	if cfg.ProgressBurst <= 0 {
		cfg.ProgressBurst = defaultProgressBurst
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
	}))

	s := &Server{router: r, pinger: cfg.Pinger}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			return nil, ErrMissingJWTSecret
		}
		s.authenticator = auth.NewAuthenticator(cfg.JWTSecret)

		h := lesson.NewHandler(cfg.DB)
		h.SetClock(cfg.Clock)
		if cfg.Player != nil {
			h.SetPlayerSettings(*cfg.Player)
		}
		if cfg.Storage != nil {
			h.SetStorage(cfg.Storage)
		}
		if cfg.Webhooks != nil {
			h.SetWebhooks(cfg.Webhooks)
		}
		if cfg.Redis != nil {
			h.SetRequirementsCache(cfg.Redis, cfg.RequirementsTTL)
		}
		s.lessonHandler = h

		s.progressLimiter = ratelimit.NewLimiter(cfg.ProgressRate, cfg.ProgressBurst,
			ratelimit.WithClock(cfg.Clock),
			ratelimit.WithKey(func(r *http.Request) string {
				return auth.LearnerIDFromContext(r.Context())
			}),
		)
	}

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RunMaintenance sweeps idle rate-limit buckets until ctx is cancelled.
func (s *Server) RunMaintenance(ctx context.Context) {
	if s.progressLimiter == nil {
		<-ctx.Done()
		return
	}
	s.progressLimiter.Run(ctx)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	if s.lessonHandler == nil {
		return
	}

	s.router.Group(func(r chi.Router) {
		r.Use(s.authenticator.Middleware)
		r.Get("/api/providers/detect", s.lessonHandler.Detect)
		r.Route("/api/lessons/{lessonID}", func(r chi.Router) {
			r.Get("/playback", s.lessonHandler.Playback)
			r.With(s.progressLimiter.Middleware).Put("/progress", s.lessonHandler.PutProgress)
			r.Get("/gates", s.lessonHandler.Gates)
			r.Post("/complete", s.lessonHandler.Complete)
			r.Get("/next", s.lessonHandler.Next)
		})
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Error: "database unreachable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
