// Package api serves the Fortress scoring and deception endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/deceptions"
	"github.com/lvonguyen/fortress/internal/observability"
	"github.com/lvonguyen/fortress/internal/scoring"
)

// FraudAssessor scores free text and the URLs it contains.
type FraudAssessor interface {
	Assess(ctx context.Context, text string) scoring.FraudAssessment
}

// NetworkScanner assesses the network the server is running on.
type NetworkScanner interface {
	Scan(ctx context.Context) scoring.NetworkAssessment
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Config holds HTTP-level settings.
type Config struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// WiFiSSID is echoed by the demo wifi_scan endpoint.
	WiFiSSID string
	Version  string
}

// Deps are the components the handlers delegate to. Nil optional fields
// disable the feature they back.
type Deps struct {
	Fraud       FraudAssessor
	Network     NetworkScanner
	Deceptions  *deceptions.Service
	Caches      []*cache.Cache
	Usage       *scoring.Usage
	Metrics     *observability.Metrics
	RateLimiter *RateLimiter
	ReadyChecks map[string]ReadyCheck
	Logger      *zap.Logger
}

// Server wires handlers to their dependencies.
type Server struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// NewServer creates a server.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Usage == nil {
		deps.Usage = scoring.NewUsage()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.WiFiSSID == "" {
		cfg.WiFiSSID = "Unknown"
	}
	return &Server{cfg: cfg, deps: deps, log: deps.Logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(cors(s.cfg.CORSOrigins))
	if s.deps.Metrics != nil {
		r.Use(s.instrument)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/auto_wifi_scan", s.handleAutoWiFiScan)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.deps.RateLimiter != nil {
			r.Use(s.deps.RateLimiter.Middleware)
		}

		r.Get("/health", s.handleAPIHealth)

		r.Post("/url_scan", s.handleURLScan)
		r.Post("/detect_fraud", s.handleDetectFraud)
		r.Post("/detect_fraud_async", s.handleDetectFraudAsync)
		r.Get("/fraud_stats", s.handleFraudStats)

		r.Get("/auto_wifi_scan", s.handleAutoWiFiScan)
		r.Get("/wifi_scan", s.handleWiFiDemo)
		r.Post("/wifi_scan", s.handleWiFiScan)

		r.Post("/chatbot", s.handleChatbot)

		r.Route("/deceptions", func(r chi.Router) {
			r.Post("/log", s.handleDeceptionLog)
			r.Get("/public", s.handleDeceptionPublic)
			r.Get("/{id}", s.handleDeceptionGet)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// instrument records request metrics labelled by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				pattern = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.ObserveRequest(r.Method, pattern, status, time.Since(start))
	})
}

// cors allows the configured origins. An empty list or "*" allows any.
func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	anyOrigin := len(allowedOrigins) == 0 || origins["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || origins[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
				if !anyOrigin {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
