package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookstore/internal/metrics"
	"bookstore/internal/ratelimit"
	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
	"bookstore/services/api/internal/app"
)

const (
	sessionCookie = "bookstore_session"
	refreshCookie = "bookstore_refresh"

	defaultCookieMaxAge = time.Hour
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Metrics                    *metrics.Metrics
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	AllowedOrigins             []string
	TrustedProxies             *util.TrustedProxies
	CookieMaxAge               time.Duration
	ExposeErrors               bool
}

// Server exposes the bookstore REST API.
type Server struct {
	app             *app.App
	metrics         *metrics.Metrics
	mux             *http.ServeMux
	allowedOrigins  []string
	trustedProxies  *util.TrustedProxies
	cookieMaxAge    time.Duration
	exposeErrors    bool
	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	refreshLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limits are shared
// through Redis, so RedisAddr is required.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	refreshLimit := cfg.RefreshRateLimitPerMinute
	if refreshLimit <= 0 {
		refreshLimit = 20
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "bookstore:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		_ = registerLimiter.Close()
		return nil, err
	}
	refreshLimiter, err := newLimiter("refresh", refreshLimit)
	if err != nil {
		_ = registerLimiter.Close()
		_ = loginLimiter.Close()
		return nil, err
	}
	cookieMaxAge := cfg.CookieMaxAge
	if cookieMaxAge <= 0 {
		cookieMaxAge = defaultCookieMaxAge
	}
	s := &Server{
		app:             cfg.App,
		metrics:         cfg.Metrics,
		mux:             http.NewServeMux(),
		allowedOrigins:  cfg.AllowedOrigins,
		trustedProxies:  cfg.TrustedProxies,
		cookieMaxAge:    cookieMaxAge,
		exposeErrors:    cfg.ExposeErrors,
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		refreshLimiter:  refreshLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("api", h)
	return util.WithRequestID(h)
}

// Close releases the rate limiter connections.
func (s *Server) Close() error {
	return errors.Join(s.registerLimiter.Close(), s.loginLimiter.Close(), s.refreshLimiter.Close())
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.Handle("GET /api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("PATCH /api/users/me", s.authenticated(s.handleUpdateMe))

	// catalog
	s.mux.HandleFunc("GET /api/categories", s.handleListCategories)
	s.mux.HandleFunc("GET /api/categories/{id}", s.handleGetCategory)
	s.mux.HandleFunc("GET /api/authors", s.handleListAuthors)
	s.mux.HandleFunc("GET /api/authors/{id}", s.handleGetAuthor)
	s.mux.HandleFunc("GET /api/books", s.handleListBooks)
	s.mux.HandleFunc("GET /api/books/{id}", s.handleGetBook)
	s.mux.HandleFunc("GET /api/books/{id}/ratings", s.handleListRatings)
	s.mux.Handle("POST /api/books/{id}/ratings", s.authenticated(s.handleSubmitRating))

	// orders
	s.mux.Handle("POST /api/orders", s.authenticated(s.handlePlaceOrder))
	s.mux.Handle("GET /api/orders", s.authenticated(s.handleMyOrders))
	s.mux.Handle("GET /api/orders/{id}", s.authenticated(s.handleGetOrder))

	// admin
	s.mux.Handle("GET /api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("DELETE /api/admin/users/{id}", s.adminOnly(s.handleAdminDeleteUser))
	s.mux.Handle("POST /api/admin/categories", s.adminOnly(s.handleCreateCategory))
	s.mux.Handle("PUT /api/admin/categories/{id}", s.adminOnly(s.handleUpdateCategory))
	s.mux.Handle("DELETE /api/admin/categories/{id}", s.adminOnly(s.handleDeleteCategory))
	s.mux.Handle("POST /api/admin/authors", s.adminOnly(s.handleCreateAuthor))
	s.mux.Handle("PUT /api/admin/authors/{id}", s.adminOnly(s.handleUpdateAuthor))
	s.mux.Handle("DELETE /api/admin/authors/{id}", s.adminOnly(s.handleDeleteAuthor))
	s.mux.Handle("POST /api/admin/books", s.adminOnly(s.handleCreateBook))
	s.mux.Handle("PUT /api/admin/books/{id}", s.adminOnly(s.handleUpdateBook))
	s.mux.Handle("DELETE /api/admin/books/{id}", s.adminOnly(s.handleDeleteBook))
	s.mux.Handle("POST /api/admin/books/{id}/image", s.adminOnly(s.handleBookImageTicket))
	s.mux.Handle("PUT /api/admin/books/{id}/image", s.adminOnly(s.handleConfirmBookImage))
	s.mux.Handle("GET /api/admin/orders", s.adminOnly(s.handleAdminOrders))
	s.mux.Handle("PATCH /api/admin/orders/{id}/status", s.adminOnly(s.handleUpdateOrderStatus))
	s.mux.Handle("GET /api/admin/reports/dashboard", s.adminOnly(s.handleDashboard))
	s.mux.Handle("GET /api/admin/reports/books.xlsx", s.adminOnly(s.handleExportBooks))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unavailable")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, store.JWKS{Keys: s.app.JWKS()})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r, "api.authorize")
		if !ok {
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(w, r, "api.admin.authorize")
		if !ok {
			return
		}
		if !user.IsAdmin() {
			s.audit(r, "api.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
			return
		}
		next(w, r, user)
	})
}

// authorize resolves the caller and writes the failure response itself.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, event string) (domain.User, bool) {
	token := accessToken(r)
	if token == "" {
		s.audit(r, event, "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return domain.User{}, false
	}
	user, err := s.app.Authenticate(r.Context(), token)
	if errors.Is(err, app.ErrUnauthorized) {
		s.audit(r, event, "fail", "reason", "invalid_token")
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
		return domain.User{}, false
	}
	if err != nil {
		s.fail(w, r, err)
		return domain.User{}, false
	}
	s.audit(r, event, "success", "user_id", user.ID)
	return user, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	log := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		log.Info("security_event", logAttrs...)
		return
	}
	log.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", msg)
	return false
}

// accessToken reads the bearer token, falling back to the session cookie.
func accessToken(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	return cookieValue(r, sessionCookie)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
