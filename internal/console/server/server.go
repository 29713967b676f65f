package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-authgate/internal/console/handler"
	"github.com/xela07ax/spaceai-authgate/internal/engine"
	"github.com/xela07ax/spaceai-authgate/internal/infra"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Текущий JWT сервис (nil до активации и во время реконфигурации)
	jwt auth.ServiceProvider

	// Общие опции фильтра: extractor, метрики, аудит, интроспекция (отзыв)
	filterOpts []auth.Option

	authHandler *handler.AuthHandler // /auth/*
	metrics     http.Handler         // /metrics
}

// NewConsoleServer собирает HTTP поверхность сервиса.
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	jwt auth.ServiceProvider,
	authH *handler.AuthHandler,
	metrics http.Handler,
	filterOpts ...auth.Option,
) *ConsoleServer {
	s := &ConsoleServer{
		router:      chi.NewRouter(),
		logger:      logger.Named("console-api"),
		cfg:         cfg,
		jwt:         jwt,
		filterOpts:  filterOpts,
		authHandler: authH,
		metrics:     metrics,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) filter(extra ...auth.Option) func(http.Handler) http.Handler {
	opts := append(append([]auth.Option{}, s.filterOpts...), extra...)
	return auth.NewMiddleware(s.jwt, s.logger, opts...)
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	expiredPolicy, err := auth.ParseExpiredPolicy(s.cfg.Auth.ExpiredPolicy)
	if err != nil {
		s.logger.Warn("unknown expired policy, falling back to reject", zap.Error(err))
	}

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)
		r.Get("/.well-known/jwks.json", s.authHandler.JWKS)
		r.Get("/health", s.authHandler.Health)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}
	})

	// --- 3. CHECK: истекший токен доходит до обработчика с флагом Expired ---
	r.Group(func(r chi.Router) {
		r.Use(s.filter(auth.WithExpiredPolicy(auth.ExpiredPassThrough)))
		r.Get("/auth/check", s.authHandler.Check)
	})

	// --- 4. ЗАЩИЩЕННЫЙ ПЕРИМЕТР ---
	r.Group(func(r chi.Router) {
		r.Use(s.filter(auth.WithExpiredPolicy(expiredPolicy)))
		r.Post("/auth/revoke", s.authHandler.Revoke)
	})

	// --- 5. АВТОРИЗАЦИЯ ПО РОЛИ: невалидный токен -> 403, нет роли -> 401 ---
	r.Group(func(r chi.Router) {
		r.Use(s.filter(
			auth.WithScope(auth.ScopeAuthorization),
			auth.WithExpiredPolicy(auth.ExpiredReject),
			auth.WithIntrospectors(auth.RequireClaim("roles", "admin")),
		))
		r.Get("/auth/admin/check", s.authHandler.Check)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
