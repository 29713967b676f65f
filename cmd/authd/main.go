package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/spaceai-authgate/internal/audit"
	"github.com/xela07ax/spaceai-authgate/internal/console/handler"
	"github.com/xela07ax/spaceai-authgate/internal/console/server"
	"github.com/xela07ax/spaceai-authgate/internal/console/service"
	"github.com/xela07ax/spaceai-authgate/internal/engine"
	"github.com/xela07ax/spaceai-authgate/internal/infra"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"github.com/xela07ax/spaceai-authgate/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	source := infra.NewConfigSource()
	cfg, err := source.Load()
	if err != nil {
		panic(err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 2. JWT сервис. Ошибка ключей фатальна: без них сервис не стартует
	svc, err := buildService(cfg, logger)
	if err != nil {
		logger.Fatal("jwt service activation failed", zap.Error(err))
	}
	holder := auth.NewServiceHolder(svc)
	logger.Info("jwt service bound",
		zap.String("alg", string(svc.Keys().Algorithm())),
		zap.String("kid", svc.Keys().KeyID()),
		zap.Bool("can_sign", svc.Keys().CanSign()),
	)

	// Ротация ключей: новый сервис собирается целиком и подменяется атомарно.
	// Если новая конфигурация битая — продолжаем работать со старым ключом.
	source.Watch(func(next *infra.Config, err error) {
		if err == nil {
			var fresh *auth.Service
			if fresh, err = buildService(next, logger); err == nil {
				holder.Bind(fresh)
				logger.Info("jwt service rebound", zap.String("kid", fresh.Keys().KeyID()))
				return
			}
		}
		logger.Error("config reload rejected, keeping current jwt service", zap.Error(err))
	})

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Инфраструктура: Postgres (пользователи + аудит), Redis (отзыв токенов)
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (DATABASE_URL) is required")
	}
	pool, err := postgres.NewPool(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// 4. Control Plane: L1 кэш отозванных токенов
	revocation := engine.NewRevocationManager(rdb, logger, metrics)
	if err := revocation.Init(appCtx); err != nil {
		logger.Fatal("failed to init revocation cache", zap.Error(err))
	}
	go revocation.StartListener(appCtx, time.Minute)

	// Аудит пишется пачками, Hot Path не блокируется
	trail := audit.NewTrail(postgres.NewAuditRepo(pool), logger, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	trail.Start()
	defer trail.Stop()
	go metrics.TrackAuditBuffer(appCtx, trail.Pending, 5*time.Second)

	// 5. Слои (Dependency Injection)
	users := engine.NewReliableUserStore(postgres.NewUserRepo(pool), engine.ReliabilityOptions{
		RateLimit: cfg.Auth.LoginRateLimit,
	})
	authService := service.NewAuthService(users, holder, revocation, trail, metrics, logger)
	authHandler := handler.NewAuthHandler(authService, holder, logger)

	filterOpts := []auth.Option{
		auth.WithExtractor(auth.NewExtractor(cfg.Auth.CookieName, cfg.Auth.PreferCookieOverHeader)),
		auth.WithRecorder(metrics),
		auth.WithAuditor(trail),
		auth.WithIntrospectors(revocation),
	}

	// Метрики либо на отдельном порту, либо на основном роутере
	routerMetrics := http.Handler(metricsHandler)
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		routerMetrics = nil
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	// 6. HTTP Server
	consoleSrv := server.NewConsoleServer(cfg, logger, holder, authHandler, routerMetrics, filterOpts...)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. gRPC: та же цепочка фильтра поверх метаданных
	var grpcSrv *grpc.Server
	if cfg.GRPC.Port > 0 {
		expiredPolicy, _ := auth.ParseExpiredPolicy(cfg.Auth.ExpiredPolicy)
		grpcFilter := auth.NewFilter(holder, logger,
			append(filterOpts, auth.WithChannel("grpc"), auth.WithExpiredPolicy(expiredPolicy))...)

		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(
			engine.UnaryAuthInterceptor(grpcFilter, "/grpc.health.v1.Health/"),
		))
		healthpb.RegisterHealthServer(grpcSrv, health.NewServer())

		go func() {
			lis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.GRPC.Port)))
			if err != nil {
				logger.Fatal("failed to listen gRPC", zap.Error(err))
			}
			logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("authgate started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("authgate stopping...")

	// Новые запросы по keep-alive соединениям получат 503
	holder.Unbind()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	cancel()
	logger.Info("authgate exited properly")
}

func buildService(cfg *infra.Config, logger *zap.Logger) (*auth.Service, error) {
	svcCfg, err := cfg.Auth.ServiceConfig()
	if err != nil {
		return nil, err
	}
	return auth.NewService(svcCfg, logger)
}
