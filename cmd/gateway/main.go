package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/intervention-gateway/internal/audit"
	"github.com/xela07ax/intervention-gateway/internal/connectors"
	"github.com/xela07ax/intervention-gateway/internal/engine"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"github.com/xela07ax/intervention-gateway/internal/intervention"
	"github.com/xela07ax/intervention-gateway/internal/policy"
	"github.com/xela07ax/intervention-gateway/internal/repository/postgres"
	"github.com/xela07ax/intervention-gateway/internal/risk"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

func loadConfig(path string) (*infra.Config, error) {
	if path != "" {
		return infra.LoadConfigFile(path)
	}
	return infra.LoadConfig()
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGTERM cancel() остановит слушателей
	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Инфраструктура и ресурсы
	db, err := postgres.Open(appCtx, cfg.Database.URL, int(cfg.Database.MaxConns))
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Audit Trail: данные полетят в базу пачками
	trail := audit.NewTrail(postgres.NewAuditRepo(db), cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval, logger)
	trail.OnFill(func(n int) { metrics.AuditBufferFill.Set(float64(n)) })
	trail.Start()
	defer trail.Stop()

	// 3. Lifecycle Manager записей вмешательства
	mgr := intervention.NewManager(
		intervention.NewBudget(cfg.Engine.InterventionBudget),
		intervention.Options{
			MaxLogBytes:           cfg.Engine.MaxLogBytes,
			MaxURLBytes:           cfg.Engine.MaxURLBytes,
			DefaultAbortStatus:    cfg.Engine.DefaultAbortStatus,
			DefaultRedirectStatus: cfg.Engine.DefaultRedirectStatus,
		},
		logger,
	)
	core := engine.NewCore(mgr, trail, metrics, logger, cfg.Engine.FailClosed)

	// 4. Оценщики. Порядок регистрации = порядок слияния кандидатов
	blocklist := engine.NewBlocklistManager(rdb, postgres.NewBlocklistRepo(db), logger)
	if err := blocklist.Init(appCtx); err != nil {
		return fmt.Errorf("failed to init blocklist: %w", err)
	}
	go blocklist.StartListener(appCtx)
	core.Register("blocklist", blocklist)

	rules := policy.NewRuleSet(postgres.NewRuleRepo(db), cfg.Engine.RulesDir, rdb, logger)
	if err := rules.Refresh(appCtx); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	go rules.ListenUpdates(appCtx)
	go func() {
		if err := rules.WatchDir(appCtx); err != nil {
			logger.Error("rules dir watcher stopped", zap.Error(err))
		}
	}()
	core.Register("rules", rules)

	if len(cfg.Engine.RiskLimits) > 0 {
		core.Register("risk", risk.NewAnalyzer(cfg.Engine.RiskLimits, blocklist, logger))
	}

	if cfg.Engine.DetectorURL != "" {
		detector := connectors.NewDetector(cfg.Engine.DetectorURL, cfg.Engine.DetectorTimeout)
		// Оборачиваем в Reliability (Rate limit, Circuit Breaker, Retries)
		core.Register("detector", engine.NewReliableEvaluator(detector, engine.ReliabilityConfig{
			Name:          "detector",
			RPS:           cfg.Engine.DetectorRPS,
			Burst:         cfg.Engine.DetectorBurst,
			CallTimeout:   cfg.Engine.DetectorTimeout,
			CBMaxRequests: uint32(cfg.Engine.CBMaxRequests),
			CBInterval:    cfg.Engine.CBInterval,
			CBTimeout:     cfg.Engine.CBTimeout,
		}, metrics))
	}

	// 5. HTTP: Trace -> инспекция -> reverse proxy в upstream
	upstream, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		return fmt.Errorf("invalid upstream %q: %w", cfg.Server.Upstream, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream error", zap.String("tx_id", engine.TransactionID(r.Context())), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}

	gw := engine.NewGateway(core, engine.NewHTTPExecutor(logger), cfg.Engine.MaxBodyBytes, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	r.Use(gw.Middleware)
	r.Handle("/*", proxy)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	// gRPC: только grpc.health.v1 для балансировщика
	health := engine.NewHealthServer(
		func(ctx context.Context) bool { return pingDB(ctx, db) },
		func(ctx context.Context) bool { return rdb.Ping(ctx).Err() == nil },
	)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryLoggingInterceptor(logger)))
	health.Register(grpcSrv)
	go health.Run(appCtx, 10*time.Second)

	errCh := make(chan error, 3)
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			errCh <- fmt.Errorf("failed to listen gRPC: %w", err)
			return
		}
		logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()
	go func() {
		logger.Info("gateway started",
			zap.String("addr", srv.Addr),
			zap.String("upstream", upstream.String()),
			zap.Int("rules", rules.Count()),
			zap.Int("blocked_clients", blocklist.Len()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	// 6. Graceful Shutdown
	select {
	case <-appCtx.Done():
		logger.Info("gateway stopping...")
	case err := <-errCh:
		logger.Error("server failed, shutting down", zap.Error(err))
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	logger.Info("gateway exited properly", zap.Int64("live_records", mgr.Live()))
	return nil
}

func pingDB(ctx context.Context, db *sql.DB) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx) == nil
}
