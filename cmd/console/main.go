package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/intervention-gateway/internal/console/handler"
	"github.com/xela07ax/intervention-gateway/internal/console/server"
	"github.com/xela07ax/intervention-gateway/internal/console/service"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"github.com/xela07ax/intervention-gateway/internal/infra/auth"
	"github.com/xela07ax/intervention-gateway/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	var (
		cfg *infra.Config
		err error
	)
	if *configPath != "" {
		cfg, err = infra.LoadConfigFile(*configPath)
	} else {
		cfg, err = infra.LoadConfig()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("console failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 1. Инициализация ресурсов
	db, err := postgres.Open(ctx, cfg.Database.URL, int(cfg.Database.MaxConns))
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Логин операторов включается только при наличии приватного ключа
	var authH *handler.AuthHandler
	if len(cfg.Auth.PrivateKey) > 0 {
		privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		authH = handler.NewAuthHandler(service.NewAuthService(cfg.Auth.Operators, privKey, cfg.Auth.TokenTTL))
		logger.Info("operator login enabled", zap.Int("operators", len(cfg.Auth.Operators)))
	}

	// 2. Инициализация слоев (Dependency Injection)
	notifier := service.NewRedisNotifier(rdb)
	ruleH := handler.NewRuleHandler(service.NewRuleService(postgres.NewRuleRepo(db), notifier, logger), logger)
	blocklistH := handler.NewBlocklistHandler(service.NewBlocklistService(postgres.NewBlocklistRepo(db), notifier, logger), logger)
	auditH := handler.NewAuditHandler(service.NewAuditService(postgres.NewAuditRepo(db)))

	// 3. Настройка роутера
	api := server.NewConsoleServer(logger, auth.NewBaseValidator(pubKey), authH, ruleH, blocklistH, auditH)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Console.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Console.ReadTimeout,
		WriteTimeout: cfg.Console.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
