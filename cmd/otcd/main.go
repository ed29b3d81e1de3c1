package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/catalogfi/otc/pkg/auth"
	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/metrics"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/registry"
	"github.com/catalogfi/otc/pkg/rpc"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// A missing .env file is fine, the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Dev, cfg.Sentry)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.DB)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	fees, err := newFeeResolver(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up the fee registry", zap.Error(err))
	}

	collector := metrics.NewCollector("otc")
	engine, err := escrow.New(st, fees, cfg.Validator(), otc.Address(cfg.EscrowAddress), logger.With(zap.String("service", "escrow")), collector)
	if err != nil {
		logger.Fatal("failed to create the escrow engine", zap.Error(err))
	}
	if _, err := engine.Instantiate(context.Background(), cfg.Owner); err != nil && !errors.Is(err, otc.ErrInvalidState) {
		logger.Fatal("failed to instantiate", zap.Error(err))
	}

	if !cfg.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	server := rpc.NewServer(engine, auth.New(cfg.JWTSecret, cfg.Domain, 24*time.Hour), collector.Handler(), logger)

	// waiting system signal
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := server.Run(ctx, cfg.Addr); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}

// newLogger reports errors to sentry when a dsn is configured.
func newLogger(dev bool, dsn string) (*zap.Logger, error) {
	newZap := zap.NewProduction
	if dev {
		newZap = zap.NewDevelopment
	}
	logger, err := newZap()
	if err != nil || dsn == "" {
		return logger, err
	}

	client, err := sentry.NewClient(sentry.ClientOptions{Dsn: dsn})
	if err != nil {
		return nil, err
	}
	core, err := zapsentry.NewCore(zapsentry.Configuration{Level: zapcore.ErrorLevel}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, err
	}
	return zapsentry.AttachCoreToLogger(core, logger), nil
}

// newFeeResolver keeps the fee in redis when a redis url is configured, seeding it from the
// configured ratio or flat fee on first start. Otherwise the configured fee is used as is.
func newFeeResolver(ctx context.Context, cfg Config, logger *zap.Logger) (registry.FeeResolver, error) {
	fee, err := cfg.Fee()
	if err != nil {
		return nil, err
	}
	if cfg.RedisURL == "" {
		return registry.NewStatic(fee, cfg.Validator())
	}

	provider, err := registry.NewRedisProvider(cfg.RedisURL, "otc", cfg.Validator())
	if err != nil {
		return nil, err
	}
	registered, err := provider.Registered(ctx)
	if err != nil {
		return nil, err
	}
	if registered || fee.IsZero() {
		return provider, nil
	}
	logger.Info("seeding the fee registry", zap.String("ratio", fee.Ratio.String()), zap.String("collector", fee.Collector.String()))
	if err := provider.SetFee(ctx, fee); err != nil {
		return nil, err
	}
	return provider, nil
}
