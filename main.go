// package main provides the entry point for the community-site auth service:
// credential storage, token issuing, password reset mail and the REST and GraphQL API.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ortelius/community-site/database"
	"github.com/ortelius/community-site/events/modules/mail"
	"github.com/ortelius/community-site/internal/api"
	"github.com/ortelius/community-site/internal/config"
	"github.com/ortelius/community-site/internal/kafka"
	"github.com/ortelius/community-site/restapi/modules/auth"
)

var logger = database.InitLogger()

func main() {
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Sugar().Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Sugar().Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credential store
	store, err := newUserStore(ctx, cfg)
	if err != nil {
		logger.Sugar().Fatalf("Failed to initialize user store: %v", err)
	}

	// Token issuer
	tokens, err := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, cfg.TokenIssuer)
	if err != nil {
		logger.Sugar().Fatalf("Failed to create token issuer: %v", err)
	}

	// Outgoing mail
	mailer, closeMailer := newMailer(cfg)
	defer closeMailer.Close()

	if cfg.Kafka.RunRelay {
		if err := kafka.RunMailRelay(ctx, kafkaConfig(cfg), auth.NewSMTPMailer(cfg.Email), logger); err != nil {
			logger.Sugar().Fatalf("Failed to start mail relay: %v", err)
		}
	}

	svc := auth.NewService(store, tokens, mailer, cfg.ServiceConfig(), logger)

	if cfg.Admin.Email != "" {
		created, err := svc.BootstrapAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			logger.Sugar().Fatalf("Failed to bootstrap admin account: %v", err)
		}
		if created {
			logger.Sugar().Infof("Created admin account %s", cfg.Admin.Email)
		}
	}

	providers := auth.NewOAuthProviders(cfg.OAuth)
	for _, p := range providers.Enabled() {
		logger.Sugar().Infof("OAuth login enabled for %s", p)
	}

	limiter, closeLimiter := newRateLimiter(ctx, cfg)
	defer closeLimiter.Close()

	app, err := api.NewFiberApp(api.Options{
		Service:      svc,
		Providers:    providers,
		Limiter:      limiter,
		AllowOrigins: cfg.AllowOrigins,
	})
	if err != nil {
		logger.Sugar().Fatalf("Failed to create API: %v", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			logger.Sugar().Warnf("Shutdown: %v", err)
		}
	}()

	logger.Sugar().Infof("Starting server on port %s", cfg.Port)
	logger.Sugar().Infof("GraphQL endpoint available at /api/v1/graphql")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Sugar().Fatalf("Failed to start server: %v", err)
	}

	// let queued reset mails finish before the mailer closes
	svc.Wait()
}

func newUserStore(ctx context.Context, cfg config.Config) (database.UserStore, error) {
	if cfg.MemoryStore {
		logger.Warn("Using in-memory user store, accounts are lost on restart")
		return database.NewMemoryUserStore(), nil
	}
	db, err := database.InitializeDatabase(ctx, cfg.DatabaseConfig())
	if err != nil {
		return nil, err
	}
	return database.NewArangoUserStore(db), nil
}

func kafkaConfig(cfg config.Config) kafka.Config {
	return kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.MailTopic,
		GroupID:  cfg.Kafka.GroupID,
		Username: cfg.Kafka.APIKey,
		Password: cfg.Kafka.APISecret,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newMailer(cfg config.Config) (auth.Mailer, io.Closer) {
	switch cfg.MailTransport {
	case config.MailTransportSMTP:
		logger.Sugar().Infof("Sending mail through %s:%s", cfg.Email.SMTPHost, cfg.Email.SMTPPort)
		return auth.NewSMTPMailer(cfg.Email), nopCloser{}
	case config.MailTransportKafka:
		logger.Sugar().Infof("Queueing mail on Kafka topic %s", cfg.Kafka.MailTopic)
		producer := mail.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MailTopic, kafkaConfig(cfg).Transport())
		return producer, producer
	default:
		logger.Warn("Mail is not configured, reset links are written to the log")
		return auth.NewLogMailer(logger), nopCloser{}
	}
}

func newRateLimiter(ctx context.Context, cfg config.Config) (*auth.RateLimiter, io.Closer) {
	if !cfg.RateLimit.Enabled() {
		logger.Warn("Rate limiting disabled, set REDIS_ADDR to enable it")
		return nil, nopCloser{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil && !errors.Is(err, context.Canceled) {
		// requests fail open while Redis is down, so keep going
		logger.Sugar().Warnf("Redis at %s is not reachable: %v", cfg.RateLimit.RedisAddr, err)
	}
	return auth.NewRateLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "community:ratelimit"), client
}
