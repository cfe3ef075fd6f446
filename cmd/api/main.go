package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/feedback-engine/internal/config"
	"github.com/kursadbilgin/feedback-engine/internal/handler"
	"github.com/kursadbilgin/feedback-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/feedback-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/feedback-engine/internal/infra/redis"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/provider"
	"github.com/kursadbilgin/feedback-engine/internal/queue"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	"github.com/kursadbilgin/feedback-engine/internal/routing"
	"github.com/kursadbilgin/feedback-engine/internal/service"
	"github.com/kursadbilgin/feedback-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName      = "feedback-engine"
	shutdownTimeout  = 10 * time.Second
	outcomeTimeout   = 30 * time.Second
	consumerPrefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracer initialization failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		SlowQuery:       cfg.DBSlowQuery,
	}, logger)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	leads := repository.NewGormLeadRepo(db)
	issuances := repository.NewGormIssuanceRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	templates, err := infraredis.NewCachedTemplateStore(rdb, repository.NewGormTemplateRepo(db), cfg.TemplateCacheTTL, logger)
	if err != nil {
		logger.Fatal("template cache initialization failed", zap.Error(err))
	}
	templates.SetMetrics(metrics)

	rateLimits, err := cfg.RateLimits()
	if err != nil {
		logger.Fatal("rate limit config invalid", zap.Error(err))
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.LimiterConfig{
		DefaultPerSec: cfg.RateLimitPerSec,
		PerKey:        rateLimits,
	})
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	senders, err := buildSenders(cfg, logger)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}

	router, err := routing.NewRouter(templates)
	if err != nil {
		logger.Fatal("router initialization failed", zap.Error(err))
	}

	issuer, err := service.NewIssuer(leads, issuances, cfg.CodeDigits, logger)
	if err != nil {
		logger.Fatal("issuer initialization failed", zap.Error(err))
	}
	issuer.SetMetrics(metrics)

	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Router:    router,
		Templates: templates,
		Issuances: issuances,
		Attempts:  attempts,
		SMS:       senders.sms,
		Email:     senders.email,
		Push:      senders.push,
		Limiter:   limiter,
	}, service.DispatcherConfig{
		ChannelTimeout:   cfg.ChannelTimeout,
		TestMobileNumber: cfg.SMSTestMobileNo,
		FailureAlertTo:   cfg.SMSFailureAlertTo,
	}, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	outcomeHandler, err := service.NewOutcomeHandler(leads, templates, senders.email, senders.notifier, logger)
	if err != nil {
		logger.Fatal("outcome handler initialization failed", zap.Error(err))
	}
	outcomeHandler.SetMetrics(metrics)

	var (
		outcomes service.OutcomeDispatcher
		inline   *service.InlineOutcomeDispatcher
		worker   *service.OutcomeWorker
		broker   handler.BrokerChecker
	)
	if cfg.QueueEnabled() {
		rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close()
		broker = rmq

		publisher := queue.NewRabbitMQPublisher(rmq)
		outcomes, err = service.NewQueueOutcomeDispatcher(publisher)
		if err != nil {
			logger.Fatal("outcome dispatcher initialization failed", zap.Error(err))
		}

		consumer := queue.NewRabbitMQConsumer(rmq, consumerPrefetch, logger)
		worker, err = service.NewOutcomeWorker(consumer, outcomeHandler, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Fatal("outcome worker initialization failed", zap.Error(err))
		}
		worker.SetMetrics(metrics)
	} else {
		inline, err = service.NewInlineOutcomeDispatcher(outcomeHandler, outcomeTimeout, logger)
		if err != nil {
			logger.Fatal("outcome dispatcher initialization failed", zap.Error(err))
		}
		outcomes = inline
		logger.Info("RABBITMQ_URL not set, outcome tasks run in-process")
	}

	verifier, err := service.NewVerifier(issuances, outcomes, cfg.CodeTTL, logger)
	if err != nil {
		logger.Fatal("verifier initialization failed", zap.Error(err))
	}
	verifier.SetMetrics(metrics)

	escalator, err := service.NewEscalator(leads, issuer, dispatcher, logger)
	if err != nil {
		logger.Fatal("escalator initialization failed", zap.Error(err))
	}
	escalator.SetMetrics(metrics)

	engine, err := service.NewEngine(service.EngineDeps{
		Leads:      leads,
		Issuances:  issuances,
		Attempts:   attempts,
		Issuer:     issuer,
		Dispatcher: dispatcher,
		Verifier:   verifier,
		Escalator:  escalator,
	}, logger)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	if err := handler.RegisterFeedbackRoutes(app, engine); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if worker != nil {
		g.Go(func() error {
			return worker.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("feedback-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.Bool("queue", cfg.QueueEnabled()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feedback-engine stopped with error", zap.Error(err))
	}
	if inline != nil {
		inline.Wait()
	}
	logger.Info("feedback-engine stopped")
}

type senderSet struct {
	sms      provider.SMSSender
	email    provider.EmailSender
	push     provider.PushSender
	notifier provider.OutcomeNotifier
}

// buildSenders wires the channel providers. Unconfigured channels stay nil and
// report CONFIG_MISSING on dispatch.
func buildSenders(cfg *config.Config, logger *zap.Logger) (senderSet, error) {
	var set senderSet
	client := provider.NewHTTPClient(cfg.ChannelTimeout)

	sms, err := provider.NewGatewaySMSSender(client)
	if err != nil {
		return set, err
	}
	set.sms = sms

	var mailers []provider.EmailSender
	if cfg.SMTPEnabled() {
		smtp, err := provider.NewSMTPEmailSender(provider.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.MailFrom,
			FromName:  cfg.MailFromName,
			Timeout:   cfg.ChannelTimeout,
		})
		if err != nil {
			return set, err
		}
		mailers = append(mailers, smtp)
	}
	if cfg.ResendEnabled() {
		resend, err := provider.NewResendEmailSender(cfg.ResendAPIKey, cfg.MailFrom)
		if err != nil {
			return set, err
		}
		mailers = append(mailers, resend)
	}
	if len(mailers) > 0 {
		email, err := provider.NewFailoverEmailSender(logger, mailers...)
		if err != nil {
			return set, err
		}
		set.email = email
	} else {
		logger.Warn("no mail provider configured, email channel disabled")
	}

	if cfg.PushAPIURL != "" {
		push, err := provider.NewWebPushSender(client, cfg.PushAPIURL, cfg.PushAPIKey)
		if err != nil {
			return set, err
		}
		set.push = push
	}

	if cfg.DownstreamURL != "" {
		notifier, err := provider.NewNotificationCenterClient(client, cfg.DownstreamURL, cfg.DownstreamKey)
		if err != nil {
			return set, err
		}
		set.notifier = notifier
	}

	return set, nil
}
