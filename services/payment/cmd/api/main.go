// Payment API - сервис сверки платежей.
// Принимает вебхуки процессора, проверки оплаты клиентом и запросы back-office,
// приводит их к одному подтверждению и применяет условным UPDATE.
// Побочные эффекты выполняются в запросе (inline) или consumer'ом payments.events (async).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/payment-reconciler/pkg/config"
	dbpkg "example.com/payment-reconciler/pkg/db"
	"example.com/payment-reconciler/pkg/healthcheck"
	"example.com/payment-reconciler/pkg/jwt"
	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/pkg/outbox"
	"example.com/payment-reconciler/pkg/tracing"
	"example.com/payment-reconciler/services/payment/internal/dispatch"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/handler"
	"example.com/payment-reconciler/services/payment/internal/ingress"
	"example.com/payment-reconciler/services/payment/internal/invoice"
	"example.com/payment-reconciler/services/payment/internal/middleware"
	"example.com/payment-reconciler/services/payment/internal/notify"
	"example.com/payment-reconciler/services/payment/internal/paymentlink"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
	"example.com/payment-reconciler/services/payment/internal/repository"
	"example.com/payment-reconciler/services/payment/internal/resolver"
	"example.com/payment-reconciler/services/payment/internal/scheduler"
)

const serviceName = "payment-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Str("dispatch_mode", cfg.Dispatch.Mode).
		Msg("Запуск Payment API")

	if cfg.UnsignedWebhooksAllowed() {
		log.Warn().Msg("Приём вебхуков без подписи включён, только для локальной разработки")
	}

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Jaeger.OTLPEndpoint(),
		Enabled:     cfg.Jaeger.Enabled,
		SampleRatio: cfg.Jaeger.SampleRatio,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		if err := dbpkg.Migrate(context.Background(), db, repository.Models()...); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
	}

	rdb, err := dbpkg.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Msg("Подключение к Redis установлено")

	checks := []healthcheck.Check{healthcheck.MySQL(db), healthcheck.Redis(rdb)}
	if cfg.Kafka.Enabled() {
		checks = append(checks, healthcheck.Kafka(cfg.Kafka.Brokers))
	}
	readinessCheck := healthcheck.Composite(checks...)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName, metrics.WithReadinessCheck(readinessCheck))
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Kafka ===

	var producer *kafka.Producer
	// Интерфейс, а не *kafka.Producer: без Kafka получатели видят настоящий nil.
	var publisher notify.Publisher
	if cfg.Kafka.Enabled() {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultPaymentTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
		producer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		publisher = producer
	} else {
		log.Warn().Msg("Kafka не настроена: outbox relay отключён, письма и счета только логируются")
	}

	dispatchMode := cfg.Dispatch.Mode
	if dispatchMode == config.DispatchModeAsync && !cfg.Kafka.Enabled() {
		log.Warn().Msg("DISPATCH_MODE=async требует Kafka, побочные эффекты выполняются inline")
		dispatchMode = config.DispatchModeInline
	}

	// === Репозитории ===

	orders := repository.NewOrderRepository(db, cfg.Kafka.Enabled())
	installments := repository.NewInstallmentRepository(db, cfg.Kafka.Enabled())
	links := repository.NewPaymentLinkRepository(db)
	customers := repository.NewCustomerRepository(db)
	invoices := repository.NewInvoiceRepository(db)

	// === Бизнес-логика ===

	dispatcher := dispatch.New(dispatch.Deps{
		Orders:        orders,
		Installments:  installments,
		Carts:         repository.NewCartRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Links:         links,
		Mailer:        notify.NewMailer(publisher),
		Invoices:      invoice.NewGenerator(invoices, publisher),
	})

	var reconcileOpts []reconcile.Option
	if dispatchMode == config.DispatchModeInline {
		reconcileOpts = append(reconcileOpts, reconcile.WithDispatcher(dispatcher))
	}
	reconciler := reconcile.NewReconciler(
		resolver.New(orders, installments),
		reconcile.NewEngine(orders, installments),
		reconcileOpts...,
	)

	var stripeClient *processor.StripeClient
	var linkProcessor paymentlink.Processor
	if cfg.Stripe.Configured() {
		stripeClient = processor.NewStripeClient(processor.StripeConfig{
			SecretKey:         cfg.Stripe.SecretKey,
			Timeout:           cfg.Stripe.Timeout,
			MaxNetworkRetries: 2,
		})
		linkProcessor = stripeClient
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY не задан: проверка оплаты, сверка и списания отключены")
	}

	linkService := paymentlink.NewService(links, orders, customers, linkProcessor, paymentlink.Config{
		DefaultTTL: cfg.PaymentLinks.DefaultTTL,
		PublicURL:  cfg.App.PublicURL,
	}, paymentlink.WithInvoices(invoices))

	routerCfg := handler.RouterConfig{
		Service: serviceName,
		Webhooks: ingress.NewWebhookService(
			ingress.NewWebhookParser(cfg.Stripe.WebhookSecret, cfg.UnsignedWebhooksAllowed()),
			reconciler,
			ingress.NewEventDedupe(rdb),
		),
		Links:          linkService,
		Invoices:       invoices,
		DocumentsURL:   cfg.PaymentLinks.DocumentsURL,
		CORS:           middleware.DefaultCORSConfig(cfg.App.PublicURL),
		ReadinessCheck: handler.ReadinessChecker(readinessCheck),
		Debug:          cfg.IsDevelopment(),
	}
	if stripeClient != nil {
		routerCfg.Verifier = ingress.NewVerifier(stripeClient, reconciler, orders)
		routerCfg.Resyncer = ingress.NewResyncer(stripeClient, reconciler, orders, installments)
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimitMW = middleware.NewRateLimit(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.RateLimit.RequestsLimit,
			Window: cfg.RateLimit.Window,
			Prefix: "rate:payments",
		})
	}
	if cfg.JWT.PublicKeyPath != "" {
		verifier, err := jwt.NewVerifier(jwt.Config{PublicKeyPath: cfg.JWT.PublicKeyPath, Issuer: cfg.JWT.Issuer})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка загрузки ключа JWT")
		}
		verifier.SetBlacklist(jwt.NewBlacklist(rdb))
		routerCfg.AdminAuth = middleware.NewAdminAuth(verifier, cfg.JWT.AdminRole)
	} else {
		log.Warn().Msg("JWT_PUBLIC_KEY_PATH не задан: admin API отключён")
	}

	router := handler.NewRouter(routerCfg)

	// === Фоновые воркеры ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup
	startWorker := func(name string, run func(ctx context.Context)) {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("worker", name).Msg("Паника в фоновом воркере")
				}
			}()
			run(ctx)
		}()
	}

	var eventsConsumer *kafka.Consumer
	if producer != nil {
		relay := outbox.NewRelay(outbox.NewRepository(db, domain.AggregateOrder), producer, outbox.DefaultRelayConfig())
		startWorker("outbox_relay", relay.Run)

		if dispatchMode == config.DispatchModeAsync {
			eventsConsumer, err = kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
			if err != nil {
				log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
			}
			eventsConsumer.SetDLQ(producer)
			consumer := dispatch.NewEventConsumer(eventsConsumer, dispatcher)
			startWorker("side_effects", func(ctx context.Context) {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("Ошибка consumer побочных эффектов")
				}
			})
		}
	}

	if cfg.Scheduler.Enabled && stripeClient != nil {
		s := scheduler.New(installments, stripeClient, reconciler,
			scheduler.NewRedisLocker(rdb, cfg.Scheduler.LockTTL),
			scheduler.Config{BatchSize: cfg.Scheduler.BatchSize, Concurrency: cfg.Scheduler.Concurrency})
		startWorker("installments", scheduler.NewWorker(s, cfg.Scheduler.Interval).Run)
	}

	startWorker("payment_link_cleaner", paymentlink.NewCleaner(linkService, cfg.PaymentLinks.CleanupInterval).Run)

	// === HTTP сервер ===

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Сначала HTTP: запросы в полёте дописывают переходы в outbox.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	cancel()
	workersWg.Wait()

	if eventsConsumer != nil {
		if err := eventsConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}

	if err := dbpkg.Close(db); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия MySQL")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment API остановлен")
}
