// Installments - разовый запуск пакета списаний по рассрочке (cron).
// Код возврата ненулевой только при ошибке подготовки: отказы по картам
// и временные ошибки отдельных платежей учитываются в итогах пакета.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/payment-reconciler/pkg/config"
	dbpkg "example.com/payment-reconciler/pkg/db"
	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/tracing"
	"example.com/payment-reconciler/services/payment/internal/dispatch"
	"example.com/payment-reconciler/services/payment/internal/invoice"
	"example.com/payment-reconciler/services/payment/internal/notify"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
	"example.com/payment-reconciler/services/payment/internal/repository"
	"example.com/payment-reconciler/services/payment/internal/resolver"
	"example.com/payment-reconciler/services/payment/internal/scheduler"
)

const serviceName = "payment-installments"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска пакета рассрочки: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.Logger()

	if !cfg.Stripe.Configured() {
		return fmt.Errorf("STRIPE_SECRET_KEY не задан")
	}

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
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, false)
	if err != nil {
		return err
	}
	defer func() { _ = dbpkg.Close(db) }()

	rdb, err := dbpkg.ConnectRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	orders := repository.NewOrderRepository(db, cfg.Kafka.Enabled())
	installments := repository.NewInstallmentRepository(db, cfg.Kafka.Enabled())

	// В async режиме побочные эффекты выполнит consumer payments.events API процесса.
	var opts []reconcile.Option
	if cfg.Dispatch.Mode != config.DispatchModeAsync || !cfg.Kafka.Enabled() {
		var publisher notify.Publisher
		if cfg.Kafka.Enabled() {
			producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
			if err != nil {
				return err
			}
			defer func() { _ = producer.Close() }()
			publisher = producer
		}
		opts = append(opts, reconcile.WithDispatcher(dispatch.New(dispatch.Deps{
			Orders:        orders,
			Installments:  installments,
			Carts:         repository.NewCartRepository(db),
			Notifications: repository.NewNotificationRepository(db),
			Links:         repository.NewPaymentLinkRepository(db),
			Mailer:        notify.NewMailer(publisher),
			Invoices:      invoice.NewGenerator(repository.NewInvoiceRepository(db), publisher),
		})))
	}
	reconciler := reconcile.NewReconciler(
		resolver.New(orders, installments),
		reconcile.NewEngine(orders, installments),
		opts...,
	)

	s := scheduler.New(
		installments,
		processor.NewStripeClient(processor.StripeConfig{
			SecretKey:         cfg.Stripe.SecretKey,
			Timeout:           cfg.Stripe.Timeout,
			MaxNetworkRetries: 2,
		}),
		reconciler,
		scheduler.NewRedisLocker(rdb, cfg.Scheduler.LockTTL),
		scheduler.Config{BatchSize: cfg.Scheduler.BatchSize, Concurrency: cfg.Scheduler.Concurrency},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := s.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	log.Info().
		Int("due", summary.Due).
		Int64("paid", summary.Paid).
		Int64("declined", summary.Declined).
		Int64("transient", summary.Transient).
		Int64("skipped", summary.Skipped).
		Msg("Пакет списаний рассрочки завершён")
	return nil
}
