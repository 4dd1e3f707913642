// Package scheduler списывает очередные платежи рассрочки с сохранённой карты
// и передаёт результат в Reconciler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
)

// Installments - выборка и учёт попыток списания.
type Installments interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Installment, error)
	RecordAttempt(ctx context.Context, id int64, at time.Time) error
}

// Charger списывает сохранённую карту.
type Charger interface {
	ChargeOffSession(ctx context.Context, p processor.ChargeParams) (*processor.Intent, error)
}

// Reconciler применяет результат списания.
type Reconciler interface {
	Reconcile(ctx context.Context, c domain.PaymentConfirmation) (*reconcile.Outcome, error)
}

// Locker захватывает платёж на время списания. nil - без блокировки.
type Locker interface {
	Acquire(ctx context.Context, installmentID int64) (bool, func(), error)
}

// Config - настройки пакета списаний.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Summary - итог одного запуска.
type Summary struct {
	Due       int
	Paid      int64
	Declined  int64
	Transient int64
	Skipped   int64
}

// Результаты списания (значения метки result).
const (
	resultPaid      = "paid"
	resultDeclined  = "declined"
	resultTransient = "transient"
	resultSkipped   = "skipped"
)

// Scheduler - пакетное списание платежей рассрочки.
type Scheduler struct {
	installments Installments
	charger      Charger
	reconciler   Reconciler
	locker       Locker
	cfg          Config
}

// New создаёт Scheduler.
func New(installments Installments, charger Charger, reconciler Reconciler, locker Locker, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Scheduler{
		installments: installments,
		charger:      charger,
		reconciler:   reconciler,
		locker:       locker,
		cfg:          cfg,
	}
}

// RunOnce списывает все платежи, срок которых наступил к now.
// Ошибка возвращается, только если не удалось получить список платежей:
// сбой отдельного списания не останавливает пакет.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (Summary, error) {
	log := logger.Ctx(ctx).With().Str("job", "installments").Logger()

	due, err := s.installments.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("выборка платежей рассрочки: %w", err)
	}

	sum := Summary{Due: len(due)}
	if len(due) == 0 {
		log.Info().Msg("Нет платежей рассрочки к списанию")
		return sum, nil
	}

	var paid, declined, transient, skipped atomic.Int64
	counters := map[string]*atomic.Int64{
		resultPaid:      &paid,
		resultDeclined:  &declined,
		resultTransient: &transient,
		resultSkipped:   &skipped,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, inst := range due {
		g.Go(func() error {
			result := s.process(gctx, inst, now)
			counters[result].Add(1)
			metrics.InstallmentCharges.WithLabelValues(result).Inc()
			return nil
		})
	}
	_ = g.Wait()

	sum.Paid, sum.Declined, sum.Transient, sum.Skipped = paid.Load(), declined.Load(), transient.Load(), skipped.Load()
	log.Info().
		Int("due", sum.Due).
		Int64("paid", sum.Paid).
		Int64("declined", sum.Declined).
		Int64("transient", sum.Transient).
		Int64("skipped", sum.Skipped).
		Msg("Пакет списаний рассрочки завершён")
	return sum, nil
}

func (s *Scheduler) process(ctx context.Context, inst *domain.Installment, now time.Time) string {
	ctx = logger.WithPaymentFields(ctx, inst.OrderID, "")
	log := logger.Ctx(ctx).With().
		Int64("installment_id", inst.ID).
		Int("installment_number", inst.Number).
		Logger()

	if s.locker != nil {
		ok, release, err := s.locker.Acquire(ctx, inst.ID)
		defer release()
		if err != nil {
			// Блокировка - только быстрый путь, двойное списание исключает ключ идемпотентности.
			log.Warn().Err(err).Msg("Redis недоступен, списание без блокировки")
		} else if !ok {
			log.Info().Msg("Платёж обрабатывается другим экземпляром")
			return resultSkipped
		}
	}

	if inst.CustomerRef == "" || inst.PaymentMethodRef == "" {
		log.Warn().Err(domain.ErrMissingCustomerRef).Msg("Платёж пропущен")
		return resultSkipped
	}

	meta := domain.Metadata{
		OrderID:           inst.OrderID,
		PaymentType:       domain.SliceInstallment,
		InstallmentNumber: inst.Number,
		InstallmentCount:  domain.InstallmentCount,
	}
	key := inst.IdempotencyKey(now)

	intent, err := s.charger.ChargeOffSession(ctx, processor.ChargeParams{
		Amount:           inst.Amount,
		Currency:         inst.Currency,
		CustomerRef:      inst.CustomerRef,
		PaymentMethodRef: inst.PaymentMethodRef,
		Description:      fmt.Sprintf("Заказ %s, платёж %d из %d", inst.OrderNumber, inst.Number, domain.InstallmentCount),
		Metadata:         meta,
		IdempotencyKey:   key,
	})

	var declined *domain.Declined
	switch {
	case errors.As(err, &declined):
		s.recordAttempt(ctx, inst, now)
		intentID := declined.IntentID
		if intentID == "" {
			intentID = key
		}
		return s.apply(ctx, domain.PaymentConfirmation{
			IntentID:      intentID,
			Status:        domain.ConfirmationFailed,
			Source:        domain.SourceScheduler,
			Metadata:      meta,
			FailureReason: declined.Code,
			OccurredAt:    now,
		}, resultDeclined)

	case err != nil:
		s.recordAttempt(ctx, inst, now)
		log.Warn().Err(err).Msg("Временная ошибка списания, повтор в следующем запуске")
		return resultTransient

	case !intent.Succeeded():
		// requires_action и processing: итог придёт вебхуком.
		s.recordAttempt(ctx, inst, now)
		log.Info().Str("intent_status", string(intent.Status)).Msg("Списание не завершено синхронно")
		return resultTransient
	}

	return s.apply(ctx, domain.PaymentConfirmation{
		IntentID:         intent.ID,
		Status:           domain.ConfirmationSucceeded,
		Source:           domain.SourceScheduler,
		Metadata:         meta,
		CustomerRef:      inst.CustomerRef,
		PaymentMethodRef: inst.PaymentMethodRef,
		OccurredAt:       now,
	}, resultPaid)
}

// apply передаёт результат списания в Reconciler. Если запись не удалась,
// платёж остаётся pending: следующий запуск повторит списание с тем же
// ключом идемпотентности в пределах суток, либо исход доставит вебхук.
func (s *Scheduler) apply(ctx context.Context, c domain.PaymentConfirmation, result string) string {
	if _, err := s.reconciler.Reconcile(ctx, c); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("intent_id", c.IntentID).Msg("Не удалось зафиксировать результат списания")
		return resultTransient
	}
	return result
}

func (s *Scheduler) recordAttempt(ctx context.Context, inst *domain.Installment, at time.Time) {
	if err := s.installments.RecordAttempt(ctx, inst.ID, at); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось записать попытку списания")
	}
}
