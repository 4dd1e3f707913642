package reconcile

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/pkg/tracing"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/resolver"
)

var tracer = tracing.Tracer("payment/reconcile")

// Resolver находит цель подтверждения.
type Resolver interface {
	Resolve(ctx context.Context, c domain.PaymentConfirmation) (*resolver.Target, error)
}

// Dispatcher выполняет побочные эффекты выигранного перехода.
// Ошибки побочных эффектов не влияют на результат подтверждения.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.PaymentEvent)
}

// Outcome - результат Reconcile для ingress.
type Outcome struct {
	Result
	Target *resolver.Target
}

// Reconciler - единая точка входа для вебхука, проверки клиентом,
// планировщика и ресинхронизации.
type Reconciler struct {
	resolver   Resolver
	engine     *Engine
	dispatcher Dispatcher
	now        func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithDispatcher включает побочные эффекты в том же запросе.
// Без диспетчера они выполняются асинхронно consumer'ом событий outbox.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Reconciler) { r.dispatcher = d }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler создаёт Reconciler.
func NewReconciler(res Resolver, engine *Engine, opts ...Option) *Reconciler {
	r := &Reconciler{resolver: res, engine: engine, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile валидирует подтверждение, находит цель и применяет переход.
// Победитель запускает побочные эффекты. Ошибка хранилища возвращается
// как domain.ErrPersistence и должна приводить к повторной доставке.
func (r *Reconciler) Reconcile(ctx context.Context, c domain.PaymentConfirmation) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Reconcile")
	defer span.End()

	if err := c.Validate(); err != nil {
		r.record(c.Source, "rejected")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = r.now().UTC()
	}

	ctx = logger.WithPaymentFields(ctx, c.Metadata.OrderID, c.IntentID)
	log := logger.Ctx(ctx)
	span.SetAttributes(
		attribute.String("payment.intent_id", c.IntentID),
		attribute.String("payment.status", string(c.Status)),
		attribute.String("payment.source", string(c.Source)),
	)

	target, err := r.resolver.Resolve(ctx, c)
	if err != nil {
		r.fail(span, c.Source, err)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("Намерение не относится ни к одному заказу")
		} else {
			log.Error().Err(err).Msg("Ошибка поиска заказа по намерению")
		}
		return nil, err
	}

	ctx = logger.WithPaymentFields(ctx, target.Order.ID, "")
	log = logger.Ctx(ctx)
	span.SetAttributes(
		attribute.Int64("payment.order_id", target.Order.ID),
		attribute.String("payment.slice", string(target.Slice)),
	)

	result, err := r.engine.Apply(ctx, target, c)
	if err != nil {
		r.fail(span, c.Source, err)
		log.Error().Err(err).Str("slice", string(target.Slice)).Msg("Не удалось применить подтверждение")
		return nil, err
	}

	if result.Ignored {
		r.record(c.Source, "ignored")
		log.Info().
			Str("slice", string(target.Slice)).
			Str("status", string(c.Status)).
			Msg("Подтверждение не меняет состояние заказа")
		return &Outcome{Result: result, Target: target}, nil
	}

	if result.AlreadyProcessed {
		r.record(c.Source, "already_processed")
		log.Info().Str("slice", string(target.Slice)).Msg("Подтверждение уже применено ранее")
		return &Outcome{Result: result, Target: target}, nil
	}

	r.record(c.Source, "committed")
	log.Info().
		Str("slice", string(target.Slice)).
		Str("status", string(c.Status)).
		Msg("Переход платежа зафиксирован")

	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, result.Event)
	}

	return &Outcome{Result: result, Target: target}, nil
}

func (r *Reconciler) fail(span trace.Span, source domain.Source, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.record(source, "not_found")
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		r.record(source, "rejected")
		span.SetStatus(codes.Error, err.Error())
	default:
		r.record(source, "error")
		span.SetStatus(codes.Error, err.Error())
	}
}

func (r *Reconciler) record(source domain.Source, outcome string) {
	metrics.Reconciliations.WithLabelValues(string(source), outcome).Inc()
}
