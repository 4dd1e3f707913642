// Package dispatch выполняет побочные эффекты выигранного перехода платежа:
// очистку корзины, письмо клиенту, уведомление администратора, счёт
// и погашение ссылки на оплату.
//
// Каждый шаг независим: ошибка логируется, учитывается в метрике
// side_effect_failures_total и не мешает остальным шагам.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/pkg/metrics"
	"example.com/payment-reconciler/pkg/tracing"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

var tracer = tracing.Tracer("payment/dispatch")

// Шаги диспетчера (значения метки step).
const (
	StepLoadOrder    = "load_order"
	StepCart         = "cart"
	StepEmail        = "email"
	StepNotification = "admin_notification"
	StepInvoice      = "invoice"
	StepPaymentLink  = "payment_link"
)

// =============================================================================
// Порты
// =============================================================================

// Orders - чтение заказа и флаг письма-подтверждения.
type Orders interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	ClaimConfirmationEmail(ctx context.Context, orderID int64) (bool, error)
	ReleaseConfirmationEmail(ctx context.Context, orderID int64) error
}

// Installments - платежи рассрочки заказа (для суммы в счёте).
type Installments interface {
	ListByOrder(ctx context.Context, orderID int64) ([]*domain.Installment, error)
}

// Carts очищает корзину клиента.
type Carts interface {
	ClearByCustomer(ctx context.Context, customerID int64) (int64, error)
}

// Notifications сохраняет уведомления администратора.
type Notifications interface {
	Create(ctx context.Context, n *domain.AdminNotification) error
}

// Links погашает ссылку на оплату.
type Links interface {
	MarkUsed(ctx context.Context, token string, at time.Time) (bool, error)
}

// Mailer отправляет письма клиенту.
type Mailer interface {
	SendPaymentConfirmation(ctx context.Context, order *domain.Order, slice domain.SliceType) error
	SendPaymentFailed(ctx context.Context, order *domain.Order, slice domain.SliceType, installmentNumber int, reason string) error
}

// Invoices формирует счёт заказа.
type Invoices interface {
	Generate(ctx context.Context, order *domain.Order, installments []*domain.Installment) (*domain.Invoice, error)
}

// Deps - зависимости диспетчера. Orders обязателен, остальные шаги
// пропускаются, если зависимость не задана.
type Deps struct {
	Orders        Orders
	Installments  Installments
	Carts         Carts
	Notifications Notifications
	Links         Links
	Mailer        Mailer
	Invoices      Invoices
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher выполняет побочные эффекты по событию платежа.
// Одинаково работает в inline режиме (вызывается Reconciler'ом)
// и в async режиме (вызывается EventConsumer'ом).
type Dispatcher struct {
	deps Deps
	now  func() time.Time
}

// New создаёт Dispatcher.
func New(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps, now: time.Now}
}

// Dispatch реализует reconcile.Dispatcher. Ошибки только логируются.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.PaymentEvent) {
	if err := d.Run(ctx, ev); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", ev.EventType).Msg("Побочные эффекты выполнены не полностью")
	}
}

// Run выполняет все шаги для события и возвращает объединённую ошибку шагов.
// Ошибка загрузки заказа возвращается сразу: без заказа шаги невозможны.
func (d *Dispatcher) Run(ctx context.Context, ev domain.PaymentEvent) error {
	ctx, span := tracer.Start(ctx, "dispatch.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.order_id", ev.OrderID),
		attribute.String("payment.event_type", ev.EventType),
	)

	ctx = logger.WithPaymentFields(ctx, ev.OrderID, ev.IntentID)

	order, err := d.deps.Orders.GetByID(ctx, ev.OrderID)
	if err != nil {
		d.failed(ctx, StepLoadOrder, err)
		return fmt.Errorf("загрузка заказа %d: %w", ev.OrderID, err)
	}

	var errs []error
	switch ev.Status {
	case domain.ConfirmationSucceeded:
		errs = d.succeeded(ctx, order, ev)
	case domain.ConfirmationFailed:
		errs = d.failedPayment(ctx, order, ev)
	case domain.ConfirmationRefunded:
		errs = append(errs, d.step(ctx, StepNotification, func() error { return d.notifyAdmin(ctx, order, ev) }))
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) succeeded(ctx context.Context, order *domain.Order, ev domain.PaymentEvent) []error {
	errs := make([]error, 0, 5)

	// Корзина очищается только первым успешным срезом заказа.
	if ev.SliceType == domain.SliceFull || ev.SliceType == domain.SliceDeposit {
		errs = append(errs, d.step(ctx, StepCart, func() error { return d.clearCart(ctx, order) }))
	}
	errs = append(errs,
		d.step(ctx, StepEmail, func() error { return d.sendConfirmation(ctx, order, ev) }),
		d.step(ctx, StepNotification, func() error { return d.notifyAdmin(ctx, order, ev) }),
		d.step(ctx, StepInvoice, func() error { return d.generateInvoice(ctx, order) }),
	)
	if ev.PaymentLinkToken != "" {
		errs = append(errs, d.step(ctx, StepPaymentLink, func() error { return d.consumeLink(ctx, ev) }))
	}
	return errs
}

func (d *Dispatcher) failedPayment(ctx context.Context, order *domain.Order, ev domain.PaymentEvent) []error {
	return []error{
		d.step(ctx, StepEmail, func() error {
			if d.deps.Mailer == nil {
				return nil
			}
			return d.deps.Mailer.SendPaymentFailed(ctx, order, ev.SliceType, ev.InstallmentNumber, ev.FailureReason)
		}),
		d.step(ctx, StepNotification, func() error { return d.notifyAdmin(ctx, order, ev) }),
	}
}

// =============================================================================
// Шаги
// =============================================================================

func (d *Dispatcher) clearCart(ctx context.Context, order *domain.Order) error {
	if d.deps.Carts == nil {
		return nil
	}
	n, err := d.deps.Carts.ClearByCustomer(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Debug().Int64("items", n).Msg("Корзина клиента очищена")
	return nil
}

// sendConfirmation отправляет письмо не более одного раза на заказ.
// Флаг захватывается до отправки и освобождается, если отправка не удалась.
func (d *Dispatcher) sendConfirmation(ctx context.Context, order *domain.Order, ev domain.PaymentEvent) error {
	if d.deps.Mailer == nil {
		return nil
	}

	claimed, err := d.deps.Orders.ClaimConfirmationEmail(ctx, order.ID)
	if err != nil {
		return err
	}
	if !claimed {
		logger.Ctx(ctx).Debug().Msg("Письмо-подтверждение уже отправлено")
		return nil
	}

	if err := d.deps.Mailer.SendPaymentConfirmation(ctx, order, ev.SliceType); err != nil {
		if relErr := d.deps.Orders.ReleaseConfirmationEmail(ctx, order.ID); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}

	logger.Ctx(ctx).Info().Str("slice", string(ev.SliceType)).Msg("Письмо-подтверждение отправлено")
	return nil
}

func (d *Dispatcher) notifyAdmin(ctx context.Context, order *domain.Order, ev domain.PaymentEvent) error {
	if d.deps.Notifications == nil {
		return nil
	}
	n := domain.PaymentNotice(order, ev.SliceType, ev.Status, ev.InstallmentNumber)
	n.CreatedAt = d.now().UTC()
	return d.deps.Notifications.Create(ctx, &n)
}

func (d *Dispatcher) generateInvoice(ctx context.Context, order *domain.Order) error {
	if d.deps.Invoices == nil {
		return nil
	}

	var installments []*domain.Installment
	if d.deps.Installments != nil && order.PaymentMode == domain.PaymentModeInstallments {
		list, err := d.deps.Installments.ListByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		installments = list
	}

	_, err := d.deps.Invoices.Generate(ctx, order, installments)
	return err
}

func (d *Dispatcher) consumeLink(ctx context.Context, ev domain.PaymentEvent) error {
	if d.deps.Links == nil {
		return nil
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = d.now().UTC()
	}
	used, err := d.deps.Links.MarkUsed(ctx, ev.PaymentLinkToken, at)
	if err != nil {
		return err
	}
	if !used {
		logger.Ctx(ctx).Warn().Msg("Ссылка на оплату уже не активна")
	}
	return nil
}

// step выполняет шаг и учитывает его ошибку.
func (d *Dispatcher) step(ctx context.Context, name string, fn func() error) error {
	err := fn()
	if err != nil {
		d.failed(ctx, name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) failed(ctx context.Context, step string, err error) {
	metrics.SideEffectFailures.WithLabelValues(step).Inc()
	logger.Ctx(ctx).Error().Err(err).Str("step", step).Msg("Ошибка побочного эффекта")
}
