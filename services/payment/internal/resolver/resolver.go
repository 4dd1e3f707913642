// Package resolver находит заказ и срез, к которым относится платёжное намерение.
package resolver

import (
	"context"
	"errors"

	"example.com/payment-reconciler/pkg/logger"
	"example.com/payment-reconciler/services/payment/internal/domain"
)

// OrderFinder - чтение заказов, нужное резолверу.
type OrderFinder interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	FindBySliceIntent(ctx context.Context, t domain.SliceType, intentID string) (*domain.Order, error)
}

// InstallmentFinder - чтение платежей рассрочки, нужное резолверу.
type InstallmentFinder interface {
	GetByOrderAndNumber(ctx context.Context, orderID int64, number int) (*domain.Installment, error)
	FindByIntent(ctx context.Context, intentID string) (*domain.Installment, error)
}

// Target - результат резолва. Installment заполнен только для SliceInstallment.
type Target struct {
	Order       *domain.Order
	Slice       domain.SliceType
	Installment *domain.Installment
}

// Resolver реализует цепочку поиска:
// метаданные -> депозит -> остаток -> полная оплата -> рассрочка.
type Resolver struct {
	orders       OrderFinder
	installments InstallmentFinder
}

// New создаёт Resolver.
func New(orders OrderFinder, installments InstallmentFinder) *Resolver {
	return &Resolver{orders: orders, installments: installments}
}

// bySliceIntent - порядок поиска по сохранённому идентификатору намерения.
var bySliceIntent = []domain.SliceType{domain.SliceDeposit, domain.SliceBalance, domain.SliceFull}

// Resolve возвращает цель подтверждения или domain.ErrIntentNotFound.
// Ошибки хранилища прерывают цепочку.
func (r *Resolver) Resolve(ctx context.Context, c domain.PaymentConfirmation) (*Target, error) {
	target, err := r.fromMetadata(ctx, c.Metadata)
	switch {
	case err == nil && target != nil:
		return target, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	case err != nil:
		logger.Ctx(ctx).Warn().
			Int64("meta_order_id", c.Metadata.OrderID).
			Msg("Заказ из метаданных не найден, поиск по идентификатору намерения")
	}

	for _, t := range bySliceIntent {
		order, err := r.orders.FindBySliceIntent(ctx, t, c.IntentID)
		if err == nil {
			return &Target{Order: order, Slice: t}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	inst, err := r.installments.FindByIntent(ctx, c.IntentID)
	if err == nil {
		return r.installmentTarget(ctx, inst)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	return nil, domain.ErrIntentNotFound
}

// fromMetadata использует order_id и payment_type из метаданных.
// (nil, nil) означает, что метаданных недостаточно.
func (r *Resolver) fromMetadata(ctx context.Context, m domain.Metadata) (*Target, error) {
	if m.OrderID <= 0 {
		return nil, nil
	}

	sliceType := m.PaymentType
	if m.InstallmentNumber > 1 {
		sliceType = domain.SliceInstallment
	}

	switch sliceType {
	case domain.SliceFull, domain.SliceDeposit, domain.SliceBalance:
		order, err := r.orders.GetByID(ctx, m.OrderID)
		if err != nil {
			return nil, err
		}
		return &Target{Order: order, Slice: sliceType}, nil

	case domain.SliceInstallment:
		number := m.InstallmentNumber
		if number == 1 {
			// Первый платёж рассрочки проходит как полная оплата.
			order, err := r.orders.GetByID(ctx, m.OrderID)
			if err != nil {
				return nil, err
			}
			return &Target{Order: order, Slice: domain.SliceFull}, nil
		}
		if number < 1 || number > domain.InstallmentCount {
			return nil, nil
		}
		inst, err := r.installments.GetByOrderAndNumber(ctx, m.OrderID, number)
		if err != nil {
			return nil, err
		}
		return r.installmentTarget(ctx, inst)
	}

	return nil, nil
}

func (r *Resolver) installmentTarget(ctx context.Context, inst *domain.Installment) (*Target, error) {
	order, err := r.orders.GetByID(ctx, inst.OrderID)
	if err != nil {
		return nil, err
	}
	return &Target{Order: order, Slice: domain.SliceInstallment, Installment: inst}, nil
}
