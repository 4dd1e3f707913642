// Package reconcile применяет подтверждения платежей к заказам.
//
// Единственный примитив синхронизации - условный UPDATE в хранилище.
// Вебхук, его повторная доставка, проверка клиентом и планировщик могут
// выполняться одновременно в разных процессах: выигрывает ровно один вызов,
// остальные получают AlreadyProcessed.
package reconcile

import (
	"context"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/resolver"
)

// SliceLedger - переходы срезов заказа.
type SliceLedger interface {
	MarkSlicePaid(ctx context.Context, tr domain.Transition) (bool, error)
	MarkSliceFailed(ctx context.Context, tr domain.Transition) (bool, error)
	MarkSliceRefunded(ctx context.Context, tr domain.Transition) (bool, error)
}

// InstallmentLedger - переходы платежей рассрочки.
type InstallmentLedger interface {
	MarkPaid(ctx context.Context, tr domain.Transition) (bool, error)
	MarkFailed(ctx context.Context, tr domain.Transition) (bool, error)
}

// Result - итог применения подтверждения. Ровно одно из полей true.
type Result struct {
	Committed        bool
	AlreadyProcessed bool
	// Ignored - подтверждение не меняет состояние (возврат депозита, остатка или платежа рассрочки).
	Ignored bool
	// Event заполнен для выигранного перехода.
	Event domain.PaymentEvent
}

// Engine - машина состояний срезов.
type Engine struct {
	slices       SliceLedger
	installments InstallmentLedger
}

// NewEngine создаёт Engine.
func NewEngine(slices SliceLedger, installments InstallmentLedger) *Engine {
	return &Engine{slices: slices, installments: installments}
}

// Apply применяет подтверждение c к найденной цели.
func (e *Engine) Apply(ctx context.Context, target *resolver.Target, c domain.PaymentConfirmation) (Result, error) {
	if c.Status == domain.ConfirmationRefunded && target.Slice != domain.SliceFull {
		return Result{Ignored: true}, nil
	}
	tr := transitionFor(target, c)

	won, err := e.transition(ctx, target.Slice, c.Status, tr)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return Result{AlreadyProcessed: true}, nil
	}
	return Result{Committed: true, Event: tr.Event}, nil
}

func (e *Engine) transition(ctx context.Context, slice domain.SliceType, status domain.ConfirmationStatus, tr domain.Transition) (bool, error) {
	if slice == domain.SliceInstallment {
		switch status {
		case domain.ConfirmationSucceeded:
			return e.installments.MarkPaid(ctx, tr)
		case domain.ConfirmationFailed:
			return e.installments.MarkFailed(ctx, tr)
		}
		return false, domain.ErrUnknownConfirmationStatus
	}

	switch status {
	case domain.ConfirmationSucceeded:
		return e.slices.MarkSlicePaid(ctx, tr)
	case domain.ConfirmationFailed:
		return e.slices.MarkSliceFailed(ctx, tr)
	case domain.ConfirmationRefunded:
		return e.slices.MarkSliceRefunded(ctx, tr)
	}
	return false, domain.ErrUnknownConfirmationStatus
}

func transitionFor(target *resolver.Target, c domain.PaymentConfirmation) domain.Transition {
	tr := domain.Transition{
		OrderID:       target.Order.ID,
		Slice:         target.Slice,
		IntentID:      c.IntentID,
		At:            c.OccurredAt,
		FailureReason: c.FailureReason,
	}

	installmentNumber := 0
	if target.Installment != nil {
		tr.InstallmentID = target.Installment.ID
		installmentNumber = target.Installment.Number
	} else if target.Slice == domain.SliceFull && c.WantsInstallmentPlan() {
		tr.Plan = &domain.InstallmentPlan{CustomerRef: c.CustomerRef, PaymentMethodRef: c.PaymentMethodRef}
		installmentNumber = 1
	}

	tr.Event = domain.PaymentEvent{
		EventType:         domain.EventTypeFor(c.Status),
		OrderID:           target.Order.ID,
		SliceType:         target.Slice,
		InstallmentNumber: installmentNumber,
		IntentID:          c.IntentID,
		Status:            c.Status,
		Source:            c.Source,
		PaymentLinkToken:  c.Metadata.PaymentLinkToken,
		FailureReason:     c.FailureReason,
		OccurredAt:        c.OccurredAt,
	}
	return tr
}
