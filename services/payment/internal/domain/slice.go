package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SliceType - тип платёжного среза.
type SliceType string

const (
	SliceFull    SliceType = "full"
	SliceDeposit SliceType = "deposit"
	SliceBalance SliceType = "balance"
	// SliceInstallment - очередной платёж рассрочки (2-й и 3-й).
	// Первый платёж рассрочки проходит как срез full.
	SliceInstallment SliceType = "installment"
)

// OrderSliceTypes - срезы, которые хранятся в order_payment_slices.
var OrderSliceTypes = []SliceType{SliceDeposit, SliceBalance, SliceFull}

// ParseSliceType разбирает payment_type из метаданных намерения.
// Пустая строка допустима и означает "тип неизвестен".
func ParseSliceType(s string) (SliceType, error) {
	switch t := SliceType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return "", nil
	case SliceFull, SliceDeposit, SliceBalance, SliceInstallment:
		return t, nil
	case "installments":
		return SliceInstallment, nil
	}
	return "", ErrUnknownSliceType
}

// SliceStatus - статус среза.
type SliceStatus string

const (
	SliceStatusPending  SliceStatus = "pending"
	SliceStatusPaid     SliceStatus = "paid"
	SliceStatusFailed   SliceStatus = "failed"
	SliceStatusRefunded SliceStatus = "refunded"
)

// allowedTransitions - допустимые переходы статуса среза.
// failed -> paid разрешён: намерение может пройти после смены карты клиентом.
// paid не откатывается в failed.
var allowedTransitions = map[SliceStatus][]SliceStatus{
	SliceStatusPending: {SliceStatusPaid, SliceStatusFailed},
	SliceStatusFailed:  {SliceStatusPaid},
	SliceStatusPaid:    {SliceStatusRefunded},
}

// CanTransition проверяет переход from -> to для среза типа t.
// Возврат возможен только для полной оплаты.
func CanTransition(t SliceType, from, to SliceStatus) bool {
	if to == SliceStatusRefunded && t != SliceFull {
		return false
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceStatuses возвращает статусы, из которых достижим to.
// Используется для условия WHERE status IN (...) в атомарном UPDATE.
func SourceStatuses(t SliceType, to SliceStatus) []SliceStatus {
	var from []SliceStatus
	for _, s := range []SliceStatus{SliceStatusPending, SliceStatusFailed, SliceStatusPaid} {
		if CanTransition(t, s, to) {
			from = append(from, s)
		}
	}
	return from
}

// PaymentSlice - один независимый платёж заказа.
type PaymentSlice struct {
	Type          SliceType
	IntentID      string
	Status        SliceStatus
	Amount        decimal.Decimal
	FailureReason string
	PaidAt        *time.Time
	UpdatedAt     time.Time
}

// Active возвращает true, если к срезу привязано намерение.
func (s *PaymentSlice) Active() bool {
	return s != nil && s.IntentID != ""
}

// Paid возвращает true для оплаченного среза.
func (s *PaymentSlice) Paid() bool {
	return s != nil && s.Status == SliceStatusPaid
}
