package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus - статус заказа.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus - сводный статус оплаты заказа, выводится из статусов срезов.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// PaymentMode - стратегия оплаты, выбранная при оформлении.
type PaymentMode string

const (
	PaymentModeFull         PaymentMode = "full"
	PaymentModeDeposit      PaymentMode = "deposit"
	PaymentModeInstallments PaymentMode = "installments"
)

// Order - заказ с независимыми платёжными срезами.
type Order struct {
	ID                    int64
	OrderNumber           string
	CustomerID            int64
	Customer              *Customer
	Items                 []LineItem
	TotalAmount           decimal.Decimal
	DepositAmount         decimal.Decimal
	RemainingAmount       decimal.Decimal
	Currency              string
	PaymentMode           PaymentMode
	Status                OrderStatus
	PaymentStatus         PaymentStatus
	ConfirmationEmailSent bool
	ConfirmedAt           *time.Time
	Slices                map[SliceType]*PaymentSlice
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Customer - покупатель. ExternalRef - идентификатор клиента у процессора,
// нужен для списаний без участия клиента.
type Customer struct {
	ID          int64
	Email       string
	FirstName   string
	LastName    string
	ExternalRef string
}

// FullName возвращает имя для писем и счетов.
func (c *Customer) FullName() string {
	if c == nil {
		return ""
	}
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// LineItem - позиция заказа.
type LineItem struct {
	ID          int64
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Slice возвращает срез указанного типа.
func (o *Order) Slice(t SliceType) (*PaymentSlice, bool) {
	s, ok := o.Slices[t]
	return s, ok
}

// SetSlice добавляет или заменяет срез.
func (o *Order) SetSlice(s *PaymentSlice) {
	if o.Slices == nil {
		o.Slices = make(map[SliceType]*PaymentSlice, 3)
	}
	o.Slices[s.Type] = s
}

// ValidateSlices проверяет, что активный full не сочетается с deposit или balance.
func (o *Order) ValidateSlices() error {
	full, hasFull := o.Slices[SliceFull]
	if !hasFull || !full.Active() {
		return nil
	}
	for _, t := range []SliceType{SliceDeposit, SliceBalance} {
		if s, ok := o.Slices[t]; ok && s.Active() {
			return ErrSliceConflict
		}
	}
	return nil
}

// AmountFor возвращает сумму, которую должен покрыть срез данного типа.
// Для рассрочки первый платёж составляет треть суммы заказа.
func (o *Order) AmountFor(t SliceType) decimal.Decimal {
	switch t {
	case SliceDeposit:
		return o.DepositAmount
	case SliceBalance:
		if o.RemainingAmount.IsPositive() {
			return o.RemainingAmount
		}
		return o.TotalAmount.Sub(o.DepositAmount)
	case SliceFull:
		if o.PaymentMode == PaymentModeInstallments {
			return SplitInstallments(o.TotalAmount, InstallmentCount)[0]
		}
		return o.TotalAmount
	}
	return decimal.Zero
}

// OrderEffect - изменения заказа при выигранном переходе среза.
// Пустые поля означают "не менять".
type OrderEffect struct {
	PaymentStatus PaymentStatus
	Status        OrderStatus
	// Confirm выставляет confirmed_at, если он ещё пуст.
	Confirm bool
	// ZeroRemaining обнуляет remaining_amount.
	ZeroRemaining bool
}

// PaidEffect возвращает изменения заказа после оплаты среза.
// Платёж рассрочки сам заказ не меняет: статус paid выставляется,
// когда оплачен последний платёж.
func PaidEffect(t SliceType, mode PaymentMode) OrderEffect {
	switch t {
	case SliceDeposit:
		return OrderEffect{PaymentStatus: PaymentStatusPartiallyPaid, Status: OrderStatusConfirmed, Confirm: true}
	case SliceBalance:
		return OrderEffect{PaymentStatus: PaymentStatusPaid, Status: OrderStatusConfirmed, Confirm: true, ZeroRemaining: true}
	case SliceFull:
		if mode == PaymentModeInstallments {
			return OrderEffect{PaymentStatus: PaymentStatusPartiallyPaid, Status: OrderStatusConfirmed, Confirm: true}
		}
		return OrderEffect{PaymentStatus: PaymentStatusPaid, Status: OrderStatusConfirmed, Confirm: true, ZeroRemaining: true}
	}
	return OrderEffect{}
}

// RefundEffect возвращает изменения заказа после полного возврата.
func RefundEffect() OrderEffect {
	return OrderEffect{PaymentStatus: PaymentStatusRefunded, Status: OrderStatusCancelled}
}

// Apply применяет эффект к заказу в памяти.
func (o *Order) Apply(e OrderEffect, now time.Time) {
	if e.PaymentStatus != "" {
		o.PaymentStatus = e.PaymentStatus
	}
	if e.Status != "" {
		o.Status = e.Status
	}
	if e.Confirm && o.ConfirmedAt == nil {
		o.ConfirmedAt = &now
	}
	if e.ZeroRemaining {
		o.RemainingAmount = decimal.Zero
	}
	o.UpdatedAt = now
}
