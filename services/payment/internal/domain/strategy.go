package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStrategy - способ оплаты, который администратор назначает заказу
// до первого платежа. Рассрочку выбирает сам клиент на странице оплаты.
type PaymentStrategy struct {
	Mode              PaymentMode
	DepositPercentage int
}

// Amounts делит сумму заказа на депозит и остаток.
func (s PaymentStrategy) Amounts(total decimal.Decimal) (deposit, remaining decimal.Decimal, err error) {
	switch s.Mode {
	case PaymentModeFull:
		return decimal.Zero, total, nil
	case PaymentModeDeposit:
		if s.DepositPercentage < 1 || s.DepositPercentage > 99 {
			return decimal.Zero, decimal.Zero, ErrInvalidDepositPercentage
		}
		deposit = total.Mul(decimal.NewFromInt(int64(s.DepositPercentage))).Div(decimal.NewFromInt(100)).Round(2)
		return deposit, total.Sub(deposit), nil
	}
	return decimal.Zero, decimal.Zero, ErrUnknownPaymentStrategy
}

// ApplyStrategy меняет способ оплаты заказа. Неоплаченные срезы сбрасываются:
// их суммы посчитаны для прежнего способа.
func (o *Order) ApplyStrategy(s PaymentStrategy, now time.Time) error {
	deposit, remaining, err := s.Amounts(o.TotalAmount)
	if err != nil {
		return err
	}
	if o.Status == OrderStatusCancelled {
		return ErrStrategyLocked
	}
	for _, sl := range o.Slices {
		if sl.Paid() || sl.Status == SliceStatusRefunded {
			return ErrStrategyLocked
		}
	}

	o.PaymentMode = s.Mode
	o.DepositAmount = deposit
	o.RemainingAmount = remaining
	o.Slices = make(map[SliceType]*PaymentSlice, 2)
	o.UpdatedAt = now
	return nil
}
