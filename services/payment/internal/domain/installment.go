package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentCount - число платежей в плане рассрочки.
const InstallmentCount = 3

// InstallmentStatus - статус платежа рассрочки.
type InstallmentStatus string

const (
	InstallmentStatusPending InstallmentStatus = "pending"
	InstallmentStatusPaid    InstallmentStatus = "paid"
	InstallmentStatusFailed  InstallmentStatus = "failed"
)

// Installment - один платёж плана рассрочки.
// Записи не удаляются, paid и failed терминальны для цикла.
type Installment struct {
	ID               int64
	OrderID          int64
	CustomerID       int64
	Number           int
	Amount           decimal.Decimal
	Currency         string
	DueDate          time.Time
	Status           InstallmentStatus
	IntentID         string
	CustomerRef      string
	PaymentMethodRef string
	AttemptCount     int
	LastAttemptAt    *time.Time
	FailureReason    string
	PaidAt           *time.Time

	// Заполняется при выборке к списанию.
	OrderNumber   string
	CustomerEmail string
}

// IdempotencyKey - ключ попытки списания, одинаковый в пределах одних суток (UTC).
// Повторный запуск пакета в тот же день не приведёт к двойному списанию.
func (i *Installment) IdempotencyKey(attemptDate time.Time) string {
	return fmt.Sprintf("installment-%d-%s", i.ID, attemptDate.UTC().Format("2006-01-02"))
}

// Due возвращает true, если платёж ожидает списания на момент now.
func (i *Installment) Due(now time.Time) bool {
	return i.Status == InstallmentStatusPending && !i.DueDate.After(now)
}

// SplitInstallments делит сумму на n частей с точностью до цента.
// Остаток от округления добавляется к первому платежу, сумма частей равна total.
func SplitInstallments(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	count := decimal.NewFromInt(int64(n))
	base := total.Div(count).RoundDown(2)
	parts := make([]decimal.Decimal, n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] = total.Sub(base.Mul(count.Sub(decimal.NewFromInt(1))))
	return parts
}

// InstallmentPlan описывает план, создаваемый при первом успешном платеже.
type InstallmentPlan struct {
	CustomerRef      string
	PaymentMethodRef string
}

// BuildInstallments строит платежи плана. Первый платёж уже оплачен намерением
// firstIntentID, следующие ежемесячно ожидают списания.
func BuildInstallments(order *Order, firstIntentID string, plan InstallmentPlan, paidAt time.Time) []*Installment {
	parts := SplitInstallments(order.TotalAmount, InstallmentCount)
	paid := paidAt

	result := make([]*Installment, 0, InstallmentCount)
	for n := 1; n <= InstallmentCount; n++ {
		inst := &Installment{
			OrderID:          order.ID,
			CustomerID:       order.CustomerID,
			Number:           n,
			Amount:           parts[n-1],
			Currency:         order.Currency,
			DueDate:          paidAt.AddDate(0, n-1, 0),
			Status:           InstallmentStatusPending,
			CustomerRef:      plan.CustomerRef,
			PaymentMethodRef: plan.PaymentMethodRef,
		}
		if n == 1 {
			inst.Status = InstallmentStatusPaid
			inst.IntentID = firstIntentID
			inst.PaidAt = &paid
		}
		result = append(result, inst)
	}
	return result
}
