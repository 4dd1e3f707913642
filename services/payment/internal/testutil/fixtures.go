package testutil

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// Amount - короткая запись суммы в тестах.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewOrder возвращает черновик заказа на 300 EUR с депозитом 90.
func NewOrder(id int64, mode domain.PaymentMode) *domain.Order {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:              id,
		OrderNumber:     fmt.Sprintf("CMD-%04d", id),
		CustomerID:      7,
		Customer:        &domain.Customer{ID: 7, Email: "client@example.com", FirstName: "Анна", LastName: "Петрова"},
		Items:           []domain.LineItem{{ID: 1, Description: "Шкаф", Quantity: 1, UnitPrice: Amount("300"), Total: Amount("300")}},
		TotalAmount:     Amount("300"),
		DepositAmount:   Amount("90"),
		RemainingAmount: Amount("210"),
		Currency:        "eur",
		PaymentMode:     mode,
		Status:          domain.OrderStatusDraft,
		PaymentStatus:   domain.PaymentStatusPending,
		Slices:          make(map[domain.SliceType]*domain.PaymentSlice),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// WithSlice добавляет pending срез с намерением.
func WithSlice(o *domain.Order, t domain.SliceType, intentID string) *domain.Order {
	o.SetSlice(&domain.PaymentSlice{Type: t, IntentID: intentID, Status: domain.SliceStatusPending, Amount: o.AmountFor(t)})
	return o
}
