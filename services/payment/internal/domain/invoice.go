package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice - счёт по заказу. Один счёт на заказ, повторная генерация перезаписывает его.
type Invoice struct {
	ID            int64
	OrderID       int64
	Number        string
	FileName      string
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	Items         []LineItem
	Total         decimal.Decimal
	AmountPaid    decimal.Decimal
	Currency      string
	GeneratedAt   time.Time
}

// InvoiceNumber формирует номер счёта вида FAC-2025-000042.
func InvoiceNumber(orderID int64, at time.Time) string {
	return fmt.Sprintf("FAC-%d-%06d", at.Year(), orderID)
}

// NewInvoice собирает счёт из заказа. amountPaid - сумма оплаченных срезов на момент генерации.
func NewInvoice(order *Order, amountPaid decimal.Decimal, at time.Time) *Invoice {
	number := InvoiceNumber(order.ID, at)
	inv := &Invoice{
		OrderID:     order.ID,
		Number:      number,
		FileName:    fmt.Sprintf("facture_%s.pdf", number),
		OrderNumber: order.OrderNumber,
		Items:       order.Items,
		Total:       order.TotalAmount,
		AmountPaid:  amountPaid,
		Currency:    order.Currency,
		GeneratedAt: at,
	}
	if order.Customer != nil {
		inv.CustomerName = order.Customer.FullName()
		inv.CustomerEmail = order.Customer.Email
	}
	return inv
}

// AmountPaid суммирует оплаченные срезы заказа и платежи рассрочки.
func AmountPaid(order *Order, installments []*Installment) decimal.Decimal {
	total := decimal.Zero
	for _, s := range order.Slices {
		if s.Paid() {
			total = total.Add(s.Amount)
		}
	}
	for _, i := range installments {
		// Первый платёж рассрочки уже учтён срезом full.
		if i.Number > 1 && i.Status == InstallmentStatusPaid {
			total = total.Add(i.Amount)
		}
	}
	return total
}
