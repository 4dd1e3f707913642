package dispatch

import (
	"context"
	"sync"
	"time"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// recorder - потокобезопасные фейки всех портов, кроме Orders.
type recorder struct {
	mu            sync.Mutex
	cartClears    []int64
	confirmations []domain.SliceType
	failures      []int
	notices       []domain.AdminNotification
	invoices      map[int64]*domain.Invoice
	invoiceRuns   int
	usedLinks     []string

	mailErr    error
	invoiceErr error
	cartErr    error
}

func newRecorder() *recorder {
	return &recorder{invoices: make(map[int64]*domain.Invoice)}
}

func (r *recorder) ClearByCustomer(_ context.Context, customerID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cartErr != nil {
		return 0, r.cartErr
	}
	r.cartClears = append(r.cartClears, customerID)
	return 2, nil
}

func (r *recorder) SendPaymentConfirmation(_ context.Context, _ *domain.Order, slice domain.SliceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mailErr != nil {
		return r.mailErr
	}
	r.confirmations = append(r.confirmations, slice)
	return nil
}

func (r *recorder) SendPaymentFailed(_ context.Context, _ *domain.Order, _ domain.SliceType, installmentNumber int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, installmentNumber)
	return nil
}

func (r *recorder) Create(_ context.Context, n *domain.AdminNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, *n)
	return nil
}

// Upsert - хранилище счетов для invoice.Generator, один счёт на заказ.
func (r *recorder) Upsert(_ context.Context, inv *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.invoiceErr != nil {
		return r.invoiceErr
	}
	r.invoiceRuns++
	r.invoices[inv.OrderID] = inv
	return nil
}

func (r *recorder) MarkUsed(_ context.Context, token string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usedLinks = append(r.usedLinks, token)
	return true, nil
}

func (r *recorder) emails() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmations)
}
