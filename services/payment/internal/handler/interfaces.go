package handler

import (
	"context"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/ingress"
	"example.com/payment-reconciler/services/payment/internal/paymentlink"
)

// WebhookService применяет события процессора.
type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (*ingress.WebhookResult, error)
}

// Verifier проверяет оплату по возвращению клиента.
type Verifier interface {
	Verify(ctx context.Context, intentID string) (ingress.VerifyResult, error)
}

// Resyncer сверяет заказ с процессором.
type Resyncer interface {
	Resync(ctx context.Context, orderID int64) ([]ingress.ResyncItem, error)
}

// LinkService - операции со ссылками на оплату.
type LinkService interface {
	Generate(ctx context.Context, p paymentlink.GenerateParams) (*paymentlink.LinkView, error)
	Access(ctx context.Context, token string) (*paymentlink.LinkView, error)
	Checkout(ctx context.Context, token string, installments int) (*paymentlink.CheckoutResult, error)
	Revoke(ctx context.Context, token string) error
	ListByOrder(ctx context.Context, orderID int64) ([]*paymentlink.LinkView, error)
	Invoice(ctx context.Context, token string) (*domain.Invoice, error)
	SetStrategy(ctx context.Context, orderID int64, s domain.PaymentStrategy) (*domain.Order, error)
}

// InvoiceReader находит счёт заказа.
type InvoiceReader interface {
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Invoice, error)
}
