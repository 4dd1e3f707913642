package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LinkStatus - статус ссылки на оплату.
type LinkStatus string

const (
	LinkStatusActive  LinkStatus = "active"
	LinkStatusUsed    LinkStatus = "used"
	LinkStatusRevoked LinkStatus = "revoked"
)

// PaymentLink - одноразовая ссылка, по которой клиент оплачивает срез заказа.
type PaymentLink struct {
	ID             int64
	Token          string
	OrderID        int64
	PaymentType    SliceType
	Amount         decimal.Decimal
	Status         LinkStatus
	ExpiresAt      time.Time
	AccessCount    int
	LastAccessedAt *time.Time
	PaidAt         *time.Time
	CreatedBy      string
	CreatedAt      time.Time
}

// NewLinkToken генерирует токен ссылки: 64 hex-символа из двух случайных UUID.
func NewLinkToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// Usable проверяет, что по ссылке ещё можно платить.
func (l *PaymentLink) Usable(now time.Time) error {
	switch l.Status {
	case LinkStatusUsed:
		return ErrPaymentLinkUsed
	case LinkStatusRevoked:
		return ErrPaymentLinkRevoked
	}
	if !now.Before(l.ExpiresAt) {
		return ErrPaymentLinkExpired
	}
	return nil
}
