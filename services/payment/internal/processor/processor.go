// Package processor - клиент платёжного процессора (Stripe).
// Все вызовы идут через circuit breaker и трассируются.
package processor

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// IntentStatus - статус платёжного намерения у процессора.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent - платёжное намерение в терминах сервиса.
type Intent struct {
	ID               string
	Status           IntentStatus
	Amount           decimal.Decimal
	Currency         string
	Metadata         domain.Metadata
	CustomerRef      string
	PaymentMethodRef string
	ClientSecret     string
	FailureReason    string
}

// Succeeded возвращает true для оплаченного намерения.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == IntentSucceeded
}

// Confirmation приводит намерение к каноническому подтверждению.
// Неуспешные статусы, кроме requires_payment_method, не являются фактом
// и возвращают ok=false.
func (i *Intent) Confirmation(source domain.Source) (domain.PaymentConfirmation, bool) {
	c := domain.PaymentConfirmation{
		IntentID:         i.ID,
		Source:           source,
		Metadata:         i.Metadata,
		CustomerRef:      i.CustomerRef,
		PaymentMethodRef: i.PaymentMethodRef,
		FailureReason:    i.FailureReason,
	}
	switch i.Status {
	case IntentSucceeded:
		c.Status = domain.ConfirmationSucceeded
	case IntentRequiresPaymentMethod:
		if i.FailureReason == "" {
			return c, false
		}
		c.Status = domain.ConfirmationFailed
	default:
		return c, false
	}
	return c, true
}

// CreateIntentParams - параметры намерения для оплаты клиентом (ссылка на оплату).
type CreateIntentParams struct {
	Amount      decimal.Decimal
	Currency    string
	CustomerRef string
	Description string
	Metadata    domain.Metadata
	OrderNumber string
	// SaveCard сохраняет карту для последующих списаний рассрочки.
	SaveCard bool
}

// ChargeParams - параметры списания без участия клиента.
type ChargeParams struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	Description      string
	Metadata         domain.Metadata
	IdempotencyKey   string
}

// CustomerParams - данные для создания клиента у процессора.
type CustomerParams struct {
	Email   string
	Name    string
	OrderID int64
}

// Client - операции процессора, которые использует сервис.
type Client interface {
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateIntent(ctx context.Context, p CreateIntentParams) (*Intent, error)
	// ChargeOffSession списывает сохранённую карту. Окончательный отказ банка
	// возвращается как *domain.Declined, прочие ошибки - как ErrExternalService.
	ChargeOffSession(ctx context.Context, p ChargeParams) (*Intent, error)
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
}

// =============================================================================
// Метаданные намерения
// =============================================================================

// Ключи метаданных намерения.
const (
	MetaOrderID           = "order_id"
	MetaOrderNumber       = "order_number"
	MetaPaymentType       = "payment_type"
	MetaInstallmentNumber = "installment_number"
	MetaInstallments      = "installments"
	MetaPaymentLinkToken  = "payment_link_token"
	MetaSource            = "source"
)

// ParseMetadata разбирает метаданные намерения. Некорректные значения
// пропускаются: резолвер найдёт заказ по идентификатору намерения.
func ParseMetadata(raw map[string]string) domain.Metadata {
	var m domain.Metadata
	if id, err := strconv.ParseInt(strings.TrimSpace(raw[MetaOrderID]), 10, 64); err == nil && id > 0 {
		m.OrderID = id
	}
	if t, err := domain.ParseSliceType(raw[MetaPaymentType]); err == nil {
		m.PaymentType = t
	}
	if n, err := strconv.Atoi(strings.TrimSpace(raw[MetaInstallmentNumber])); err == nil {
		m.InstallmentNumber = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(raw[MetaInstallments])); err == nil {
		m.InstallmentCount = n
	}
	m.PaymentLinkToken = raw[MetaPaymentLinkToken]
	return m
}

// FormatMetadata сериализует метаданные для записи в намерение.
func FormatMetadata(m domain.Metadata) map[string]string {
	out := make(map[string]string, 5)
	if m.OrderID > 0 {
		out[MetaOrderID] = strconv.FormatInt(m.OrderID, 10)
	}
	if m.PaymentType != "" {
		out[MetaPaymentType] = string(m.PaymentType)
	}
	if m.InstallmentNumber > 0 {
		out[MetaInstallmentNumber] = strconv.Itoa(m.InstallmentNumber)
	}
	if m.InstallmentCount > 0 {
		out[MetaInstallments] = strconv.Itoa(m.InstallmentCount)
	}
	if m.PaymentLinkToken != "" {
		out[MetaPaymentLinkToken] = m.PaymentLinkToken
	}
	return out
}

// ToCents переводит сумму в минимальные единицы валюты.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromCents переводит минимальные единицы валюты в сумму.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
