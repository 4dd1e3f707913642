package domain

import (
	"strings"
	"time"
)

// ConfirmationStatus - факт, сообщённый процессором о намерении.
type ConfirmationStatus string

const (
	ConfirmationSucceeded ConfirmationStatus = "succeeded"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationRefunded  ConfirmationStatus = "refunded"
)

// Source - канал, по которому пришло подтверждение.
type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceVerification Source = "verification"
	SourceScheduler    Source = "scheduler"
	SourceResync       Source = "resync"
)

// Metadata - метаданные, записанные в намерение при его создании.
// Все поля опциональны: у старых и переотправленных событий их может не быть.
type Metadata struct {
	OrderID           int64
	PaymentType       SliceType
	InstallmentNumber int
	InstallmentCount  int
	PaymentLinkToken  string
}

// PaymentConfirmation - каноническое подтверждение, к которому приводят
// вебхук, проверка клиентом и планировщик рассрочки.
type PaymentConfirmation struct {
	IntentID         string
	Status           ConfirmationStatus
	Source           Source
	Metadata         Metadata
	CustomerRef      string
	PaymentMethodRef string
	FailureReason    string
	// EventID - идентификатор события процессора (только для вебхука).
	EventID    string
	OccurredAt time.Time
}

// Validate отклоняет некорректное подтверждение до обращения к хранилищу.
func (c *PaymentConfirmation) Validate() error {
	c.IntentID = strings.TrimSpace(c.IntentID)
	if c.IntentID == "" {
		return ErrMissingIntentID
	}
	switch c.Status {
	case ConfirmationSucceeded, ConfirmationFailed, ConfirmationRefunded:
	default:
		return ErrUnknownConfirmationStatus
	}
	if n := c.Metadata.InstallmentNumber; n < 0 || n > InstallmentCount {
		return ErrInvalidInstallmentNumber
	}
	return nil
}

// WantsInstallmentPlan возвращает true, если успешный платёж должен
// открыть план рассрочки.
func (c *PaymentConfirmation) WantsInstallmentPlan() bool {
	return c.Status == ConfirmationSucceeded && c.Metadata.InstallmentCount == InstallmentCount
}
