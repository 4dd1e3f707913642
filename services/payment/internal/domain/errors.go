// Package domain содержит сущности и доменные ошибки сервиса платежей.
package domain

import (
	"errors"
	"fmt"
)

// Виды ошибок. Конкретные ошибки ниже оборачивают один из видов,
// поэтому errors.Is(err, ErrNotFound) верно и для ErrOrderNotFound.
var (
	ErrNotFound        = errors.New("не найдено")
	ErrValidation      = errors.New("некорректные данные")
	ErrSignature       = errors.New("неверная подпись")
	ErrConflict        = errors.New("конфликт состояния")
	ErrGone            = errors.New("ресурс больше недоступен")
	ErrExternalService = errors.New("ошибка внешнего сервиса")
	ErrPersistence     = errors.New("ошибка хранилища")
	ErrCardDeclined    = errors.New("карта отклонена")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrOrderNotFound       = newKindError(ErrNotFound, "заказ не найден")
	ErrIntentNotFound      = newKindError(ErrNotFound, "платёжное намерение не привязано ни к одному заказу")
	ErrInstallmentNotFound = newKindError(ErrNotFound, "платёж рассрочки не найден")
	ErrPaymentLinkNotFound = newKindError(ErrNotFound, "ссылка на оплату не найдена")
	ErrInvoiceNotFound     = newKindError(ErrNotFound, "счёт по заказу ещё не сформирован")

	ErrMissingIntentID            = newKindError(ErrValidation, "не указан идентификатор платёжного намерения")
	ErrUnknownSliceType           = newKindError(ErrValidation, "неизвестный тип платежа")
	ErrUnknownConfirmationStatus  = newKindError(ErrValidation, "неизвестный статус подтверждения")
	ErrRefundNotFull              = newKindError(ErrValidation, "возврат поддерживается только для полной оплаты")
	ErrInvalidInstallmentNumber   = newKindError(ErrValidation, "номер платежа рассрочки вне диапазона 1..3")
	ErrInvalidInstallmentCount    = newKindError(ErrValidation, "допустима оплата в 1 или 3 платежа")
	ErrInstallmentsRequireFull    = newKindError(ErrValidation, "рассрочка доступна только для полной оплаты")
	ErrMissingCustomerRef         = newKindError(ErrValidation, "у клиента нет сохранённого платёжного профиля")
	ErrInvalidAmount              = newKindError(ErrValidation, "сумма платежа должна быть больше нуля")
	ErrUnknownPaymentStrategy     = newKindError(ErrValidation, "способ оплаты должен быть full или deposit")
	ErrInvalidDepositPercentage   = newKindError(ErrValidation, "процент депозита должен быть в диапазоне 1..99")
	ErrSliceConflict              = newKindError(ErrConflict, "полная оплата несовместима с депозитом и остатком")
	ErrBalanceBeforeDeposit       = newKindError(ErrConflict, "остаток нельзя зачесть до оплаты депозита")
	ErrSliceAlreadyPaid           = newKindError(ErrConflict, "этот платёж уже оплачен")
	ErrStrategyLocked             = newKindError(ErrConflict, "способ оплаты нельзя изменить после оплаты")
	ErrInvoiceNotReady            = newKindError(ErrConflict, "счёт доступен только после оплаты")
	ErrPaymentLinkExpired         = newKindError(ErrGone, "срок действия ссылки на оплату истёк")
	ErrPaymentLinkUsed            = newKindError(ErrGone, "ссылка на оплату уже использована")
	ErrPaymentLinkRevoked         = newKindError(ErrGone, "ссылка на оплату отозвана")
	ErrProcessorNotConfigured     = newKindError(ErrExternalService, "платёжный процессор не настроен")
)

// Persistence оборачивает ошибку хранилища. Такие ошибки retryable:
// вебхук получает 500 и процессор доставит событие повторно.
func Persistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// External оборачивает ошибку платёжного процессора или сети.
func External(err error) error {
	if err == nil || errors.Is(err, ErrExternalService) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrExternalService, err)
}

// Declined описывает окончательный отказ банка по карте.
type Declined struct {
	Code    string
	Message string
	// IntentID - намерение, созданное процессором для отклонённой попытки (если есть).
	IntentID string
}

func (e *Declined) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("карта отклонена: %s", e.Code)
	}
	return fmt.Sprintf("карта отклонена: %s (%s)", e.Message, e.Code)
}

func (e *Declined) Is(target error) bool { return target == ErrCardDeclined }
