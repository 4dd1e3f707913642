package domain

import (
	"fmt"
	"time"
)

// NotificationTypePayment - тип уведомлений о платежах в админке.
const NotificationTypePayment = "payment"

// AdminNotification - запись во входящих администратора.
type AdminNotification struct {
	ID             int64
	Type           string
	Message        string
	RelatedOrderID int64
	CreatedAt      time.Time
}

// PaymentNotice формирует текст уведомления. Формулировка зависит от типа среза.
func PaymentNotice(order *Order, t SliceType, status ConfirmationStatus, installmentNumber int) AdminNotification {
	return AdminNotification{
		Type:           NotificationTypePayment,
		Message:        noticeMessage(order, t, status, installmentNumber),
		RelatedOrderID: order.ID,
	}
}

func noticeMessage(order *Order, t SliceType, status ConfirmationStatus, installmentNumber int) string {
	num := order.OrderNumber

	switch status {
	case ConfirmationFailed:
		if t == SliceInstallment {
			return fmt.Sprintf("Списание %d из %d по заказу %s отклонено", installmentNumber, InstallmentCount, num)
		}
		return fmt.Sprintf("Ошибка оплаты заказа %s", num)
	case ConfirmationRefunded:
		return fmt.Sprintf("Возврат по заказу %s, заказ отменён", num)
	}

	switch t {
	case SliceDeposit:
		return fmt.Sprintf("Получен депозит %s %s по заказу %s, ожидается остаток",
			order.DepositAmount.StringFixed(2), order.Currency, num)
	case SliceBalance:
		return fmt.Sprintf("Остаток по заказу %s получен, заказ оплачен полностью", num)
	case SliceInstallment:
		return fmt.Sprintf("Получен платёж %d из %d по заказу %s", installmentNumber, InstallmentCount, num)
	}
	if order.PaymentMode == PaymentModeInstallments {
		return fmt.Sprintf("Получен первый платёж рассрочки по заказу %s", num)
	}
	return fmt.Sprintf("Оплата заказа %s подтверждена (%s %s)", num, order.TotalAmount.StringFixed(2), order.Currency)
}
