package domain

import "time"

// Transition - входные данные атомарного перехода среза или платежа рассрочки.
// Хранилище применяет его одним условным UPDATE и сообщает, выиграл ли вызывающий.
type Transition struct {
	OrderID       int64
	Slice         SliceType
	InstallmentID int64
	IntentID      string
	At            time.Time
	FailureReason string
	// Plan - создать план рассрочки в той же транзакции (только для успешного full).
	Plan *InstallmentPlan
	// Event пишется в outbox только при выигранном переходе.
	Event PaymentEvent
}
