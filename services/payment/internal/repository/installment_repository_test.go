package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

func TestInstallmentRepository_ListDue(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewInstallmentRepository(gormDB, false)
	now := time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "order_id", "customer_id", "installment_number", "amount", "currency", "due_date", "status",
		"stripe_payment_intent_id", "stripe_customer_id", "stripe_payment_method_id", "attempt_count",
		"order_number", "customer_email",
	}).AddRow(11, 42, 7, 2, "100.00", "eur", now.AddDate(0, 0, -1), "pending", nil, "cus_1", "pm_1", 0, "CMD-0042", "client@example.com")

	mock.ExpectQuery("SELECT i\\.\\*, o\\.order_number AS order_number, c\\.email AS customer_email FROM payment_installments AS i JOIN orders o").
		WithArgs("pending", now, 50).
		WillReturnRows(rows)

	due, err := repo.ListDue(context.Background(), now, 50)

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].Number)
	assert.Equal(t, "CMD-0042", due[0].OrderNumber)
	assert.Equal(t, "client@example.com", due[0].CustomerEmail)
	assert.Equal(t, "cus_1", due[0].CustomerRef)
	assert.True(t, due[0].Due(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallmentRepository_MarkPaid(t *testing.T) {
	at := time.Now()

	t.Run("последний платёж закрывает заказ", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewInstallmentRepository(gormDB, true)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_installments` SET .* WHERE id = \\? AND status IN \\(\\?,\\?\\)").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `payment_installments` WHERE order_id = \\? AND status <> \\?").
			WithArgs(int64(42), "paid").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec("UPDATE `orders` SET .*`payment_status`=\\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO `outbox`").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		won, err := repo.MarkPaid(context.Background(), domain.Transition{
			OrderID: 42, Slice: domain.SliceInstallment, InstallmentID: 13, IntentID: "pi_3", At: at,
			Event: domain.PaymentEvent{OrderID: 42, InstallmentNumber: 3, Status: domain.ConfirmationSucceeded},
		})

		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("промежуточный платёж не меняет заказ", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewInstallmentRepository(gormDB, false)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_installments` SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `payment_installments`").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectCommit()

		won, err := repo.MarkPaid(context.Background(), domain.Transition{OrderID: 42, InstallmentID: 12, IntentID: "pi_2", At: at})

		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("уже оплаченный платёж", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewInstallmentRepository(gormDB, true)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_installments` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		won, err := repo.MarkPaid(context.Background(), domain.Transition{OrderID: 42, InstallmentID: 12, IntentID: "pi_2", At: at})

		require.NoError(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInstallmentRepository_MarkFailed(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewInstallmentRepository(gormDB, false)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `payment_installments` SET .* WHERE id = \\? AND status = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	won, err := repo.MarkFailed(context.Background(), domain.Transition{
		OrderID: 42, InstallmentID: 12, IntentID: "pi_declined", FailureReason: "insufficient_funds", At: time.Now(),
	})

	require.NoError(t, err)
	assert.True(t, won)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallmentRepository_GetByOrderAndNumber_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewInstallmentRepository(gormDB, false)

	mock.ExpectQuery("SELECT \\* FROM `payment_installments` WHERE order_id = \\? AND installment_number = \\?").
		WithArgs(int64(42), 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByOrderAndNumber(context.Background(), 42, 2)

	assert.ErrorIs(t, err, domain.ErrInstallmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
