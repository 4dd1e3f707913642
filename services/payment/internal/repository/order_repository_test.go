package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/payment-reconciler/services/payment/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "Ошибка инициализации GORM")

	t.Cleanup(func() { _ = db.Close() })
	return gormDB, mock
}

var orderColumns = []string{
	"id", "order_number", "customer_id", "total_amount", "deposit_amount", "remaining_amount",
	"currency", "payment_mode", "status", "payment_status", "confirmation_email_sent",
	"confirmed_at", "created_at", "updated_at",
}

func orderRow(id int64, mode domain.PaymentMode) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderColumns).
		AddRow(id, "CMD-0042", 7, "300.00", "90.00", "210.00", "eur", string(mode), "draft", "pending", false, nil, now, now)
}

const selectOrder = "SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?"

const selectSlicesForUpdate = "SELECT \\* FROM `order_payment_slices` WHERE order_id = \\? FOR UPDATE"

var sliceColumns = []string{"id", "order_id", "slice_type", "intent_id", "status", "amount"}

// =====================================
// Тесты GetByID
// =====================================

func TestOrderRepository_GetByID(t *testing.T) {
	t.Run("заказ со срезами и покупателем", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectQuery(selectOrder).
			WithArgs(int64(42), 1).
			WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
		mock.ExpectQuery("SELECT \\* FROM `customers` WHERE `customers`.`id` = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "stripe_customer_id"}).
				AddRow(7, "client@example.com", "Анна", "Петрова", "cus_1"))
		mock.ExpectQuery("SELECT \\* FROM `order_items` WHERE `order_items`.`order_id` = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "description", "quantity", "unit_price", "total_price"}).
				AddRow(1, 42, "Стол", 1, "300.00", "300.00"))
		mock.ExpectQuery("SELECT \\* FROM `order_payment_slices` WHERE `order_payment_slices`.`order_id` = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "slice_type", "intent_id", "status", "amount", "failure_reason", "paid_at"}).
				AddRow(1, 42, "deposit", "pi_dep", "paid", "90.00", nil, time.Now()).
				AddRow(2, 42, "balance", nil, "pending", "210.00", nil, nil))

		order, err := repo.GetByID(context.Background(), 42)

		require.NoError(t, err)
		assert.Equal(t, "CMD-0042", order.OrderNumber)
		assert.Equal(t, "Анна Петрова", order.Customer.FullName())
		assert.Equal(t, "cus_1", order.Customer.ExternalRef)
		require.Len(t, order.Items, 1)
		assert.True(t, order.Slices[domain.SliceDeposit].Paid())
		assert.False(t, order.Slices[domain.SliceBalance].Active())
		assert.True(t, decimal.RequireFromString("90").Equal(order.DepositAmount))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ не найден", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectQuery(selectOrder).
			WithArgs(int64(404), 1).
			WillReturnRows(sqlmock.NewRows(orderColumns))

		order, err := repo.GetByID(context.Background(), 404)

		assert.Nil(t, order)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ошибка базы данных", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectQuery(selectOrder).
			WithArgs(int64(1), 1).
			WillReturnError(errors.New("connection refused"))

		_, err := repo.GetByID(context.Background(), 1)

		assert.ErrorIs(t, err, domain.ErrPersistence)
	})
}

func TestOrderRepository_FindBySliceIntent_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOrderRepository(gormDB, false)

	mock.ExpectQuery("SELECT `order_id` FROM `order_payment_slices` WHERE slice_type = \\? AND intent_id = \\?").
		WithArgs("full", "pi_unknown", 1).
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}))

	_, err := repo.FindBySliceIntent(context.Background(), domain.SliceFull, "pi_unknown")

	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты MarkSlicePaid
// =====================================

func TestOrderRepository_MarkSlicePaid(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		tr        domain.Transition
		events    bool
		mockSetup func(mock sqlmock.Sqlmock)
		wantWon   bool
		wantErr   error
	}{
		{
			name: "первый переход выигрывает",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
				mock.ExpectExec("UPDATE `order_payment_slices` SET .* WHERE order_id = \\? AND slice_type = \\? AND status IN \\(\\?,\\?\\)").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE `orders` SET .*`payment_status`=\\?").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name:   "выигранный переход пишет событие в outbox",
			tr:     domain.Transition{OrderID: 42, Slice: domain.SliceDeposit, IntentID: "pi_dep", At: at, Event: domain.PaymentEvent{OrderID: 42, Status: domain.ConfirmationSucceeded}},
			events: true,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE `orders` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO `outbox`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name: "строки среза нет, вставка выигрывает",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(selectSlicesForUpdate).WithArgs(int64(42)).WillReturnRows(sqlmock.NewRows(sliceColumns))
				mock.ExpectExec("INSERT INTO `order_payment_slices`").WillReturnResult(sqlmock.NewResult(5, 1))
				mock.ExpectExec("UPDATE `orders` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name:   "повторное подтверждение ничего не меняет",
			tr:     domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: at},
			events: true,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(selectSlicesForUpdate).WithArgs(int64(42)).
					WillReturnRows(sqlmock.NewRows(sliceColumns).AddRow(1, 42, "full", "pi_1", "paid", "300.00"))
				mock.ExpectExec("INSERT INTO `order_payment_slices`").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			wantWon: false,
		},
		{
			name: "полная оплата после оплаченного депозита отклоняется",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_other", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(selectSlicesForUpdate).WithArgs(int64(42)).
					WillReturnRows(sqlmock.NewRows(sliceColumns).
						AddRow(1, 42, "deposit", "pi_dep", "paid", "90.00").
						AddRow(2, 42, "balance", nil, "pending", "210.00"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrSliceConflict,
		},
		{
			name: "депозит при активной полной оплате отклоняется",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceDeposit, IntentID: "pi_dep", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(selectSlicesForUpdate).WithArgs(int64(42)).
					WillReturnRows(sqlmock.NewRows(sliceColumns).AddRow(1, 42, "full", "pi_full", "pending", "300.00"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrSliceConflict,
		},
		{
			name: "остаток до депозита отклоняется",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceBalance, IntentID: "pi_bal", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
				mock.ExpectQuery("SELECT \\* FROM `order_payment_slices` WHERE order_id = \\? AND slice_type = \\? .*FOR UPDATE").
					WithArgs(int64(42), "deposit", 1).
					WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "slice_type", "status"}).
						AddRow(1, 42, "deposit", "pending"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrBalanceBeforeDeposit,
		},
		{
			name: "остаток после оплаченного депозита",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceBalance, IntentID: "pi_bal", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
				mock.ExpectQuery("SELECT \\* FROM `order_payment_slices` WHERE order_id = \\? AND slice_type = \\? .*FOR UPDATE").
					WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "slice_type", "status"}).
						AddRow(1, 42, "deposit", "paid"))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE `orders` SET .*`remaining_amount`=\\?").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name: "первый платёж рассрочки создаёт план",
			tr: domain.Transition{
				OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_inst1", At: at,
				Plan: &domain.InstallmentPlan{CustomerRef: "cus_1", PaymentMethodRef: "pm_1"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeInstallments))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE `orders` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO `payment_installments`").WillReturnResult(sqlmock.NewResult(1, 3))
				mock.ExpectCommit()
			},
			wantWon: true,
		},
		{
			name: "заказ не найден",
			tr:   domain.Transition{OrderID: 404, Slice: domain.SliceFull, IntentID: "pi_1", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(404), 1).WillReturnRows(sqlmock.NewRows(orderColumns))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrOrderNotFound,
		},
		{
			name: "ошибка базы данных",
			tr:   domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: at},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectOrder).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
				mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnError(errors.New("deadlock found"))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := NewOrderRepository(gormDB, tt.events)
			tt.mockSetup(mock)

			won, err := repo.MarkSlicePaid(context.Background(), tt.tr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, won)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantWon, won)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// =====================================
// Тесты MarkSliceFailed и MarkSliceRefunded
// =====================================

func TestOrderRepository_MarkSliceFailed(t *testing.T) {
	t.Run("pending срез становится failed", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `order_payment_slices` SET .* WHERE order_id = \\? AND slice_type = \\? AND intent_id = \\? AND status IN \\(\\?\\)").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE `orders` SET .* WHERE id = \\? AND payment_status = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		won, err := repo.MarkSliceFailed(context.Background(), domain.Transition{
			OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", FailureReason: "card_declined", At: time.Now(),
		})

		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("отказ по чужому намерению не применяется", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, true)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `order_payment_slices` SET .* WHERE order_id = \\? AND slice_type = \\? AND intent_id = \\? AND status IN \\(\\?\\)").
			WithArgs("card_declined", "failed", sqlmock.AnyArg(), int64(42), "deposit", "pi_old", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		won, err := repo.MarkSliceFailed(context.Background(), domain.Transition{
			OrderID: 42, Slice: domain.SliceDeposit, IntentID: "pi_old", FailureReason: "card_declined", At: time.Now(),
		})

		require.NoError(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("оплаченный срез не откатывается", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, true)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		won, err := repo.MarkSliceFailed(context.Background(), domain.Transition{
			OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: time.Now(),
		})

		require.NoError(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderRepository_MarkSliceRefunded(t *testing.T) {
	t.Run("возврат депозита не поддерживается", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		_, err := repo.MarkSliceRefunded(context.Background(), domain.Transition{OrderID: 42, Slice: domain.SliceDeposit, IntentID: "pi_dep"})

		assert.ErrorIs(t, err, domain.ErrRefundNotFull)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("повторный возврат ничего не меняет", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, true)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `order_payment_slices` SET .* WHERE order_id = \\? AND slice_type = \\? AND intent_id = \\? AND status IN \\(\\?\\)").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		won, err := repo.MarkSliceRefunded(context.Background(), domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: time.Now()})

		require.NoError(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("полный возврат отменяет заказ", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `order_payment_slices` SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE `orders` SET .*`status`=\\?").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		won, err := repo.MarkSliceRefunded(context.Background(), domain.Transition{OrderID: 42, Slice: domain.SliceFull, IntentID: "pi_1", At: time.Now()})

		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// =====================================
// Тесты флага письма
// =====================================

func TestOrderRepository_ClaimConfirmationEmail(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "флаг занят впервые", affected: 1, want: true},
		{name: "письмо уже отправлено", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			repo := NewOrderRepository(gormDB, false)

			mock.ExpectBegin()
			mock.ExpectExec("UPDATE `orders` SET `confirmation_email_sent`=\\?.* WHERE id = \\? AND confirmation_email_sent = \\?").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			claimed, err := repo.ClaimConfirmationEmail(context.Background(), 42)

			require.NoError(t, err)
			assert.Equal(t, tt.want, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOrderRepository_AttachIntent_PaidSlice(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := NewOrderRepository(gormDB, false)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\? FOR UPDATE").
		WithArgs(int64(42), 1).
		WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
	mock.ExpectQuery("SELECT \\* FROM `order_payment_slices` WHERE `order_payment_slices`.`order_id` = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "slice_type", "intent_id", "status", "amount"}).
			AddRow(1, 42, "deposit", "pi_dep", "paid", "90.00"))
	mock.ExpectRollback()

	err := repo.AttachIntent(context.Background(), 42, domain.SliceDeposit, "pi_new", decimal.RequireFromString("90"))

	assert.ErrorIs(t, err, domain.ErrSliceAlreadyPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_UpdatePaymentStrategy(t *testing.T) {
	selectForUpdate := "SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\? FOR UPDATE"
	selectSlices := "SELECT \\* FROM `order_payment_slices` WHERE `order_payment_slices`.`order_id` = \\?"
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("неоплаченный заказ переводится на депозит", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeFull))
		mock.ExpectQuery(selectSlices).
			WillReturnRows(sqlmock.NewRows(sliceColumns).AddRow(1, 42, "full", "pi_full", "pending", "300.00"))
		mock.ExpectExec("UPDATE `orders` SET `deposit_amount`=\\?,`payment_mode`=\\?,`remaining_amount`=\\?,`updated_at`=\\? WHERE id = \\?").
			WithArgs(sqlmock.AnyArg(), "deposit", sqlmock.AnyArg(), at, int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM `order_payment_slices` WHERE order_id = \\? AND status <> \\?").
			WithArgs(int64(42), "paid").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		order, err := repo.UpdatePaymentStrategy(context.Background(), 42,
			domain.PaymentStrategy{Mode: domain.PaymentModeDeposit, DepositPercentage: 30}, at)

		require.NoError(t, err)
		assert.Equal(t, domain.PaymentModeDeposit, order.PaymentMode)
		assert.Equal(t, "90", order.DepositAmount.String())
		assert.Equal(t, "210", order.RemainingAmount.String())
		assert.Empty(t, order.Slices)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("оплаченный заказ не меняется", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		repo := NewOrderRepository(gormDB, false)

		mock.ExpectBegin()
		mock.ExpectQuery(selectForUpdate).WithArgs(int64(42), 1).WillReturnRows(orderRow(42, domain.PaymentModeDeposit))
		mock.ExpectQuery(selectSlices).
			WillReturnRows(sqlmock.NewRows(sliceColumns).AddRow(1, 42, "deposit", "pi_dep", "paid", "90.00"))
		mock.ExpectRollback()

		_, err := repo.UpdatePaymentStrategy(context.Background(), 42, domain.PaymentStrategy{Mode: domain.PaymentModeFull}, at)

		assert.ErrorIs(t, err, domain.ErrStrategyLocked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
