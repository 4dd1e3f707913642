package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
	"example.com/payment-reconciler/services/payment/internal/resolver"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

var runAt = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

type env struct {
	ledger    *testutil.Ledger
	proc      *testutil.MockProcessor
	mr        *miniredis.Miniredis
	scheduler *Scheduler
}

// newEnv готовит заказ в рассрочке: первый платёж оплачен два месяца назад,
// второй и третий ожидают списания.
func newEnv(t *testing.T) *env {
	t.Helper()

	order := testutil.WithSlice(testutil.NewOrder(1, domain.PaymentModeInstallments), domain.SliceFull, "pi_first")
	order.Slices[domain.SliceFull].Status = domain.SliceStatusPaid
	order.PaymentStatus = domain.PaymentStatusPartiallyPaid
	order.Status = domain.OrderStatusConfirmed

	ledger := testutil.NewLedger()
	ledger.Put(order)
	plan := domain.InstallmentPlan{CustomerRef: "cus_1", PaymentMethodRef: "pm_1"}
	for _, inst := range domain.BuildInstallments(order, "pi_first", plan, runAt.AddDate(0, -2, 0)) {
		ledger.PutInstallment(inst)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	proc := new(testutil.MockProcessor)
	r := reconcile.NewReconciler(
		resolver.New(ledger, ledger.Installments()),
		reconcile.NewEngine(ledger, ledger.Installments()),
	)

	return &env{
		ledger:    ledger,
		proc:      proc,
		mr:        mr,
		scheduler: New(ledger.Installments(), proc, r, NewRedisLocker(rdb, time.Minute), Config{Concurrency: 2}),
	}
}

func chargeFor(number int) any {
	return mock.MatchedBy(func(p processor.ChargeParams) bool {
		return p.Metadata.InstallmentNumber == number
	})
}

func (e *env) installment(t *testing.T, number int) *domain.Installment {
	t.Helper()
	inst, err := e.ledger.Installments().GetByOrderAndNumber(context.Background(), 1, number)
	require.NoError(t, err)
	return inst
}

func TestScheduler_AllPaid(t *testing.T) {
	e := newEnv(t)
	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(2)).
		Return(&processor.Intent{ID: "pi_2", Status: processor.IntentSucceeded}, nil).Once()
	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(3)).
		Return(&processor.Intent{ID: "pi_3", Status: processor.IntentSucceeded}, nil).Once()

	sum, err := e.scheduler.RunOnce(context.Background(), runAt)

	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 2, Paid: 2}, sum)
	assert.Equal(t, domain.InstallmentStatusPaid, e.installment(t, 2).Status)
	assert.Equal(t, "pi_3", e.installment(t, 3).IntentID)

	order := e.ledger.Order(1)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, order.RemainingAmount.IsZero())
	e.proc.AssertExpectations(t)
}

func TestScheduler_ChargeParams(t *testing.T) {
	e := newEnv(t)
	second := e.installment(t, 2)

	e.proc.On("ChargeOffSession", mock.Anything, mock.MatchedBy(func(p processor.ChargeParams) bool {
		return p.Metadata.InstallmentNumber == 2 &&
			p.IdempotencyKey == second.IdempotencyKey(runAt) &&
			p.CustomerRef == "cus_1" && p.PaymentMethodRef == "pm_1" &&
			p.Amount.String() == "100" &&
			p.Metadata.PaymentType == domain.SliceInstallment &&
			p.Metadata.OrderID == 1
	})).Return(&processor.Intent{ID: "pi_2", Status: processor.IntentSucceeded}, nil).Once()
	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(3)).
		Return(&processor.Intent{ID: "pi_3", Status: processor.IntentSucceeded}, nil).Once()

	_, err := e.scheduler.RunOnce(context.Background(), runAt)

	require.NoError(t, err)
	e.proc.AssertExpectations(t)
}

func TestScheduler_DeclinedAndTransient(t *testing.T) {
	e := newEnv(t)
	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(2)).
		Return(nil, &domain.Declined{Code: "insufficient_funds", IntentID: "pi_declined"}).Once()
	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(3)).
		Return(nil, domain.External(errors.New("timeout"))).Once()

	sum, err := e.scheduler.RunOnce(context.Background(), runAt)

	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 2, Declined: 1, Transient: 1}, sum)

	declined := e.installment(t, 2)
	assert.Equal(t, domain.InstallmentStatusFailed, declined.Status)
	assert.Equal(t, "insufficient_funds", declined.FailureReason)
	assert.Equal(t, 1, declined.AttemptCount)

	transient := e.installment(t, 3)
	assert.Equal(t, domain.InstallmentStatusPending, transient.Status)
	assert.Equal(t, 1, transient.AttemptCount)

	order := e.ledger.Order(1)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)

	t.Run("отклонённый платёж не списывается повторно", func(t *testing.T) {
		e.proc.On("ChargeOffSession", mock.Anything, chargeFor(3)).
			Return(&processor.Intent{ID: "pi_3", Status: processor.IntentSucceeded}, nil).Once()

		sum, err := e.scheduler.RunOnce(context.Background(), runAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, Summary{Due: 1, Paid: 1}, sum)
		e.proc.AssertExpectations(t)
	})
}

func TestScheduler_RequiresAction(t *testing.T) {
	e := newEnv(t)
	e.proc.On("ChargeOffSession", mock.Anything, mock.Anything).
		Return(&processor.Intent{ID: "pi_x", Status: processor.IntentRequiresAction}, nil)

	sum, err := e.scheduler.RunOnce(context.Background(), runAt)

	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Transient)
	assert.Equal(t, domain.InstallmentStatusPending, e.installment(t, 2).Status)
}

func TestScheduler_LockedElsewhere(t *testing.T) {
	e := newEnv(t)
	second := e.installment(t, 2)
	require.NoError(t, e.mr.Set("installment:lock:"+itoa(second.ID), "other"))

	e.proc.On("ChargeOffSession", mock.Anything, chargeFor(3)).
		Return(&processor.Intent{ID: "pi_3", Status: processor.IntentSucceeded}, nil).Once()

	sum, err := e.scheduler.RunOnce(context.Background(), runAt)

	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 2, Paid: 1, Skipped: 1}, sum)
	assert.Equal(t, "other", mustGet(t, e.mr, "installment:lock:"+itoa(second.ID)))
	e.proc.AssertExpectations(t)
}

func TestScheduler_NothingDue(t *testing.T) {
	e := newEnv(t)

	sum, err := e.scheduler.RunOnce(context.Background(), runAt.AddDate(0, -3, 0))

	require.NoError(t, err)
	assert.Zero(t, sum.Due)
	e.proc.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)
}

type failingList struct{}

func (failingList) ListDue(context.Context, time.Time, int) ([]*domain.Installment, error) {
	return nil, domain.Persistence(errors.New("db down"))
}

func (failingList) RecordAttempt(context.Context, int64, time.Time) error { return nil }

func TestScheduler_ListError(t *testing.T) {
	s := New(failingList{}, new(testutil.MockProcessor), nil, nil, Config{})

	_, err := s.RunOnce(context.Background(), runAt)

	assert.ErrorIs(t, err, domain.ErrPersistence)
}
