package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
	"example.com/payment-reconciler/services/payment/internal/resolver"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

var scenarioNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newScenario(ledger *testutil.Ledger) (*reconcile.Reconciler, *recorder) {
	rec := newRecorder()
	r := reconcile.NewReconciler(
		resolver.New(ledger, ledger.Installments()),
		reconcile.NewEngine(ledger, ledger.Installments()),
		reconcile.WithDispatcher(newTestDispatcher(ledger, rec)),
		reconcile.WithClock(func() time.Time { return scenarioNow }),
	)
	return r, rec
}

func confirmation(intentID string, status domain.ConfirmationStatus) domain.PaymentConfirmation {
	return domain.PaymentConfirmation{IntentID: intentID, Status: status, Source: domain.SourceWebhook}
}

// Заказ на 900 с депозитом 300: сначала депозит, затем остаток.
func TestScenario_DepositThenBalance(t *testing.T) {
	order := testutil.NewOrder(1, domain.PaymentModeDeposit)
	order.TotalAmount = testutil.Amount("900")
	order.DepositAmount = testutil.Amount("300")
	order.RemainingAmount = testutil.Amount("600")
	testutil.WithSlice(order, domain.SliceDeposit, "D1")
	testutil.WithSlice(order, domain.SliceBalance, "B1")

	ledger := testutil.NewLedger()
	ledger.Put(order)
	r, rec := newScenario(ledger)

	t.Run("депозит", func(t *testing.T) {
		out, err := r.Reconcile(context.Background(), confirmation("D1", domain.ConfirmationSucceeded))
		require.NoError(t, err)
		assert.True(t, out.Committed)

		got := ledger.Order(1)
		assert.Equal(t, domain.PaymentStatusPartiallyPaid, got.PaymentStatus)
		assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
		assert.Len(t, rec.cartClears, 1)
		assert.Equal(t, []domain.SliceType{domain.SliceDeposit}, rec.confirmations)
	})

	t.Run("остаток", func(t *testing.T) {
		out, err := r.Reconcile(context.Background(), confirmation("B1", domain.ConfirmationSucceeded))
		require.NoError(t, err)
		assert.True(t, out.Committed)

		got := ledger.Order(1)
		assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
		assert.True(t, got.RemainingAmount.IsZero())
		assert.Len(t, rec.cartClears, 1, "корзина не очищается повторно")
		assert.Equal(t, 1, rec.emails(), "письмо не дублируется")
		assert.Equal(t, "900", rec.invoices[1].AmountPaid.String())
	})
}

// Повторная доставка того же вебхука полной оплаты.
func TestScenario_FullPaymentRedelivered(t *testing.T) {
	order := testutil.NewOrder(1, domain.PaymentModeFull)
	order.TotalAmount = testutil.Amount("500")
	testutil.WithSlice(order, domain.SliceFull, "pi_500")

	ledger := testutil.NewLedger()
	ledger.Put(order)
	r, rec := newScenario(ledger)

	first, err := r.Reconcile(context.Background(), confirmation("pi_500", domain.ConfirmationSucceeded))
	require.NoError(t, err)
	assert.True(t, first.Committed)

	second, err := r.Reconcile(context.Background(), confirmation("pi_500", domain.ConfirmationSucceeded))
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)

	assert.Equal(t, 1, rec.emails())
	assert.Equal(t, 1, rec.invoiceRuns)
	assert.Len(t, rec.notices, 1)
}

// Второй платёж рассрочки отклонён.
func TestScenario_InstallmentDeclined(t *testing.T) {
	order := testutil.WithSlice(testutil.NewOrder(1, domain.PaymentModeInstallments), domain.SliceFull, "pi_first")
	order.Slices[domain.SliceFull].Status = domain.SliceStatusPaid
	order.PaymentStatus = domain.PaymentStatusPartiallyPaid
	order.Status = domain.OrderStatusConfirmed

	ledger := testutil.NewLedger()
	ledger.Put(order)
	plan := domain.InstallmentPlan{CustomerRef: "cus_1", PaymentMethodRef: "pm_1"}
	for _, inst := range domain.BuildInstallments(order, "pi_first", plan, scenarioNow.AddDate(0, -1, 0)) {
		ledger.PutInstallment(inst)
	}
	r, rec := newScenario(ledger)

	c := confirmation("pi_inst2", domain.ConfirmationFailed)
	c.Source = domain.SourceScheduler
	c.FailureReason = "insufficient_funds"
	c.Metadata = domain.Metadata{OrderID: 1, PaymentType: domain.SliceInstallment, InstallmentNumber: 2}

	out, err := r.Reconcile(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, out.Committed)

	inst, err := ledger.Installments().GetByOrderAndNumber(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.InstallmentStatusFailed, inst.Status)
	assert.Equal(t, "insufficient_funds", inst.FailureReason)

	got := ledger.Order(1)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, got.PaymentStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, []int{2}, rec.failures)
	assert.Empty(t, rec.cartClears)
}
