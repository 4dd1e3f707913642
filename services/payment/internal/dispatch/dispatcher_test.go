package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/invoice"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

func newTestDispatcher(ledger *testutil.Ledger, rec *recorder) *Dispatcher {
	return New(Deps{
		Orders:        ledger,
		Installments:  ledger.Installments(),
		Carts:         rec,
		Notifications: rec,
		Links:         rec,
		Mailer:        rec,
		Invoices:      invoice.NewGenerator(rec, nil),
	})
}

func paidOrder(id int64, mode domain.PaymentMode, t domain.SliceType) *domain.Order {
	order := testutil.WithSlice(testutil.NewOrder(id, mode), t, "pi_"+string(t))
	order.Slices[t].Status = domain.SliceStatusPaid
	return order
}

func TestDispatcher_Succeeded(t *testing.T) {
	tests := []struct {
		name      string
		slice     domain.SliceType
		mode      domain.PaymentMode
		wantCart  bool
		wantEmail bool
	}{
		{name: "полная оплата", slice: domain.SliceFull, mode: domain.PaymentModeFull, wantCart: true, wantEmail: true},
		{name: "депозит", slice: domain.SliceDeposit, mode: domain.PaymentModeDeposit, wantCart: true, wantEmail: true},
		{name: "остаток не чистит корзину", slice: domain.SliceBalance, mode: domain.PaymentModeDeposit, wantCart: false, wantEmail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := testutil.NewLedger()
			ledger.Put(paidOrder(1, tt.mode, tt.slice))
			rec := newRecorder()

			err := newTestDispatcher(ledger, rec).Run(context.Background(), domain.PaymentEvent{
				OrderID:   1,
				SliceType: tt.slice,
				Status:    domain.ConfirmationSucceeded,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.wantCart, len(rec.cartClears) == 1)
			assert.Equal(t, tt.wantEmail, rec.emails() == 1)
			assert.Len(t, rec.notices, 1)
			assert.Contains(t, rec.invoices, int64(1))
			assert.True(t, ledger.Order(1).ConfirmationEmailSent)
		})
	}
}

func TestDispatcher_EmailAtMostOnce(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(paidOrder(1, domain.PaymentModeFull, domain.SliceFull))
	rec := newRecorder()
	d := newTestDispatcher(ledger, rec)
	ev := domain.PaymentEvent{OrderID: 1, SliceType: domain.SliceFull, Status: domain.ConfirmationSucceeded}

	require.NoError(t, d.Run(context.Background(), ev))
	require.NoError(t, d.Run(context.Background(), ev))

	assert.Equal(t, 1, rec.emails())
	assert.Len(t, rec.invoices, 1)
	assert.Equal(t, 2, rec.invoiceRuns, "счёт перезаписывается при повторе")
}

func TestDispatcher_EmailFailureReleasesFlag(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(paidOrder(1, domain.PaymentModeFull, domain.SliceFull))
	rec := newRecorder()
	rec.mailErr = errors.New("smtp недоступен")
	d := newTestDispatcher(ledger, rec)
	ev := domain.PaymentEvent{OrderID: 1, SliceType: domain.SliceFull, Status: domain.ConfirmationSucceeded}

	err := d.Run(context.Background(), ev)

	require.Error(t, err)
	assert.Contains(t, err.Error(), StepEmail)
	assert.False(t, ledger.Order(1).ConfirmationEmailSent)
	// Остальные шаги выполнены несмотря на ошибку письма.
	assert.Len(t, rec.cartClears, 1)
	assert.Len(t, rec.notices, 1)
	assert.Len(t, rec.invoices, 1)

	rec.mailErr = nil
	require.NoError(t, d.Run(context.Background(), ev))
	assert.Equal(t, 1, rec.emails())
}

func TestDispatcher_StepsIndependent(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(paidOrder(1, domain.PaymentModeFull, domain.SliceFull))
	rec := newRecorder()
	rec.cartErr = errors.New("db down")
	rec.invoiceErr = domain.Persistence(errors.New("db down"))

	err := newTestDispatcher(ledger, rec).Run(context.Background(), domain.PaymentEvent{
		OrderID:          1,
		SliceType:        domain.SliceFull,
		Status:           domain.ConfirmationSucceeded,
		PaymentLinkToken: "tok",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, 1, rec.emails())
	assert.Len(t, rec.notices, 1)
	assert.Equal(t, []string{"tok"}, rec.usedLinks)
}

func TestDispatcher_Failed(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.NewOrder(1, domain.PaymentModeInstallments))
	rec := newRecorder()

	err := newTestDispatcher(ledger, rec).Run(context.Background(), domain.PaymentEvent{
		OrderID:           1,
		SliceType:         domain.SliceInstallment,
		InstallmentNumber: 2,
		Status:            domain.ConfirmationFailed,
		FailureReason:     "insufficient_funds",
	})

	require.NoError(t, err)
	assert.Equal(t, []int{2}, rec.failures)
	require.Len(t, rec.notices, 1)
	assert.Equal(t, "Списание 2 из 3 по заказу CMD-0001 отклонено", rec.notices[0].Message)
	assert.Empty(t, rec.cartClears)
	assert.Empty(t, rec.invoices)
	assert.Zero(t, rec.emails())
}

func TestDispatcher_Refunded(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.NewOrder(1, domain.PaymentModeFull))
	rec := newRecorder()

	err := newTestDispatcher(ledger, rec).Run(context.Background(), domain.PaymentEvent{
		OrderID:   1,
		SliceType: domain.SliceFull,
		Status:    domain.ConfirmationRefunded,
	})

	require.NoError(t, err)
	require.Len(t, rec.notices, 1)
	assert.Equal(t, "Возврат по заказу CMD-0001, заказ отменён", rec.notices[0].Message)
	assert.Zero(t, rec.emails())
}

func TestDispatcher_OrderNotFound(t *testing.T) {
	rec := newRecorder()

	err := newTestDispatcher(testutil.NewLedger(), rec).Run(context.Background(), domain.PaymentEvent{
		OrderID: 404,
		Status:  domain.ConfirmationSucceeded,
	})

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Empty(t, rec.notices)
}
