package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/processor"
	"example.com/payment-reconciler/services/payment/internal/reconcile"
	"example.com/payment-reconciler/services/payment/internal/resolver"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

func newResyncer(ledger *testutil.Ledger, proc *testutil.MockProcessor) *Resyncer {
	r := reconcile.NewReconciler(
		resolver.New(ledger, ledger.Installments()),
		reconcile.NewEngine(ledger, ledger.Installments()),
	)
	return NewResyncer(proc, r, ledger, ledger.Installments())
}

func TestResyncer_Resync(t *testing.T) {
	ledger := testutil.NewLedger()
	order := testutil.NewOrder(5, domain.PaymentModeDeposit)
	testutil.WithSlice(order, domain.SliceDeposit, "pi_dep")
	testutil.WithSlice(order, domain.SliceBalance, "pi_bal")
	ledger.Put(order)

	proc := new(testutil.MockProcessor)
	// Метаданных нет: заказ и тип берутся из среза.
	proc.On("RetrieveIntent", mock.Anything, "pi_dep").Return(&processor.Intent{
		ID:     "pi_dep",
		Status: processor.IntentSucceeded,
	}, nil)
	proc.On("RetrieveIntent", mock.Anything, "pi_bal").Return(&processor.Intent{
		ID:     "pi_bal",
		Status: processor.IntentProcessing,
	}, nil)

	rs := newResyncer(ledger, proc)

	items, err := rs.Resync(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Срезы сортируются по типу: balance раньше deposit.
	assert.Equal(t, "pi_bal", items[0].IntentID)
	assert.True(t, items[0].Skipped)
	assert.Equal(t, "processing", items[0].IntentStatus)

	assert.Equal(t, "pi_dep", items[1].IntentID)
	assert.True(t, items[1].Committed)
	assert.Empty(t, items[1].Error)

	stored := ledger.Order(5)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, stored.PaymentStatus)

	t.Run("повторная сверка ничего не меняет", func(t *testing.T) {
		items, err := rs.Resync(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.False(t, items[1].Committed)
		assert.True(t, items[1].AlreadyProcessed)
		assert.Len(t, ledger.Events(), 1)
	})
}

func TestResyncer_ProcessorError(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.WithSlice(testutil.NewOrder(6, domain.PaymentModeFull), domain.SliceFull, "pi_full"))

	proc := new(testutil.MockProcessor)
	proc.On("RetrieveIntent", mock.Anything, "pi_full").Return(nil, domain.External(assert.AnError))

	items, err := newResyncer(ledger, proc).Resync(context.Background(), 6)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0].Error)
	assert.False(t, items[0].Committed)
	assert.Empty(t, ledger.Events())
}

func TestResyncer_OrderNotFound(t *testing.T) {
	_, err := newResyncer(testutil.NewLedger(), new(testutil.MockProcessor)).Resync(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
