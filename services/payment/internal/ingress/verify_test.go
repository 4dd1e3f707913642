package ingress

import (
	"context"
	"sync"
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

func newVerifier(ledger *testutil.Ledger, proc *testutil.MockProcessor) *Verifier {
	r := reconcile.NewReconciler(
		resolver.New(ledger, ledger.Installments()),
		reconcile.NewEngine(ledger, ledger.Installments()),
	)
	return NewVerifier(proc, r, ledger)
}

func TestVerifier_Verify(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.WithSlice(testutil.NewOrder(1, domain.PaymentModeDeposit), domain.SliceDeposit, "pi_dep"))

	proc := new(testutil.MockProcessor)
	proc.On("RetrieveIntent", mock.Anything, "pi_dep").Return(&processor.Intent{
		ID:       "pi_dep",
		Status:   processor.IntentSucceeded,
		Metadata: domain.Metadata{OrderID: 1, PaymentType: domain.SliceDeposit},
	}, nil)
	v := newVerifier(ledger, proc)

	first, err := v.Verify(context.Background(), " pi_dep ")
	require.NoError(t, err)
	assert.True(t, first.Paid)
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, first.PaymentStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, first.OrderStatus)
	assert.Equal(t, domain.SliceDeposit, first.PaymentType)
	assert.Equal(t, "CMD-0001", first.OrderNumber)

	second, err := v.Verify(context.Background(), "pi_dep")
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, domain.PaymentStatusPartiallyPaid, second.PaymentStatus)
}

func TestVerifier_NotSucceeded(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.WithSlice(testutil.NewOrder(1, domain.PaymentModeFull), domain.SliceFull, "pi_full"))

	proc := new(testutil.MockProcessor)
	proc.On("RetrieveIntent", mock.Anything, "pi_full").Return(&processor.Intent{
		ID:     "pi_full",
		Status: processor.IntentProcessing,
	}, nil)

	res, err := newVerifier(ledger, proc).Verify(context.Background(), "pi_full")

	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, processor.IntentProcessing, res.IntentStatus)
	assert.Equal(t, domain.PaymentStatusPending, ledger.Order(1).PaymentStatus)
	assert.Empty(t, ledger.Events())
}

func TestVerifier_UnknownIntent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testutil.MockProcessor)
	}{
		{
			name: "процессор не знает намерение",
			setup: func(p *testutil.MockProcessor) {
				p.On("RetrieveIntent", mock.Anything, "pi_unknown").Return(nil, domain.ErrIntentNotFound)
			},
		},
		{
			name: "намерение не привязано к заказу",
			setup: func(p *testutil.MockProcessor) {
				p.On("RetrieveIntent", mock.Anything, "pi_unknown").Return(&processor.Intent{
					ID:     "pi_unknown",
					Status: processor.IntentSucceeded,
				}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := new(testutil.MockProcessor)
			tt.setup(proc)

			_, err := newVerifier(testutil.NewLedger(), proc).Verify(context.Background(), "pi_unknown")

			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestVerifier_EmptyIntent(t *testing.T) {
	_, err := newVerifier(testutil.NewLedger(), new(testutil.MockProcessor)).Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrMissingIntentID)
}

func TestVerifier_ConcurrentPolls(t *testing.T) {
	ledger := testutil.NewLedger()
	ledger.Put(testutil.WithSlice(testutil.NewOrder(1, domain.PaymentModeFull), domain.SliceFull, "pi_full"))

	proc := new(testutil.MockProcessor)
	proc.On("RetrieveIntent", mock.Anything, "pi_full").Return(&processor.Intent{
		ID:     "pi_full",
		Status: processor.IntentSucceeded,
	}, nil)
	v := newVerifier(ledger, proc)

	const polls = 20
	var wg sync.WaitGroup
	results := make([]VerifyResult, polls)
	errs := make([]error, polls)
	for i := 0; i < polls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = v.Verify(context.Background(), "pi_full")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Paid)
		assert.Equal(t, domain.PaymentStatusPaid, results[i].PaymentStatus)
	}
	assert.Len(t, ledger.Events(), 1)
}
