package invoice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upsert(ctx context.Context, inv *domain.Invoice) error {
	return m.Called(ctx, inv).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(ctx context.Context, topic, key, eventType string, v any) error {
	return m.Called(ctx, topic, key, eventType, v).Error(0)
}

func paidDepositOrder() *domain.Order {
	order := testutil.WithSlice(testutil.NewOrder(42, domain.PaymentModeDeposit), domain.SliceDeposit, "pi_dep")
	order.Slices[domain.SliceDeposit].Status = domain.SliceStatusPaid
	return order
}

func TestGenerator_Generate(t *testing.T) {
	store := new(mockStore)
	store.On("Upsert", mock.Anything, mock.AnythingOfType("*domain.Invoice")).Return(nil)

	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, kafka.TopicInvoiceRender, "42", "invoice.render",
		mock.MatchedBy(func(r RenderRequest) bool {
			return r.FileName == "facture_FAC-2025-000042.pdf" && r.AmountPaid == "90.00" && len(r.Items) == 1
		})).Return(nil)

	g := NewGenerator(store, pub)
	g.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	inv, err := g.Generate(context.Background(), paidDepositOrder(), nil)

	require.NoError(t, err)
	assert.Equal(t, "FAC-2025-000042", inv.Number)
	assert.Equal(t, "Анна Петрова", inv.CustomerName)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestGenerator_StoreError(t *testing.T) {
	store := new(mockStore)
	store.On("Upsert", mock.Anything, mock.Anything).Return(domain.Persistence(errors.New("db down")))
	pub := new(mockPublisher)

	_, err := NewGenerator(store, pub).Generate(context.Background(), paidDepositOrder(), nil)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerator_CountsInstallments(t *testing.T) {
	order := testutil.WithSlice(testutil.NewOrder(42, domain.PaymentModeInstallments), domain.SliceFull, "pi_1")
	order.Slices[domain.SliceFull].Status = domain.SliceStatusPaid

	store := new(mockStore)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	inv, err := NewGenerator(store, nil).Generate(context.Background(), order, []*domain.Installment{
		{Number: 1, Amount: testutil.Amount("100"), Status: domain.InstallmentStatusPaid},
		{Number: 2, Amount: testutil.Amount("100"), Status: domain.InstallmentStatusPaid},
		{Number: 3, Amount: testutil.Amount("100"), Status: domain.InstallmentStatusPending},
	})

	require.NoError(t, err)
	assert.Equal(t, "200", inv.AmountPaid.String())
}
