package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/payment-reconciler/pkg/kafka"
	"example.com/payment-reconciler/services/payment/internal/domain"
	"example.com/payment-reconciler/services/payment/internal/testutil"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(ctx context.Context, topic, key, eventType string, v any) error {
	return m.Called(ctx, topic, key, eventType, v).Error(0)
}

func TestMailer_SendPaymentConfirmation(t *testing.T) {
	order := testutil.WithSlice(testutil.NewOrder(42, domain.PaymentModeDeposit), domain.SliceDeposit, "pi_dep")

	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, kafka.TopicEmailRequests, "42", "email.deposit_confirmation",
		mock.MatchedBy(func(req EmailRequest) bool {
			return req.To == "client@example.com" && req.Amount == "90.00" && req.Name == "Анна Петрова"
		})).Return(nil)

	err := NewMailer(pub).SendPaymentConfirmation(context.Background(), order, domain.SliceDeposit)

	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestMailer_SendPaymentFailed(t *testing.T) {
	order := testutil.NewOrder(42, domain.PaymentModeInstallments)

	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, kafka.TopicEmailRequests, "42", "email.payment_failed",
		mock.MatchedBy(func(req EmailRequest) bool {
			return req.InstallmentNumber == 2 && req.FailureReason == "insufficient_funds"
		})).Return(errors.New("broker down"))

	err := NewMailer(pub).SendPaymentFailed(context.Background(), order, domain.SliceInstallment, 2, "insufficient_funds")

	assert.Error(t, err)
	pub.AssertExpectations(t)
}

func TestMailer_NoRecipient(t *testing.T) {
	order := testutil.NewOrder(42, domain.PaymentModeFull)
	order.Customer = nil

	err := NewMailer(nil).SendPaymentConfirmation(context.Background(), order, domain.SliceFull)

	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestMailer_WithoutKafka(t *testing.T) {
	order := testutil.NewOrder(42, domain.PaymentModeFull)

	assert.NoError(t, NewMailer(nil).SendPaymentConfirmation(context.Background(), order, domain.SliceFull))
}
