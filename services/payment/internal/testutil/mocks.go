package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"example.com/payment-reconciler/services/payment/internal/processor"
)

// =============================================================================
// MockProcessor - мок processor.Client
// =============================================================================

// MockProcessor - мок клиента платёжного процессора.
type MockProcessor struct {
	mock.Mock
}

var _ processor.Client = (*MockProcessor)(nil)

func (m *MockProcessor) RetrieveIntent(ctx context.Context, intentID string) (*processor.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Intent), args.Error(1)
}

func (m *MockProcessor) CreateIntent(ctx context.Context, p processor.CreateIntentParams) (*processor.Intent, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Intent), args.Error(1)
}

func (m *MockProcessor) ChargeOffSession(ctx context.Context, p processor.ChargeParams) (*processor.Intent, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Intent), args.Error(1)
}

func (m *MockProcessor) CreateCustomer(ctx context.Context, p processor.CustomerParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}
