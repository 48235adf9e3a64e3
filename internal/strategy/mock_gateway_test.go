package strategy

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// MockGateway scripts broker responses for failure paths the paper gateway
// cannot produce.
type MockGateway struct {
	mock.Mock
}

var _ broker.Gateway = (*MockGateway)(nil)

func (m *MockGateway) SubmitComboOrder(ctx context.Context, order broker.ComboOrder) (string, error) {
	args := m.Called(ctx, order)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) OrderStatus(ctx context.Context, orderID string) (*broker.OrderStatus, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.OrderStatus), args.Error(1)
}

func (m *MockGateway) CancelOrder(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockGateway) GetOpenPositions(ctx context.Context) ([]broker.PositionItem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.PositionItem), args.Error(1)
}

func (m *MockGateway) GetAccountSummary(ctx context.Context) (*broker.AccountSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*broker.AccountSummary), args.Error(1)
}

func (m *MockGateway) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	args := m.Called(ctx, underlying)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockGateway) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]models.OptionQuote, error) {
	args := m.Called(ctx, underlying, expiration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OptionQuote), args.Error(1)
}
