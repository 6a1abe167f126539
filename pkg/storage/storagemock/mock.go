package storagemock

import (
	"context"

	"github.com/chargereport/chargereport/pkg/storage"
	"github.com/chargereport/chargereport/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

var _ storage.Ledger = (*MockLedger)(nil)

func (m *MockLedger) GetDelivery(ctx context.Context, installationID, period string) (types.Delivery, error) {
	args := m.Called(ctx, installationID, period)
	return args.Get(0).(types.Delivery), args.Error(1)
}

func (m *MockLedger) PutDelivery(ctx context.Context, d types.Delivery) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockLedger) ListDeliveries(ctx context.Context, installationID string) ([]types.Delivery, error) {
	args := m.Called(ctx, installationID)
	if v := args.Get(0); v != nil {
		return v.([]types.Delivery), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLedger) Close() error {
	args := m.Called()
	return args.Error(0)
}
