package storage

import (
	"context"
	"testing"

	"github.com/chargereport/chargereport/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer m.Close()

	_, err := m.GetDelivery(ctx, "inst-1", "2025-02")
	assert.ErrorIs(t, err, ErrDeliveryNotFound)

	require.NoError(t, m.PutDelivery(ctx, types.Delivery{InstallationID: "inst-1", Period: "2025-02", RunID: "a"}))
	require.NoError(t, m.PutDelivery(ctx, types.Delivery{InstallationID: "inst-1", Period: "2025-01", RunID: "b"}))
	require.NoError(t, m.PutDelivery(ctx, types.Delivery{InstallationID: "inst-2", Period: "2025-02", RunID: "c"}))

	d, err := m.GetDelivery(ctx, "inst-1", "2025-02")
	require.NoError(t, err)
	assert.Equal(t, "a", d.RunID)

	list, err := m.ListDeliveries(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2025-01", list[0].Period)
	assert.Equal(t, "2025-02", list[1].Period)

	list, err = m.ListDeliveries(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorContains(t, m.PutDelivery(ctx, types.Delivery{Period: "2025-02"}), "installationID cannot be empty")
	assert.ErrorContains(t, m.PutDelivery(ctx, types.Delivery{InstallationID: "x"}), "period cannot be empty")
}
