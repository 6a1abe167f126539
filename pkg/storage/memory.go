package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chargereport/chargereport/pkg/types"
)

// Memory keeps deliveries in process memory. Nothing survives a restart.
type Memory struct {
	mu         sync.Mutex
	deliveries map[string]map[string]types.Delivery
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{deliveries: make(map[string]map[string]types.Delivery)}
}

// GetDelivery implements Ledger.
func (m *Memory) GetDelivery(ctx context.Context, installationID, period string) (types.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[installationID][period]
	if !ok {
		return types.Delivery{}, ErrDeliveryNotFound
	}
	return d, nil
}

// PutDelivery implements Ledger.
func (m *Memory) PutDelivery(ctx context.Context, d types.Delivery) error {
	if err := validateDelivery(d); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byPeriod, ok := m.deliveries[d.InstallationID]
	if !ok {
		byPeriod = make(map[string]types.Delivery)
		m.deliveries[d.InstallationID] = byPeriod
	}
	byPeriod[d.Period] = d
	return nil
}

// ListDeliveries implements Ledger.
func (m *Memory) ListDeliveries(ctx context.Context, installationID string) ([]types.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Delivery
	for _, d := range m.deliveries[installationID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// Close implements Ledger.
func (m *Memory) Close() error {
	return nil
}

func validateDelivery(d types.Delivery) error {
	if d.InstallationID == "" {
		return fmt.Errorf("installationID cannot be empty")
	}
	if d.Period == "" {
		return fmt.Errorf("period cannot be empty")
	}
	return nil
}
