package storage

import (
	"context"
	"errors"

	"github.com/chargereport/chargereport/pkg/types"
)

var ErrDeliveryNotFound = errors.New("delivery not found")

// Ledger records which report periods were already delivered.
type Ledger interface {
	// GetDelivery returns ErrDeliveryNotFound when nothing was recorded for
	// the period.
	GetDelivery(ctx context.Context, installationID, period string) (types.Delivery, error)
	PutDelivery(ctx context.Context, d types.Delivery) error
	// ListDeliveries returns deliveries ordered by period.
	ListDeliveries(ctx context.Context, installationID string) ([]types.Delivery, error)

	Close() error
}
