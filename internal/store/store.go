// Package store is the persistence collaborator: keyed read/write of
// delivery and driver records. The proof core consumes the DeliveryStore
// interface; single-row upsert atomicity comes from the database, no
// additional locking is layered on top.
package store

import (
	"context"

	"github.com/veridrop/veridrop/internal/models"
)

type DeliveryStore interface {
	// UpsertDelivery writes one delivery record keyed by order id.
	UpsertDelivery(ctx context.Context, rec *models.DeliveryRecord) error

	// LatestDelivered returns the driver's most recent DELIVERED record,
	// excluding excludeOrderID, ordered by verification time descending.
	// nil when the driver has none.
	LatestDelivered(ctx context.Context, driverID, excludeOrderID string) (*models.DeliveryRecord, error)

	// FindByProofHash returns the record anchored by the given ledger
	// transaction hash, or nil.
	FindByProofHash(ctx context.Context, proofHash string) (*models.DeliveryRecord, error)

	// FindByStoreTxHash returns the record behind the given off-chain
	// store transaction hash, or nil.
	FindByStoreTxHash(ctx context.Context, storeTxHash string) (*models.DeliveryRecord, error)

	// ListDelivered pages through DELIVERED records for the reverify sweep.
	ListDelivered(ctx context.Context, limit, offset int) ([]*models.DeliveryRecord, error)

	// DriverByID returns the driver record with its optional NFC linkage,
	// or nil for unknown drivers.
	DriverByID(ctx context.Context, driverID string) (*models.DriverRecord, error)

	Close() error
}
