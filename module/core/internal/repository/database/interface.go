package database

import (
	"context"

	"github.com/nandanugg/tollgate/module/core/domain"
)

// TollRepository is the idempotency boundary of the pipeline: one record per
// (device, gantry, crossed_at), mutated only by status compare-and-swap.
type TollRepository interface {
	// Create returns the existing record together with domain.ErrAlreadyExists on a duplicate.
	Create(ctx context.Context, rec *domain.TollRecord) (*domain.TollRecord, error)
	Get(ctx context.Context, id int64) (*domain.TollRecord, error)
	// UpdateStatus fails with domain.ErrConflict when the current status is not from.
	UpdateStatus(ctx context.Context, id int64, from, to domain.TollStatus, change domain.StatusChange) (*domain.TollRecord, error)
	ListByStatus(ctx context.Context, status domain.TollStatus, limit int) ([]domain.TollRecord, error)
}

// LedgerTx is a view of one vehicle's ledger while it is locked.
type LedgerTx interface {
	Balance() domain.VehicleBalance
	FindByKey(key string) (*domain.LedgerEvent, error)
	// Append stores the event and the balance it produces.
	Append(e domain.LedgerEvent, next domain.VehicleBalance) (domain.LedgerEvent, error)
}

// LedgerRepository serializes access per vehicle. Different vehicles do not contend.
type LedgerRepository interface {
	WithVehicle(ctx context.Context, vehicleID string, fn func(tx LedgerTx) error) error
	FindByKey(ctx context.Context, vehicleID, key string) (*domain.LedgerEvent, error)
	Balance(ctx context.Context, vehicleID string) (domain.VehicleBalance, error)
	Events(ctx context.Context, vehicleID string) ([]domain.LedgerEvent, error)
}
