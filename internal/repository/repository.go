package repository

import (
	"context"

	"github.com/palletline/inventory/internal/domain"
)

// LevelStore exposes read access to the stock level aggregates. All writes go
// through the operations engine, never through this interface.
type LevelStore interface {
	// Get retrieves the level row for a (variant, warehouse) pair. A missing
	// row returns apperrors.ErrNotFound; callers treat absence as zero.
	Get(ctx context.Context, variantID, warehouseID string) (*domain.StockLevel, error)

	// ListByVariant returns all warehouse rows for one variant.
	ListByVariant(ctx context.Context, variantID string) ([]domain.StockLevel, error)

	// ListByVariants returns rows for a set of variants (product-level reads).
	ListByVariants(ctx context.Context, variantIDs []string) ([]domain.StockLevel, error)

	// ListLowStock returns rows where available <= low_stock_threshold,
	// lowest availability first.
	ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error)
}

// MoveLedger exposes read access to the append-only stock move ledger.
// Inserts happen inside engine transactions only.
type MoveLedger interface {
	// List returns ledger entries matching the filter, newest-first unless
	// the filter asks for ascending order.
	List(ctx context.Context, filter domain.MoveFilter, page, perPage int) ([]domain.StockMove, int, error)
}

// WarehouseRepository persists warehouse reference data.
type WarehouseRepository interface {
	Create(ctx context.Context, warehouse *domain.Warehouse) (*domain.Warehouse, error)
	List(ctx context.Context) ([]domain.Warehouse, error)
	GetByID(ctx context.Context, id string) (*domain.Warehouse, error)
	GetByCode(ctx context.Context, code string) (*domain.Warehouse, error)
	GetDefault(ctx context.Context) (*domain.Warehouse, error)
}
