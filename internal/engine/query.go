package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/palletline/inventory/internal/domain"
	apperrors "github.com/palletline/inventory/pkg/errors"
)

// VariantLevels returns per-warehouse availability for one variant. A variant
// with no level rows yet reads as an empty list, not an error.
func (e *Engine) VariantLevels(ctx context.Context, variantID string) ([]domain.LevelView, error) {
	levels, err := e.levels.ListByVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	return e.toViews(ctx, levels)
}

// ProductLevels resolves a product UUID or slug through the catalog and
// returns availability for every variant of the product.
func (e *Engine) ProductLevels(ctx context.Context, productKey string) ([]domain.LevelView, error) {
	_, variantIDs, err := e.catalog.ResolveVariants(ctx, productKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.ErrUnknownVariant(productKey)
		}
		return nil, fmt.Errorf("resolve product variants: %w", err)
	}

	levels, err := e.levels.ListByVariants(ctx, variantIDs)
	if err != nil {
		return nil, err
	}
	return e.toViews(ctx, levels)
}

// Moves returns ledger entries matching the filter.
func (e *Engine) Moves(ctx context.Context, filter domain.MoveFilter, page, perPage int) ([]domain.StockMove, int, error) {
	if filter.Type != "" && !domain.IsValidMoveType(filter.Type) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("unknown move type %q", filter.Type))
	}
	return e.moves.List(ctx, filter, page, perPage)
}

// LowStock returns level rows at or below their low-stock threshold, lowest
// availability first.
func (e *Engine) LowStock(ctx context.Context, page, perPage int) ([]domain.LevelView, int, error) {
	levels, total, err := e.levels.ListLowStock(ctx, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	views, err := e.toViews(ctx, levels)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

// sweepPageSize bounds one ListLowStock batch during a sweep.
const sweepPageSize = 100

// SweepLowStock re-publishes a low-stock event for every row currently at or
// below its threshold. The per-operation events cover the common path; the
// sweep catches rows whose event was lost and thresholds changed out of band.
func (e *Engine) SweepLowStock(ctx context.Context) (int, error) {
	published := 0
	for page := 1; ; page++ {
		levels, total, err := e.levels.ListLowStock(ctx, page, sweepPageSize)
		if err != nil {
			return published, fmt.Errorf("list low stock page %d: %w", page, err)
		}
		if len(levels) == 0 {
			break
		}

		for i := range levels {
			if err := e.events.PublishLowStock(ctx, &levels[i]); err != nil {
				e.logger.ErrorContext(ctx, "failed to publish inventory.low_stock event during sweep",
					slog.String("variant_id", levels[i].VariantID),
					slog.String("warehouse_id", levels[i].WarehouseID),
					slog.String("error", err.Error()),
				)
				continue
			}
			published++
		}

		if page*sweepPageSize >= total {
			break
		}
	}
	return published, nil
}

// SetLowStockThreshold upserts the alert threshold for a (variant, warehouse)
// pair. The row is created at zero stock if it does not exist yet so the
// threshold survives until the first receive.
func (e *Engine) SetLowStockThreshold(ctx context.Context, variantID, warehouseID string, threshold int) (*domain.StockLevel, error) {
	if threshold < 0 {
		return nil, domain.ErrInvalidQuantity(fmt.Sprintf("threshold must be non-negative, got %d", threshold))
	}
	if _, err := e.warehouses.GetByID(ctx, warehouseID); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO stock_levels (variant_id, warehouse_id, low_stock_threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_id, warehouse_id)
		DO UPDATE SET low_stock_threshold = EXCLUDED.low_stock_threshold, updated_at = now()
		RETURNING id, variant_id, product_id, warehouse_id, qty_on_hand, qty_reserved, low_stock_threshold, version, updated_at`

	var level domain.StockLevel
	err := e.pool.QueryRow(ctx, query, variantID, warehouseID, threshold).Scan(
		&level.ID,
		&level.VariantID,
		&level.ProductID,
		&level.WarehouseID,
		&level.QtyOnHand,
		&level.QtyReserved,
		&level.LowStockThreshold,
		&level.Version,
		&level.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("set low stock threshold: %w", err)
	}

	return &level, nil
}

// CreateWarehouse registers a new warehouse.
func (e *Engine) CreateWarehouse(ctx context.Context, code, name string) (*domain.Warehouse, error) {
	warehouse := &domain.Warehouse{
		ID:   uuid.NewString(),
		Code: code,
		Name: name,
	}
	return e.warehouses.Create(ctx, warehouse)
}

// ListWarehouses returns all warehouses, default first.
func (e *Engine) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	return e.warehouses.List(ctx)
}

// toViews decorates level rows with warehouse codes for API responses.
func (e *Engine) toViews(ctx context.Context, levels []domain.StockLevel) ([]domain.LevelView, error) {
	warehouses, err := e.warehouses.List(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[string]string, len(warehouses))
	for _, w := range warehouses {
		codes[w.ID] = w.Code
	}

	views := make([]domain.LevelView, 0, len(levels))
	for i := range levels {
		view := domain.NewLevelView(&levels[i])
		view.WarehouseCode = codes[levels[i].WarehouseID]
		views = append(views, view)
	}
	return views, nil
}
