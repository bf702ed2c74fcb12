package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/pkg/database"
	apperrors "github.com/palletline/inventory/pkg/errors"
)

const levelColumns = `id, variant_id, product_id, warehouse_id, qty_on_hand, qty_reserved, low_stock_threshold, version, updated_at`

// LevelRepository reads stock level aggregates from PostgreSQL.
type LevelRepository struct {
	pool database.DBTX
}

// NewLevelRepository creates a PostgreSQL-backed level store.
func NewLevelRepository(pool database.DBTX) *LevelRepository {
	return &LevelRepository{pool: pool}
}

func scanLevel(row pgx.Row) (*domain.StockLevel, error) {
	var l domain.StockLevel
	err := row.Scan(
		&l.ID,
		&l.VariantID,
		&l.ProductID,
		&l.WarehouseID,
		&l.QtyOnHand,
		&l.QtyReserved,
		&l.LowStockThreshold,
		&l.Version,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Get retrieves the level row for a (variant, warehouse) pair.
func (r *LevelRepository) Get(ctx context.Context, variantID, warehouseID string) (*domain.StockLevel, error) {
	query := `
		SELECT ` + levelColumns + `
		FROM stock_levels
		WHERE variant_id = $1 AND warehouse_id = $2`

	level, err := scanLevel(r.pool.QueryRow(ctx, query, variantID, warehouseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get stock level: %w", err)
	}

	return level, nil
}

// ListByVariant returns all warehouse rows for one variant.
func (r *LevelRepository) ListByVariant(ctx context.Context, variantID string) ([]domain.StockLevel, error) {
	query := `
		SELECT ` + levelColumns + `
		FROM stock_levels
		WHERE variant_id = $1
		ORDER BY warehouse_id`

	rows, err := r.pool.Query(ctx, query, variantID)
	if err != nil {
		return nil, fmt.Errorf("list levels by variant: %w", err)
	}
	defer rows.Close()

	return collectLevels(rows)
}

// ListByVariants returns rows for a set of variants.
func (r *LevelRepository) ListByVariants(ctx context.Context, variantIDs []string) ([]domain.StockLevel, error) {
	if len(variantIDs) == 0 {
		return []domain.StockLevel{}, nil
	}

	query := `
		SELECT ` + levelColumns + `
		FROM stock_levels
		WHERE variant_id = ANY($1)
		ORDER BY variant_id, warehouse_id`

	rows, err := r.pool.Query(ctx, query, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("list levels by variants: %w", err)
	}
	defer rows.Close()

	return collectLevels(rows)
}

// ListLowStock returns rows where available <= low_stock_threshold, lowest
// availability first.
func (r *LevelRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	query := `
		SELECT ` + levelColumns + `,
			   count(*) OVER() AS total_count
		FROM stock_levels
		WHERE (qty_on_hand - qty_reserved) <= low_stock_threshold
		ORDER BY (qty_on_hand - qty_reserved) ASC, updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var (
		levels     []domain.StockLevel
		totalCount int
	)

	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(
			&l.ID,
			&l.VariantID,
			&l.ProductID,
			&l.WarehouseID,
			&l.QtyOnHand,
			&l.QtyReserved,
			&l.LowStockThreshold,
			&l.Version,
			&l.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan low stock row: %w", err)
		}
		levels = append(levels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}

	if levels == nil {
		levels = []domain.StockLevel{}
	}

	return levels, totalCount, nil
}

func collectLevels(rows pgx.Rows) ([]domain.StockLevel, error) {
	var levels []domain.StockLevel
	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(
			&l.ID,
			&l.VariantID,
			&l.ProductID,
			&l.WarehouseID,
			&l.QtyOnHand,
			&l.QtyReserved,
			&l.LowStockThreshold,
			&l.Version,
			&l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock level row: %w", err)
		}
		levels = append(levels, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock level rows: %w", err)
	}

	if levels == nil {
		levels = []domain.StockLevel{}
	}

	return levels, nil
}
