package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/pkg/database"
	apperrors "github.com/palletline/inventory/pkg/errors"
)

const warehouseColumns = `id, code, name, is_default, created_at`

// WarehouseRepository persists warehouse reference data in PostgreSQL.
type WarehouseRepository struct {
	pool database.DBTX
}

// NewWarehouseRepository creates a PostgreSQL-backed warehouse repository.
func NewWarehouseRepository(pool database.DBTX) *WarehouseRepository {
	return &WarehouseRepository{pool: pool}
}

func scanWarehouse(row pgx.Row) (*domain.Warehouse, error) {
	var w domain.Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.IsDefault, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create inserts a new warehouse. A duplicate code maps to ALREADY_EXISTS.
func (r *WarehouseRepository) Create(ctx context.Context, warehouse *domain.Warehouse) (*domain.Warehouse, error) {
	query := `
		INSERT INTO warehouses (id, code, name, is_default)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + warehouseColumns

	created, err := scanWarehouse(r.pool.QueryRow(ctx, query,
		warehouse.ID,
		warehouse.Code,
		warehouse.Name,
		warehouse.IsDefault,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.AlreadyExists("warehouse", "code", warehouse.Code)
		}
		return nil, fmt.Errorf("create warehouse: %w", err)
	}

	return created, nil
}

// List returns all warehouses, default first.
func (r *WarehouseRepository) List(ctx context.Context) ([]domain.Warehouse, error) {
	query := `
		SELECT ` + warehouseColumns + `
		FROM warehouses
		ORDER BY is_default DESC, code ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []domain.Warehouse
	for rows.Next() {
		var w domain.Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsDefault, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan warehouse row: %w", err)
		}
		warehouses = append(warehouses, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warehouse rows: %w", err)
	}

	if warehouses == nil {
		warehouses = []domain.Warehouse{}
	}

	return warehouses, nil
}

// GetByID retrieves a warehouse by its ID.
func (r *WarehouseRepository) GetByID(ctx context.Context, id string) (*domain.Warehouse, error) {
	query := `
		SELECT ` + warehouseColumns + `
		FROM warehouses
		WHERE id = $1`

	w, err := scanWarehouse(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnknownWarehouse(id)
		}
		return nil, fmt.Errorf("get warehouse by id: %w", err)
	}

	return w, nil
}

// GetByCode retrieves a warehouse by its unique code.
func (r *WarehouseRepository) GetByCode(ctx context.Context, code string) (*domain.Warehouse, error) {
	query := `
		SELECT ` + warehouseColumns + `
		FROM warehouses
		WHERE code = $1`

	w, err := scanWarehouse(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnknownWarehouse(code)
		}
		return nil, fmt.Errorf("get warehouse by code: %w", err)
	}

	return w, nil
}

// GetDefault retrieves the warehouse marked as default.
func (r *WarehouseRepository) GetDefault(ctx context.Context) (*domain.Warehouse, error) {
	query := `
		SELECT ` + warehouseColumns + `
		FROM warehouses
		WHERE is_default
		LIMIT 1`

	w, err := scanWarehouse(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnknownWarehouse("")
		}
		return nil, fmt.Errorf("get default warehouse: %w", err)
	}

	return w, nil
}
