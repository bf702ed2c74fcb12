package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/pkg/database"
)

const moveColumns = `id, move_type, variant_id, product_id, warehouse_id, from_warehouse_id, to_warehouse_id,
		qty, direction, order_id, cart_id, performed_by, reason, note,
		qty_on_hand_after, qty_reserved_after, created_at`

// MoveRepository reads the append-only stock move ledger.
type MoveRepository struct {
	pool database.DBTX
}

// NewMoveRepository creates a PostgreSQL-backed ledger reader.
func NewMoveRepository(pool database.DBTX) *MoveRepository {
	return &MoveRepository{pool: pool}
}

// List returns ledger entries matching the filter. Default ordering is
// newest-first with the insert id breaking timestamp ties; ascending order is
// for oldest-first balance reconstruction.
func (r *MoveRepository) List(ctx context.Context, filter domain.MoveFilter, page, perPage int) ([]domain.StockMove, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	var (
		conditions []string
		args       []any
	)

	nextArg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.VariantID != "" {
		conditions = append(conditions, "variant_id = "+nextArg(filter.VariantID))
	}
	if filter.WarehouseID != "" {
		n := nextArg(filter.WarehouseID)
		conditions = append(conditions,
			fmt.Sprintf("(warehouse_id = %s OR from_warehouse_id = %s OR to_warehouse_id = %s)", n, n, n))
	}
	if filter.Type != "" {
		conditions = append(conditions, "move_type = "+nextArg(filter.Type))
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= "+nextArg(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= "+nextArg(*filter.To))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	order := "ORDER BY created_at DESC, id DESC"
	if filter.Ascending {
		order = "ORDER BY created_at ASC, id ASC"
	}

	args = append(args, perPage, offset)
	limitArg := "$" + strconv.Itoa(len(args)-1)
	offsetArg := "$" + strconv.Itoa(len(args))

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM stock_moves
		%s
		%s
		LIMIT %s OFFSET %s`, moveColumns, where, order, limitArg, offsetArg)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock moves: %w", err)
	}
	defer rows.Close()

	var (
		moves      []domain.StockMove
		totalCount int
	)

	for rows.Next() {
		var m domain.StockMove
		if err := rows.Scan(
			&m.ID,
			&m.Type,
			&m.VariantID,
			&m.ProductID,
			&m.WarehouseID,
			&m.FromWarehouseID,
			&m.ToWarehouseID,
			&m.Qty,
			&m.Direction,
			&m.OrderID,
			&m.CartID,
			&m.PerformedBy,
			&m.Reason,
			&m.Note,
			&m.QtyOnHandAfter,
			&m.QtyReservedAfter,
			&m.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan stock move row: %w", err)
		}
		moves = append(moves, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock move rows: %w", err)
	}

	if moves == nil {
		moves = []domain.StockMove{}
	}

	return moves, totalCount, nil
}
