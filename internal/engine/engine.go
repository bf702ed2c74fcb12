package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/internal/repository"
	"github.com/palletline/inventory/pkg/database"
)

// Engine is the sole write path into inventory state. Every mutation is one
// of six operations, each a single transaction that locks the affected level
// row(s), validates the precondition against the locked values, applies the
// delta, and appends exactly one ledger row carrying the resulting snapshot.
type Engine struct {
	pool       database.DBTX
	levels     repository.LevelStore
	moves      repository.MoveLedger
	warehouses repository.WarehouseRepository
	catalog    CatalogClient
	events     Publisher
	logger     *slog.Logger
}

// CatalogClient resolves a product UUID or slug into its variant IDs for the
// product-keyed read endpoints.
type CatalogClient interface {
	ResolveVariants(ctx context.Context, productKey string) (productID string, variantIDs []string, err error)
}

// Publisher emits inventory domain events after a successful operation.
// Publish failures are logged, never propagated: the database commit is the
// source of truth.
type Publisher interface {
	PublishLevelUpdated(ctx context.Context, level *domain.StockLevel) error
	PublishLowStock(ctx context.Context, level *domain.StockLevel) error
	PublishReserved(ctx context.Context, move *domain.StockMove) error
	PublishReleased(ctx context.Context, move *domain.StockMove) error
	PublishCommitted(ctx context.Context, move *domain.StockMove) error
}

// New creates the operations engine.
func New(
	pool database.DBTX,
	levels repository.LevelStore,
	moves repository.MoveLedger,
	warehouses repository.WarehouseRepository,
	catalog CatalogClient,
	events Publisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		pool:       pool,
		levels:     levels,
		moves:      moves,
		warehouses: warehouses,
		catalog:    catalog,
		events:     events,
		logger:     logger,
	}
}

// OpRequest describes a single-warehouse operation. WarehouseCode may be
// empty, in which case the default warehouse is used. Qty is a positive
// magnitude for every operation except Adjust, where it is the signed delta.
type OpRequest struct {
	VariantID     string
	ProductID     *string
	WarehouseCode string
	Qty           int
	Reason        string
	Note          string
	PerformedBy   *string
	OrderID       *string
	CartID        *string
}

// TransferRequest moves on-hand stock between two warehouses.
type TransferRequest struct {
	VariantID         string
	ProductID         *string
	FromWarehouseCode string
	ToWarehouseCode   string
	Qty               int
	Reason            string
	Note              string
	PerformedBy       *string
}

// Result is the outcome of a successful operation: the appended ledger entry
// and the level row(s) it produced. Transfer returns two levels (source
// first); every other operation returns one.
type Result struct {
	Move   *domain.StockMove    `json:"move"`
	Levels []*domain.StockLevel `json:"levels"`
}

// mutation is the per-operation state transition applied under the row lock.
type mutation struct {
	moveType  domain.MoveType
	direction int
	qty       int
	dOnHand   int
	dReserved int
	createRow bool
	check     func(variantID, warehouseID string, onHand, reserved int) error
}

// Receive increases on-hand stock, creating the level row lazily.
func (e *Engine) Receive(ctx context.Context, req OpRequest) (*Result, error) {
	if req.Qty <= 0 {
		return nil, domain.ErrInvalidQuantity(fmt.Sprintf("receive qty must be positive, got %d", req.Qty))
	}

	return e.applyOp(ctx, "receive", req, mutation{
		moveType:  domain.MoveTypeIn,
		direction: domain.DirectionIn,
		qty:       req.Qty,
		dOnHand:   req.Qty,
		createRow: true,
		check: func(string, string, int, int) error {
			return nil
		},
	})
}

// Adjust applies a signed correction to on-hand stock. Negative adjustments
// may not remove reserved stock. The ledger stores the magnitude with an
// adjust-direction tag; callers pass signed intent.
func (e *Engine) Adjust(ctx context.Context, req OpRequest) (*Result, error) {
	if req.Qty == 0 {
		return nil, domain.ErrInvalidQuantity("adjust qty must be non-zero")
	}

	direction := domain.DirectionIn
	magnitude := req.Qty
	if req.Qty < 0 {
		direction = domain.DirectionOut
		magnitude = -req.Qty
	}

	return e.applyOp(ctx, "adjust", req, mutation{
		moveType:  domain.MoveTypeAdjust,
		direction: direction,
		qty:       magnitude,
		dOnHand:   req.Qty,
		createRow: req.Qty > 0,
		check: func(variantID, warehouseID string, onHand, reserved int) error {
			if onHand+req.Qty < reserved {
				return domain.ErrInsufficientStock(variantID, warehouseID, magnitude, onHand-reserved)
			}
			return nil
		},
	})
}

// Reserve holds available stock against an open cart or order.
func (e *Engine) Reserve(ctx context.Context, req OpRequest) (*Result, error) {
	if req.Qty <= 0 {
		return nil, domain.ErrInvalidQuantity(fmt.Sprintf("reserve qty must be positive, got %d", req.Qty))
	}

	return e.applyOp(ctx, "reserve", req, mutation{
		moveType:  domain.MoveTypeReserve,
		direction: domain.DirectionIn,
		qty:       req.Qty,
		dReserved: req.Qty,
		check: func(variantID, warehouseID string, onHand, reserved int) error {
			if onHand-reserved < req.Qty {
				return domain.ErrInsufficientStock(variantID, warehouseID, req.Qty, onHand-reserved)
			}
			return nil
		},
	})
}

// Release returns a hold to available stock.
func (e *Engine) Release(ctx context.Context, req OpRequest) (*Result, error) {
	if req.Qty <= 0 {
		return nil, domain.ErrInvalidQuantity(fmt.Sprintf("release qty must be positive, got %d", req.Qty))
	}

	return e.applyOp(ctx, "release", req, mutation{
		moveType:  domain.MoveTypeRelease,
		direction: domain.DirectionIn,
		qty:       req.Qty,
		dReserved: -req.Qty,
		check: func(variantID, warehouseID string, onHand, reserved int) error {
			if reserved < req.Qty {
				return domain.ErrInsufficientStock(variantID, warehouseID, req.Qty, reserved)
			}
			return nil
		},
	})
}

// Commit converts a reservation into a physical deduction.
func (e *Engine) Commit(ctx context.Context, req OpRequest) (*Result, error) {
	if req.Qty <= 0 {
		return nil, domain.ErrInvalidQuantity(fmt.Sprintf("commit qty must be positive, got %d", req.Qty))
	}

	return e.applyOp(ctx, "commit", req, mutation{
		moveType:  domain.MoveTypeCommit,
		direction: domain.DirectionIn,
		qty:       req.Qty,
		dOnHand:   -req.Qty,
		dReserved: -req.Qty,
		check: func(variantID, warehouseID string, onHand, reserved int) error {
			if reserved < req.Qty {
				return domain.ErrInsufficientStock(variantID, warehouseID, req.Qty, reserved)
			}
			return nil
		},
	})
}

// applyOp runs one single-warehouse operation with bounded retries on
// serialization failures.
func (e *Engine) applyOp(ctx context.Context, opName string, req OpRequest, mut mutation) (*Result, error) {
	warehouse, err := e.resolveWarehouse(ctx, req.WarehouseCode)
	if err != nil {
		recordOperation(opName, err)
		return nil, err
	}

	var result *Result
	err = e.withRetry(ctx, req.VariantID, warehouse.ID, func(ctx context.Context) error {
		var txErr error
		result, txErr = e.applyOpTx(ctx, req, warehouse.ID, mut)
		return txErr
	})
	recordOperation(opName, err)
	if err != nil {
		return nil, err
	}

	level := result.Levels[0]
	e.logger.InfoContext(ctx, "inventory operation applied",
		slog.String("operation", opName),
		slog.String("variant_id", req.VariantID),
		slog.String("warehouse_id", warehouse.ID),
		slog.Int("qty", mut.qty),
		slog.Int("qty_on_hand", level.QtyOnHand),
		slog.Int("qty_reserved", level.QtyReserved),
	)

	e.publishAfterMove(ctx, result)
	return result, nil
}

// applyOpTx is one attempt of the locked state transition.
func (e *Engine) applyOpTx(ctx context.Context, req OpRequest, warehouseID string, mut mutation) (*Result, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if mut.createRow {
		createQuery := `
			INSERT INTO stock_levels (variant_id, product_id, warehouse_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (variant_id, warehouse_id) DO NOTHING`
		if _, err := tx.Exec(ctx, createQuery, req.VariantID, req.ProductID, warehouseID); err != nil {
			return nil, fmt.Errorf("create stock level row: %w", err)
		}
	}

	lockQuery := `
		SELECT id, product_id, qty_on_hand, qty_reserved, low_stock_threshold, version
		FROM stock_levels
		WHERE variant_id = $1 AND warehouse_id = $2
		FOR UPDATE`

	level := domain.StockLevel{
		VariantID:   req.VariantID,
		ProductID:   req.ProductID,
		WarehouseID: warehouseID,
	}
	found := true
	err = tx.QueryRow(ctx, lockQuery, req.VariantID, warehouseID).Scan(
		&level.ID, &level.ProductID, &level.QtyOnHand, &level.QtyReserved, &level.LowStockThreshold, &level.Version,
	)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lock stock level: %w", err)
		}
		// Absence reads as zero; only row-creating operations proceed past
		// the precondition with a missing row.
		found = false
	}

	if err := mut.check(req.VariantID, warehouseID, level.QtyOnHand, level.QtyReserved); err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrInsufficientStock(req.VariantID, warehouseID, mut.qty, 0)
	}

	level.QtyOnHand += mut.dOnHand
	level.QtyReserved += mut.dReserved
	if !level.CheckInvariant() {
		return nil, domain.ErrInvariantViolation(req.VariantID, warehouseID, level.QtyOnHand, level.QtyReserved)
	}

	updateQuery := `
		UPDATE stock_levels
		SET qty_on_hand = $1, qty_reserved = $2, version = version + 1, updated_at = now()
		WHERE variant_id = $3 AND warehouse_id = $4`
	if _, err := tx.Exec(ctx, updateQuery, level.QtyOnHand, level.QtyReserved, req.VariantID, warehouseID); err != nil {
		return nil, fmt.Errorf("update stock level: %w", err)
	}
	level.Version++
	level.UpdatedAt = time.Now().UTC()

	move := &domain.StockMove{
		Type:             mut.moveType,
		VariantID:        req.VariantID,
		ProductID:        level.ProductID,
		WarehouseID:      &warehouseID,
		Qty:              mut.qty,
		Direction:        mut.direction,
		OrderID:          req.OrderID,
		CartID:           req.CartID,
		PerformedBy:      req.PerformedBy,
		Reason:           req.Reason,
		Note:             req.Note,
		QtyOnHandAfter:   level.QtyOnHand,
		QtyReservedAfter: level.QtyReserved,
	}

	moveQuery := `
		INSERT INTO stock_moves (move_type, variant_id, product_id, warehouse_id, qty, direction,
			order_id, cart_id, performed_by, reason, note, qty_on_hand_after, qty_reserved_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, moveQuery,
		move.Type, move.VariantID, move.ProductID, move.WarehouseID, move.Qty, move.Direction,
		move.OrderID, move.CartID, move.PerformedBy, move.Reason, move.Note,
		move.QtyOnHandAfter, move.QtyReservedAfter,
	).Scan(&move.ID, &move.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append stock move: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &Result{Move: move, Levels: []*domain.StockLevel{&level}}, nil
}

// Transfer moves on-hand stock between warehouses as one linearizable unit.
// Both rows are locked in warehouse-id order to avoid lock cycles, and a
// single ledger row records both sides; its snapshot is the source row.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	if req.Qty <= 0 {
		err := domain.ErrInvalidQuantity(fmt.Sprintf("transfer qty must be positive, got %d", req.Qty))
		recordOperation("transfer", err)
		return nil, err
	}
	if req.FromWarehouseCode == req.ToWarehouseCode {
		err := domain.ErrInvalidQuantity("transfer requires two distinct warehouses")
		recordOperation("transfer", err)
		return nil, err
	}

	from, err := e.warehouses.GetByCode(ctx, req.FromWarehouseCode)
	if err != nil {
		recordOperation("transfer", err)
		return nil, err
	}
	to, err := e.warehouses.GetByCode(ctx, req.ToWarehouseCode)
	if err != nil {
		recordOperation("transfer", err)
		return nil, err
	}

	var result *Result
	err = e.withRetry(ctx, req.VariantID, from.ID, func(ctx context.Context) error {
		var txErr error
		result, txErr = e.transferTx(ctx, req, from.ID, to.ID)
		return txErr
	})
	recordOperation("transfer", err)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "inventory operation applied",
		slog.String("operation", "transfer"),
		slog.String("variant_id", req.VariantID),
		slog.String("from_warehouse_id", from.ID),
		slog.String("to_warehouse_id", to.ID),
		slog.Int("qty", req.Qty),
	)

	e.publishAfterMove(ctx, result)
	return result, nil
}

func (e *Engine) transferTx(ctx context.Context, req TransferRequest, fromID, toID string) (*Result, error) {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The destination row is created lazily like a receive would.
	createQuery := `
		INSERT INTO stock_levels (variant_id, product_id, warehouse_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_id, warehouse_id) DO NOTHING`
	if _, err := tx.Exec(ctx, createQuery, req.VariantID, req.ProductID, toID); err != nil {
		return nil, fmt.Errorf("create destination stock level row: %w", err)
	}

	// Lock both rows in warehouse-id order so concurrent opposite-direction
	// transfers cannot deadlock.
	lockOrder := []string{fromID, toID}
	if toID < fromID {
		lockOrder = []string{toID, fromID}
	}

	lockQuery := `
		SELECT id, product_id, qty_on_hand, qty_reserved, low_stock_threshold, version
		FROM stock_levels
		WHERE variant_id = $1 AND warehouse_id = $2
		FOR UPDATE`

	locked := make(map[string]*domain.StockLevel, 2)
	for _, warehouseID := range lockOrder {
		level := &domain.StockLevel{
			VariantID:   req.VariantID,
			WarehouseID: warehouseID,
		}
		err := tx.QueryRow(ctx, lockQuery, req.VariantID, warehouseID).Scan(
			&level.ID, &level.ProductID, &level.QtyOnHand, &level.QtyReserved, &level.LowStockThreshold, &level.Version,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) && warehouseID == fromID {
				// No source row means nothing to transfer.
				return nil, domain.ErrInsufficientStock(req.VariantID, fromID, req.Qty, 0)
			}
			return nil, fmt.Errorf("lock stock level: %w", err)
		}
		locked[warehouseID] = level
	}

	source, dest := locked[fromID], locked[toID]
	if source.Available() < req.Qty {
		return nil, domain.ErrInsufficientStock(req.VariantID, fromID, req.Qty, source.Available())
	}

	source.QtyOnHand -= req.Qty
	dest.QtyOnHand += req.Qty
	if !source.CheckInvariant() {
		return nil, domain.ErrInvariantViolation(req.VariantID, fromID, source.QtyOnHand, source.QtyReserved)
	}
	if !dest.CheckInvariant() {
		return nil, domain.ErrInvariantViolation(req.VariantID, toID, dest.QtyOnHand, dest.QtyReserved)
	}

	updateQuery := `
		UPDATE stock_levels
		SET qty_on_hand = $1, qty_reserved = $2, version = version + 1, updated_at = now()
		WHERE variant_id = $3 AND warehouse_id = $4`
	for _, level := range []*domain.StockLevel{source, dest} {
		if _, err := tx.Exec(ctx, updateQuery, level.QtyOnHand, level.QtyReserved, req.VariantID, level.WarehouseID); err != nil {
			return nil, fmt.Errorf("update stock level: %w", err)
		}
		level.Version++
		level.UpdatedAt = time.Now().UTC()
	}

	move := &domain.StockMove{
		Type:             domain.MoveTypeTransfer,
		VariantID:        req.VariantID,
		ProductID:        source.ProductID,
		FromWarehouseID:  &fromID,
		ToWarehouseID:    &toID,
		Qty:              req.Qty,
		Direction:        domain.DirectionIn,
		PerformedBy:      req.PerformedBy,
		Reason:           req.Reason,
		Note:             req.Note,
		QtyOnHandAfter:   source.QtyOnHand,
		QtyReservedAfter: source.QtyReserved,
	}

	moveQuery := `
		INSERT INTO stock_moves (move_type, variant_id, product_id, from_warehouse_id, to_warehouse_id,
			qty, direction, performed_by, reason, note, qty_on_hand_after, qty_reserved_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, moveQuery,
		move.Type, move.VariantID, move.ProductID, move.FromWarehouseID, move.ToWarehouseID,
		move.Qty, move.Direction, move.PerformedBy, move.Reason, move.Note,
		move.QtyOnHandAfter, move.QtyReservedAfter,
	).Scan(&move.ID, &move.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append stock move: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &Result{Move: move, Levels: []*domain.StockLevel{source, dest}}, nil
}

// resolveWarehouse maps a warehouse code to its row, falling back to the
// default warehouse when the code is empty.
func (e *Engine) resolveWarehouse(ctx context.Context, code string) (*domain.Warehouse, error) {
	if code == "" {
		return e.warehouses.GetDefault(ctx)
	}
	return e.warehouses.GetByCode(ctx, code)
}

// publishAfterMove emits the post-commit domain events: a level update per
// affected row, the move-specific event, and a low-stock alert when a row
// lands at or below its threshold.
func (e *Engine) publishAfterMove(ctx context.Context, result *Result) {
	for _, level := range result.Levels {
		if err := e.events.PublishLevelUpdated(ctx, level); err != nil {
			e.logger.ErrorContext(ctx, "failed to publish inventory.updated event",
				slog.String("variant_id", level.VariantID),
				slog.String("warehouse_id", level.WarehouseID),
				slog.String("error", err.Error()),
			)
		}
		if level.Available() <= level.LowStockThreshold {
			if err := e.events.PublishLowStock(ctx, level); err != nil {
				e.logger.ErrorContext(ctx, "failed to publish inventory.low_stock event",
					slog.String("variant_id", level.VariantID),
					slog.String("warehouse_id", level.WarehouseID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	var err error
	switch result.Move.Type {
	case domain.MoveTypeReserve:
		err = e.events.PublishReserved(ctx, result.Move)
	case domain.MoveTypeRelease:
		err = e.events.PublishReleased(ctx, result.Move)
	case domain.MoveTypeCommit:
		err = e.events.PublishCommitted(ctx, result.Move)
	default:
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish move event",
			slog.String("move_type", string(result.Move.Type)),
			slog.String("variant_id", result.Move.VariantID),
			slog.String("error", err.Error()),
		)
	}
}

// maxTxAttempts bounds serialization-failure retries before the conflict is
// surfaced to the caller.
const maxTxAttempts = 3

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withRetry runs fn up to maxTxAttempts times, backing off with jitter on
// serialization failures, then surfaces CONCURRENT_CONFLICT.
func (e *Engine) withRetry(ctx context.Context, variantID, warehouseID string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err

		if attempt < maxTxAttempts-1 {
			base := time.Duration(1<<uint(attempt)) * 25 * time.Millisecond
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1))
			wait := base + jitter

			e.logger.WarnContext(ctx, "serialization failure, retrying operation",
				slog.String("variant_id", variantID),
				slog.String("warehouse_id", warehouseID),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	e.logger.WarnContext(ctx, "operation lost retry race",
		slog.String("variant_id", variantID),
		slog.String("warehouse_id", warehouseID),
		slog.String("error", lastErr.Error()),
	)
	return domain.ErrConcurrentConflict(variantID, warehouseID)
}
