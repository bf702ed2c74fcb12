package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/pkg/database"
	apperrors "github.com/palletline/inventory/pkg/errors"
)

// --- Mock WarehouseRepository ---

type mockWarehouseRepo struct {
	mock.Mock
}

func (m *mockWarehouseRepo) Create(ctx context.Context, warehouse *domain.Warehouse) (*domain.Warehouse, error) {
	args := m.Called(ctx, warehouse)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Warehouse), args.Error(1)
}

func (m *mockWarehouseRepo) List(ctx context.Context) ([]domain.Warehouse, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Warehouse), args.Error(1)
}

func (m *mockWarehouseRepo) GetByID(ctx context.Context, id string) (*domain.Warehouse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Warehouse), args.Error(1)
}

func (m *mockWarehouseRepo) GetByCode(ctx context.Context, code string) (*domain.Warehouse, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Warehouse), args.Error(1)
}

func (m *mockWarehouseRepo) GetDefault(ctx context.Context) (*domain.Warehouse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Warehouse), args.Error(1)
}

// --- Mock LevelStore ---

type mockLevelStore struct {
	mock.Mock
}

func (m *mockLevelStore) Get(ctx context.Context, variantID, warehouseID string) (*domain.StockLevel, error) {
	args := m.Called(ctx, variantID, warehouseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StockLevel), args.Error(1)
}

func (m *mockLevelStore) ListByVariant(ctx context.Context, variantID string) ([]domain.StockLevel, error) {
	args := m.Called(ctx, variantID)
	return args.Get(0).([]domain.StockLevel), args.Error(1)
}

func (m *mockLevelStore) ListByVariants(ctx context.Context, variantIDs []string) ([]domain.StockLevel, error) {
	args := m.Called(ctx, variantIDs)
	return args.Get(0).([]domain.StockLevel), args.Error(1)
}

func (m *mockLevelStore) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockLevel, int, error) {
	args := m.Called(ctx, page, perPage)
	return args.Get(0).([]domain.StockLevel), args.Int(1), args.Error(2)
}

// --- Mock MoveLedger ---

type mockMoveLedger struct {
	mock.Mock
}

func (m *mockMoveLedger) List(ctx context.Context, filter domain.MoveFilter, page, perPage int) ([]domain.StockMove, int, error) {
	args := m.Called(ctx, filter, page, perPage)
	return args.Get(0).([]domain.StockMove), args.Int(1), args.Error(2)
}

// --- Mock CatalogClient ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ResolveVariants(ctx context.Context, productKey string) (string, []string, error) {
	args := m.Called(ctx, productKey)
	return args.String(0), args.Get(1).([]string), args.Error(2)
}

// --- Stub Publisher ---

type stubPublisher struct {
	mu        sync.Mutex
	updated   []*domain.StockLevel
	lowStock  []*domain.StockLevel
	reserved  []*domain.StockMove
	released  []*domain.StockMove
	committed []*domain.StockMove
}

func (p *stubPublisher) PublishLevelUpdated(_ context.Context, level *domain.StockLevel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, level)
	return nil
}

func (p *stubPublisher) PublishLowStock(_ context.Context, level *domain.StockLevel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowStock = append(p.lowStock, level)
	return nil
}

func (p *stubPublisher) PublishReserved(_ context.Context, move *domain.StockMove) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved = append(p.reserved, move)
	return nil
}

func (p *stubPublisher) PublishReleased(_ context.Context, move *domain.StockMove) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, move)
	return nil
}

func (p *stubPublisher) PublishCommitted(_ context.Context, move *domain.StockMove) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = append(p.committed, move)
	return nil
}

// --- Test Helpers ---

const (
	testVariantID = "aaaaaaaa-0000-0000-0000-000000000001"
	mainWhID      = "11111111-0000-0000-0000-000000000001"
	backupWhID    = "22222222-0000-0000-0000-000000000002"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type engineFixture struct {
	engine     *Engine
	pool       pgxmock.PgxPoolIface
	warehouses *mockWarehouseRepo
	levels     *mockLevelStore
	moves      *mockMoveLedger
	catalog    *mockCatalog
	events     *stubPublisher
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	pool, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	f := &engineFixture{
		pool:       pool,
		warehouses: new(mockWarehouseRepo),
		levels:     new(mockLevelStore),
		moves:      new(mockMoveLedger),
		catalog:    new(mockCatalog),
		events:     &stubPublisher{},
	}
	f.engine = New(pool, f.levels, f.moves, f.warehouses, f.catalog, f.events, newTestLogger())
	return f
}

func mainWarehouse() *domain.Warehouse {
	return &domain.Warehouse{ID: mainWhID, Code: "MAIN", Name: "Main warehouse", IsDefault: true}
}

func backupWarehouse() *domain.Warehouse {
	return &domain.Warehouse{ID: backupWhID, Code: "BACKUP", Name: "Backup warehouse"}
}

var lockColumns = []string{"id", "product_id", "qty_on_hand", "qty_reserved", "low_stock_threshold", "version"}

func lockRow(onHand, reserved, threshold int) *pgxmock.Rows {
	return pgxmock.NewRows(lockColumns).
		AddRow("level-1", (*string)(nil), onHand, reserved, threshold, int64(1))
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func moveReturning(id int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "created_at"}).
		AddRow(id, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
}

func expectTxOpen(pool pgxmock.PgxPoolIface) {
	pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
}

// --- Receive ---

func TestReceive_CreatesRowLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectExec("INSERT INTO stock_levels").
		WithArgs(testVariantID, (*string)(nil), mainWhID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(0, 0, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(5, 0, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(1))
	f.pool.ExpectCommit()

	result, err := f.engine.Receive(ctx, OpRequest{VariantID: testVariantID, Qty: 5})
	require.NoError(t, err)

	level := result.Levels[0]
	assert.Equal(t, 5, level.QtyOnHand)
	assert.Equal(t, 0, level.QtyReserved)
	assert.Equal(t, int64(2), level.Version)

	assert.Equal(t, domain.MoveTypeIn, result.Move.Type)
	assert.Equal(t, 5, result.Move.Qty)
	assert.Equal(t, 5, result.Move.QtyOnHandAfter)
	assert.Equal(t, 0, result.Move.QtyReservedAfter)
	require.NotNil(t, result.Move.WarehouseID)
	assert.Equal(t, mainWhID, *result.Move.WarehouseID)

	assert.Len(t, f.events.updated, 1)
	assert.Empty(t, f.events.lowStock)
	assert.NoError(t, f.pool.ExpectationsWereMet())
	f.warehouses.AssertExpectations(t)
}

func TestReceive_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	for _, qty := range []int{0, -3} {
		result, err := f.engine.Receive(context.Background(), OpRequest{VariantID: testVariantID, Qty: qty})
		assert.Nil(t, result)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	}
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestReceive_UnknownWarehouseCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetByCode", ctx, "NOPE").Return(nil, domain.ErrUnknownWarehouse("NOPE"))

	result, err := f.engine.Receive(ctx, OpRequest{VariantID: testVariantID, WarehouseCode: "NOPE", Qty: 5})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Commit ---

func TestCommit_DeductsOnHandAndReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderID := "order-42"

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 5, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(7, 2, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(2))
	f.pool.ExpectCommit()

	result, err := f.engine.Commit(ctx, OpRequest{VariantID: testVariantID, Qty: 3, OrderID: &orderID})
	require.NoError(t, err)

	level := result.Levels[0]
	assert.Equal(t, 7, level.QtyOnHand)
	assert.Equal(t, 2, level.QtyReserved)
	assert.Equal(t, 5, level.Available())

	assert.Equal(t, domain.MoveTypeCommit, result.Move.Type)
	assert.Equal(t, 7, result.Move.QtyOnHandAfter)
	assert.Equal(t, 2, result.Move.QtyReservedAfter)
	require.NotNil(t, result.Move.OrderID)
	assert.Equal(t, orderID, *result.Move.OrderID)

	assert.Len(t, f.events.committed, 1)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestCommit_MoreThanReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 2, 0))
	f.pool.ExpectRollback()

	result, err := f.engine.Commit(ctx, OpRequest{VariantID: testVariantID, Qty: 3})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "insufficient stock")
	assert.Empty(t, f.events.committed)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Adjust ---

func TestAdjust_NegativeBelowReservedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 8, 0))
	f.pool.ExpectRollback()

	// 10 - 5 = 5 would drop on-hand below the 8 reserved.
	result, err := f.engine.Adjust(ctx, OpRequest{VariantID: testVariantID, Qty: -5})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestAdjust_NegativeWithinAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 8, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(8, 8, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(3))
	f.pool.ExpectCommit()

	result, err := f.engine.Adjust(ctx, OpRequest{VariantID: testVariantID, Qty: -2, Reason: "damage"})
	require.NoError(t, err)

	assert.Equal(t, 8, result.Levels[0].QtyOnHand)
	assert.Equal(t, 8, result.Levels[0].QtyReserved)
	assert.Equal(t, domain.MoveTypeAdjust, result.Move.Type)
	assert.Equal(t, 2, result.Move.Qty)
	assert.Equal(t, domain.DirectionOut, result.Move.Direction)
	assert.Equal(t, "damage", result.Move.Reason)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestAdjust_ZeroRejected(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Adjust(context.Background(), OpRequest{VariantID: testVariantID, Qty: 0})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAdjust_PositiveCreatesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectExec("INSERT INTO stock_levels").
		WithArgs(testVariantID, (*string)(nil), mainWhID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(0, 0, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(4, 0, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(4))
	f.pool.ExpectCommit()

	result, err := f.engine.Adjust(ctx, OpRequest{VariantID: testVariantID, Qty: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Levels[0].QtyOnHand)
	assert.Equal(t, domain.DirectionIn, result.Move.Direction)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Reserve / Release ---

func TestReserve_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cartID := "cart-9"

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 2, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(10, 5, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(5))
	f.pool.ExpectCommit()

	result, err := f.engine.Reserve(ctx, OpRequest{VariantID: testVariantID, Qty: 3, CartID: &cartID})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Levels[0].QtyOnHand)
	assert.Equal(t, 5, result.Levels[0].QtyReserved)
	assert.Len(t, f.events.reserved, 1)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestReserve_InsufficientAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 8, 0))
	f.pool.ExpectRollback()

	result, err := f.engine.Reserve(ctx, OpRequest{VariantID: testVariantID, Qty: 3})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "requested 3, available 2")
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestReserve_MissingRowReadsAsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnError(pgx.ErrNoRows)
	f.pool.ExpectRollback()

	result, err := f.engine.Reserve(ctx, OpRequest{VariantID: testVariantID, Qty: 1})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "available 0")
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestRelease_MoreThanReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 2, 0))
	f.pool.ExpectRollback()

	result, err := f.engine.Release(ctx, OpRequest{VariantID: testVariantID, Qty: 5})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestRelease_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 5, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(10, 2, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(6))
	f.pool.ExpectCommit()

	result, err := f.engine.Release(ctx, OpRequest{VariantID: testVariantID, Qty: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Levels[0].QtyReserved)
	assert.Len(t, f.events.released, 1)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Transfer ---

func TestTransfer_ConservesTotalOnHand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetByCode", ctx, "MAIN").Return(mainWarehouse(), nil)
	f.warehouses.On("GetByCode", ctx, "BACKUP").Return(backupWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectExec("INSERT INTO stock_levels").
		WithArgs(testVariantID, (*string)(nil), backupWhID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Rows lock in warehouse-id order: MAIN (11...) before BACKUP (22...).
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 2, 0))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, backupWhID).
		WillReturnRows(lockRow(0, 0, 0))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(6, 2, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(4, 0, testVariantID, backupWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(12)...).
		WillReturnRows(moveReturning(7))
	f.pool.ExpectCommit()

	result, err := f.engine.Transfer(ctx, TransferRequest{
		VariantID:         testVariantID,
		FromWarehouseCode: "MAIN",
		ToWarehouseCode:   "BACKUP",
		Qty:               4,
	})
	require.NoError(t, err)
	require.Len(t, result.Levels, 2)

	source, dest := result.Levels[0], result.Levels[1]
	assert.Equal(t, 6, source.QtyOnHand)
	assert.Equal(t, 4, dest.QtyOnHand)
	assert.Equal(t, 10, source.QtyOnHand+dest.QtyOnHand)
	assert.Equal(t, 2, source.QtyReserved)

	assert.Equal(t, domain.MoveTypeTransfer, result.Move.Type)
	assert.Nil(t, result.Move.WarehouseID)
	require.NotNil(t, result.Move.FromWarehouseID)
	require.NotNil(t, result.Move.ToWarehouseID)
	assert.Equal(t, 6, result.Move.QtyOnHandAfter)

	assert.Len(t, f.events.updated, 2)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestTransfer_ReservedStockStaysBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetByCode", ctx, "MAIN").Return(mainWarehouse(), nil)
	f.warehouses.On("GetByCode", ctx, "BACKUP").Return(backupWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectExec("INSERT INTO stock_levels").
		WithArgs(testVariantID, (*string)(nil), backupWhID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 7, 0))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, backupWhID).
		WillReturnRows(lockRow(0, 0, 0))
	f.pool.ExpectRollback()

	// Only 3 available; moving 4 would strand the reservation.
	result, err := f.engine.Transfer(ctx, TransferRequest{
		VariantID:         testVariantID,
		FromWarehouseCode: "MAIN",
		ToWarehouseCode:   "BACKUP",
		Qty:               4,
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "requested 4, available 3")
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestTransfer_SameWarehouseRejected(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Transfer(context.Background(), TransferRequest{
		VariantID:         testVariantID,
		FromWarehouseCode: "MAIN",
		ToWarehouseCode:   "MAIN",
		Qty:               4,
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestTransfer_MissingSourceRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetByCode", ctx, "MAIN").Return(mainWarehouse(), nil)
	f.warehouses.On("GetByCode", ctx, "BACKUP").Return(backupWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectExec("INSERT INTO stock_levels").
		WithArgs(testVariantID, (*string)(nil), backupWhID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnError(pgx.ErrNoRows)
	f.pool.ExpectRollback()

	result, err := f.engine.Transfer(ctx, TransferRequest{
		VariantID:         testVariantID,
		FromWarehouseCode: "MAIN",
		ToWarehouseCode:   "BACKUP",
		Qty:               1,
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Retry / conflict surfacing ---

func TestOperation_SerializationFailureRetriesThenConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	serErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	for i := 0; i < maxTxAttempts; i++ {
		f.pool.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted}).WillReturnError(serErr)
	}

	result, err := f.engine.Reserve(ctx, OpRequest{VariantID: testVariantID, Qty: 1})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "CONCURRENT_CONFLICT")
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

func TestOperation_NonRetryableErrorSurfacesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnError(&pgconn.PgError{Code: "57014", Message: "canceling statement"})
	f.pool.ExpectRollback()

	result, err := f.engine.Reserve(ctx, OpRequest{VariantID: testVariantID, Qty: 1})
	assert.Nil(t, result)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lock stock level")
	assert.NoError(t, f.pool.ExpectationsWereMet())
}

// --- Low stock event ---

func TestOperation_LowStockEventWhenAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.warehouses.On("GetDefault", ctx).Return(mainWarehouse(), nil)

	expectTxOpen(f.pool)
	f.pool.ExpectQuery("SELECT .+ FROM stock_levels .+ FOR UPDATE").
		WithArgs(testVariantID, mainWhID).
		WillReturnRows(lockRow(10, 5, 5))
	f.pool.ExpectExec("UPDATE stock_levels").
		WithArgs(7, 2, testVariantID, mainWhID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.pool.ExpectQuery("INSERT INTO stock_moves").
		WithArgs(anyArgs(13)...).
		WillReturnRows(moveReturning(8))
	f.pool.ExpectCommit()

	// Resulting availability 7-2 = 5 sits exactly at the threshold.
	result, err := f.engine.Commit(ctx, OpRequest{VariantID: testVariantID, Qty: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Levels[0].Available())
	assert.Len(t, f.events.lowStock, 1)
	assert.NoError(t, f.pool.ExpectationsWereMet())
}
