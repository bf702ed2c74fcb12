package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/internal/engine"
	"github.com/palletline/inventory/pkg/httputil"
	"github.com/palletline/inventory/pkg/pagination"
	"github.com/palletline/inventory/pkg/validator"
)

// InventoryService defines the engine surface the HTTP layer depends on.
// *engine.Engine satisfies this.
type InventoryService interface {
	Receive(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Adjust(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Reserve(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Release(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Commit(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Transfer(ctx context.Context, req engine.TransferRequest) (*engine.Result, error)

	VariantLevels(ctx context.Context, variantID string) ([]domain.LevelView, error)
	ProductLevels(ctx context.Context, productKey string) ([]domain.LevelView, error)
	Moves(ctx context.Context, filter domain.MoveFilter, page, perPage int) ([]domain.StockMove, int, error)
	LowStock(ctx context.Context, page, perPage int) ([]domain.LevelView, int, error)
	SetLowStockThreshold(ctx context.Context, variantID, warehouseID string, threshold int) (*domain.StockLevel, error)

	CreateWarehouse(ctx context.Context, code, name string) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
}

// InventoryHandler handles HTTP requests for inventory endpoints.
type InventoryHandler struct {
	service InventoryService
	logger  *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(svc InventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: svc,
		logger:  logger,
	}
}

// decodeBody decodes and validates a JSON request body into dst. The body is
// capped at 1MB. On failure the error response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}

	return true
}

// --- Request DTOs ---

// OperationRequest is the shared JSON envelope for the single-warehouse write
// endpoints. Qty constraints differ per operation (receive requires positive,
// adjust allows any non-zero delta), so the engine owns quantity validation
// and answers with INVALID_QUANTITY.
type OperationRequest struct {
	VariantID     string  `json:"variant_id" validate:"required,uuid"`
	ProductID     *string `json:"product_id" validate:"omitempty,uuid"`
	WarehouseCode string  `json:"warehouse_code" validate:"omitempty,max=32"`
	Qty           int     `json:"qty"`
	Reason        string  `json:"reason" validate:"omitempty,max=64"`
	Note          string  `json:"note" validate:"omitempty,max=512"`
	PerformedBy   *string `json:"performed_by" validate:"omitempty,max=64"`
	OrderID       *string `json:"order_id" validate:"omitempty,max=64"`
	CartID        *string `json:"cart_id" validate:"omitempty,max=64"`
}

func (r *OperationRequest) toOpRequest() engine.OpRequest {
	return engine.OpRequest{
		VariantID:     r.VariantID,
		ProductID:     r.ProductID,
		WarehouseCode: r.WarehouseCode,
		Qty:           r.Qty,
		Reason:        r.Reason,
		Note:          r.Note,
		PerformedBy:   r.PerformedBy,
		OrderID:       r.OrderID,
		CartID:        r.CartID,
	}
}

// TransferRequest is the JSON request body for moving stock between warehouses.
type TransferRequest struct {
	VariantID         string  `json:"variant_id" validate:"required,uuid"`
	FromWarehouseCode string  `json:"from_warehouse_code" validate:"required,max=32"`
	ToWarehouseCode   string  `json:"to_warehouse_code" validate:"required,max=32"`
	Qty               int     `json:"qty"`
	Reason            string  `json:"reason" validate:"omitempty,max=64"`
	Note              string  `json:"note" validate:"omitempty,max=512"`
	PerformedBy       *string `json:"performed_by" validate:"omitempty,max=64"`
}

// ThresholdRequest is the JSON request body for setting a low-stock threshold.
type ThresholdRequest struct {
	Threshold int `json:"threshold" validate:"gte=0"`
}

// --- Write handlers ---

// operation runs one single-warehouse write endpoint.
func (h *InventoryHandler) operation(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, req engine.OpRequest) (*engine.Result, error),
) {
	var req OperationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := op(r.Context(), req.toOpRequest())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// Receive handles POST /api/v1/inventory/receive
func (h *InventoryHandler) Receive(w http.ResponseWriter, r *http.Request) {
	h.operation(w, r, h.service.Receive)
}

// Adjust handles POST /api/v1/inventory/adjust
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.operation(w, r, h.service.Adjust)
}

// Reserve handles POST /api/v1/inventory/reserve
func (h *InventoryHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.operation(w, r, h.service.Reserve)
}

// Release handles POST /api/v1/inventory/release
func (h *InventoryHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.operation(w, r, h.service.Release)
}

// Commit handles POST /api/v1/inventory/commit
func (h *InventoryHandler) Commit(w http.ResponseWriter, r *http.Request) {
	h.operation(w, r, h.service.Commit)
}

// Transfer handles POST /api/v1/inventory/transfer
func (h *InventoryHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Transfer(r.Context(), engine.TransferRequest{
		VariantID:         req.VariantID,
		FromWarehouseCode: req.FromWarehouseCode,
		ToWarehouseCode:   req.ToWarehouseCode,
		Qty:               req.Qty,
		Reason:            req.Reason,
		Note:              req.Note,
		PerformedBy:       req.PerformedBy,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// SetThreshold handles PUT /api/v1/inventory/variants/{variantId}/warehouses/{warehouseId}/threshold
func (h *InventoryHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}
	warehouseID, ok := httputil.ParseUUID(w, chi.URLParam(r, "warehouseId"))
	if !ok {
		return
	}

	var req ThresholdRequest
	if !decodeBody(w, r, &req) {
		return
	}

	level, err := h.service.SetLowStockThreshold(r.Context(), variantID.String(), warehouseID.String(), req.Threshold)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: level})
}

// --- Read handlers ---

// GetVariantLevels handles GET /api/v1/inventory/variants/{variantId}/levels
func (h *InventoryHandler) GetVariantLevels(w http.ResponseWriter, r *http.Request) {
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}

	levels, err := h.service.VariantLevels(r.Context(), variantID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: levels})
}

// GetProductLevels handles GET /api/v1/inventory/products/{productKey}/levels
func (h *InventoryHandler) GetProductLevels(w http.ResponseWriter, r *http.Request) {
	productKey := chi.URLParam(r, "productKey")

	levels, err := h.service.ProductLevels(r.Context(), productKey)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: levels})
}

// ListMoves handles GET /api/v1/inventory/moves
func (h *InventoryHandler) ListMoves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.MoveFilter{
		VariantID:   q.Get("variant_id"),
		WarehouseID: q.Get("warehouse_id"),
		Type:        q.Get("type"),
		Ascending:   q.Get("order") == "asc",
	}

	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "from must be an RFC 3339 timestamp"},
			})
			return
		}
		filter.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "to must be an RFC 3339 timestamp"},
			})
			return
		}
		filter.To = &ts
	}

	params := pagination.FromRequest(r)
	moves, total, err := h.service.Moves(r.Context(), filter, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse[domain.StockMove](moves, total, params.Page, params.PerPage))
}

// ListLowStock handles GET /api/v1/inventory/low-stock
func (h *InventoryHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	levels, total, err := h.service.LowStock(r.Context(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse[domain.LevelView](levels, total, params.Page, params.PerPage))
}

// --- Warehouse handlers ---

// CreateWarehouseRequest is the JSON request body for registering a warehouse.
type CreateWarehouseRequest struct {
	Code string `json:"code" validate:"required,min=2,max=32"`
	Name string `json:"name" validate:"required,max=128"`
}

// CreateWarehouse handles POST /api/v1/warehouses
func (h *InventoryHandler) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req CreateWarehouseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	warehouse, err := h.service.CreateWarehouse(r.Context(), req.Code, req.Name)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: warehouse})
}

// ListWarehouses handles GET /api/v1/warehouses
func (h *InventoryHandler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: warehouses})
}
