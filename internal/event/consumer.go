package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/palletline/inventory/internal/domain"
	"github.com/palletline/inventory/internal/engine"
	apperrors "github.com/palletline/inventory/pkg/errors"
	pkgkafka "github.com/palletline/inventory/pkg/kafka"
)

// Kafka topics consumed by the inventory service.
const (
	TopicOrderConfirmed = "commerce.order.confirmed"
	TopicOrderCanceled  = "commerce.order.canceled"
)

// StockOperations defines the engine surface required by the event consumer.
type StockOperations interface {
	Commit(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
	Release(ctx context.Context, req engine.OpRequest) (*engine.Result, error)
}

// OrderItem is one line of an order event payload.
type OrderItem struct {
	VariantID     string `json:"variant_id"`
	WarehouseCode string `json:"warehouse_code,omitempty"`
	Qty           int    `json:"qty"`
}

// OrderConfirmedData is the expected payload of an order.confirmed event.
type OrderConfirmedData struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

// OrderCanceledData is the expected payload of an order.canceled event.
type OrderCanceledData struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

// isPermanentFailure reports whether retrying the item could ever succeed.
// Concurrent conflicts and transient infrastructure errors are retryable;
// precondition failures are not.
func isPermanentFailure(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case domain.CodeInsufficientStock, domain.CodeInvalidQuantity,
		domain.CodeUnknownWarehouse, domain.CodeUnknownVariant:
		return true
	}
	return false
}

// Consumer processes incoming Kafka events for the inventory service.
type Consumer struct {
	logger *slog.Logger
	stock  StockOperations
}

// NewConsumer creates a new event consumer for the inventory service.
func NewConsumer(stock StockOperations, logger *slog.Logger) *Consumer {
	return &Consumer{
		stock:  stock,
		logger: logger,
	}
}

// HandleOrderConfirmed converts each item's reservation into a deduction. An
// item that fails its precondition is logged and skipped rather than retried:
// replaying the commit would never succeed, and blocking the partition
// starves every other order.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderConfirmedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal order.confirmed data: %w", err)
	}

	c.logger.InfoContext(ctx, "processing order.confirmed event",
		slog.String("order_id", data.OrderID),
		slog.Int("items", len(data.Items)),
	)

	for _, item := range data.Items {
		_, err := c.stock.Commit(ctx, engine.OpRequest{
			VariantID:     item.VariantID,
			WarehouseCode: item.WarehouseCode,
			Qty:           item.Qty,
			Reason:        "order_confirmed",
			OrderID:       &data.OrderID,
		})
		if err != nil {
			if isPermanentFailure(err) {
				c.logger.ErrorContext(ctx, "skipping uncommittable order item",
					slog.String("order_id", data.OrderID),
					slog.String("variant_id", item.VariantID),
					slog.Int("qty", item.Qty),
					slog.String("error", err.Error()),
				)
				continue
			}
			return fmt.Errorf("commit stock for order %s: %w", data.OrderID, err)
		}
	}

	c.logger.InfoContext(ctx, "stock committed for order",
		slog.String("order_id", data.OrderID),
	)

	return nil
}

// HandleOrderCanceled releases each item's reservation back to available.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCanceledData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal order.canceled data: %w", err)
	}

	c.logger.InfoContext(ctx, "processing order.canceled event",
		slog.String("order_id", data.OrderID),
		slog.Int("items", len(data.Items)),
	)

	for _, item := range data.Items {
		_, err := c.stock.Release(ctx, engine.OpRequest{
			VariantID:     item.VariantID,
			WarehouseCode: item.WarehouseCode,
			Qty:           item.Qty,
			Reason:        "order_canceled",
			OrderID:       &data.OrderID,
		})
		if err != nil {
			if isPermanentFailure(err) {
				c.logger.ErrorContext(ctx, "skipping unreleasable order item",
					slog.String("order_id", data.OrderID),
					slog.String("variant_id", item.VariantID),
					slog.Int("qty", item.Qty),
					slog.String("error", err.Error()),
				)
				continue
			}
			return fmt.Errorf("release stock for order %s: %w", data.OrderID, err)
		}
	}

	c.logger.InfoContext(ctx, "stock released for canceled order",
		slog.String("order_id", data.OrderID),
	)

	return nil
}
