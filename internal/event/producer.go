package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/palletline/inventory/internal/domain"
	pkgkafka "github.com/palletline/inventory/pkg/kafka"
)

// Kafka topic constants for inventory domain events.
const (
	TopicInventoryUpdated   = "commerce.inventory.updated"
	TopicInventoryReserved  = "commerce.inventory.reserved"
	TopicInventoryReleased  = "commerce.inventory.released"
	TopicInventoryCommitted = "commerce.inventory.committed"
	TopicInventoryLowStock  = "commerce.inventory.low_stock"
)

// Aggregate type constant.
const AggregateTypeInventory = "inventory"

// Source identifier for events originating from the inventory service.
const SourceInventoryService = "inventory-service"

// LevelUpdatedData is the payload for an inventory.updated event. One event is
// published per affected (variant, warehouse) pair, so a transfer emits two.
type LevelUpdatedData struct {
	VariantID   string  `json:"variant_id"`
	ProductID   *string `json:"product_id,omitempty"`
	WarehouseID string  `json:"warehouse_id"`
	QtyOnHand   int     `json:"qty_on_hand"`
	QtyReserved int     `json:"qty_reserved"`
	Available   int     `json:"available"`
}

// MoveData is the payload for the reserved/released/committed events. It
// mirrors the ledger entry so consumers can correlate by order or cart.
type MoveData struct {
	MoveID      int64   `json:"move_id"`
	VariantID   string  `json:"variant_id"`
	WarehouseID *string `json:"warehouse_id,omitempty"`
	Qty         int     `json:"qty"`
	OrderID     *string `json:"order_id,omitempty"`
	CartID      *string `json:"cart_id,omitempty"`
}

// LowStockData is the payload for an inventory.low_stock event.
type LowStockData struct {
	VariantID         string  `json:"variant_id"`
	ProductID         *string `json:"product_id,omitempty"`
	WarehouseID       string  `json:"warehouse_id"`
	Available         int     `json:"available"`
	LowStockThreshold int     `json:"low_stock_threshold"`
}

// Producer publishes inventory domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the inventory service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishLevelUpdated publishes an inventory.updated event.
func (p *Producer) PublishLevelUpdated(ctx context.Context, level *domain.StockLevel) error {
	data := LevelUpdatedData{
		VariantID:   level.VariantID,
		ProductID:   level.ProductID,
		WarehouseID: level.WarehouseID,
		QtyOnHand:   level.QtyOnHand,
		QtyReserved: level.QtyReserved,
		Available:   level.Available(),
	}

	event, err := pkgkafka.NewEvent(TopicInventoryUpdated, level.VariantID, AggregateTypeInventory, SourceInventoryService, data)
	if err != nil {
		return fmt.Errorf("create inventory.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicInventoryUpdated, event); err != nil {
		return fmt.Errorf("publish inventory.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published inventory.updated event",
		slog.String("variant_id", level.VariantID),
		slog.String("warehouse_id", level.WarehouseID),
	)

	return nil
}

// PublishLowStock publishes an inventory.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, level *domain.StockLevel) error {
	data := LowStockData{
		VariantID:         level.VariantID,
		ProductID:         level.ProductID,
		WarehouseID:       level.WarehouseID,
		Available:         level.Available(),
		LowStockThreshold: level.LowStockThreshold,
	}

	event, err := pkgkafka.NewEvent(TopicInventoryLowStock, level.VariantID, AggregateTypeInventory, SourceInventoryService, data)
	if err != nil {
		return fmt.Errorf("create inventory.low_stock event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicInventoryLowStock, event); err != nil {
		return fmt.Errorf("publish inventory.low_stock event: %w", err)
	}

	p.logger.DebugContext(ctx, "published inventory.low_stock event",
		slog.String("variant_id", level.VariantID),
		slog.String("warehouse_id", level.WarehouseID),
		slog.Int("available", data.Available),
	)

	return nil
}

// PublishReserved publishes an inventory.reserved event.
func (p *Producer) PublishReserved(ctx context.Context, move *domain.StockMove) error {
	return p.publishMove(ctx, TopicInventoryReserved, move)
}

// PublishReleased publishes an inventory.released event.
func (p *Producer) PublishReleased(ctx context.Context, move *domain.StockMove) error {
	return p.publishMove(ctx, TopicInventoryReleased, move)
}

// PublishCommitted publishes an inventory.committed event.
func (p *Producer) PublishCommitted(ctx context.Context, move *domain.StockMove) error {
	return p.publishMove(ctx, TopicInventoryCommitted, move)
}

func (p *Producer) publishMove(ctx context.Context, topic string, move *domain.StockMove) error {
	data := MoveData{
		MoveID:      move.ID,
		VariantID:   move.VariantID,
		WarehouseID: move.WarehouseID,
		Qty:         move.Qty,
		OrderID:     move.OrderID,
		CartID:      move.CartID,
	}

	event, err := pkgkafka.NewEvent(topic, move.VariantID, AggregateTypeInventory, SourceInventoryService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published move event",
		slog.String("topic", topic),
		slog.String("variant_id", move.VariantID),
		slog.Int64("move_id", move.ID),
	)

	return nil
}
