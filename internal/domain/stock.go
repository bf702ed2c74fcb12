package domain

import (
	"time"
)

// StockLevel is the current aggregate for one (variant, warehouse) pair.
// A missing row reads as all-zero; rows are created lazily on the first
// receive or positive adjust and never deleted, so a zero-quantity row keeps
// its threshold setting.
type StockLevel struct {
	ID                string    `json:"id"`
	VariantID         string    `json:"variant_id"`
	ProductID         *string   `json:"product_id,omitempty"`
	WarehouseID       string    `json:"warehouse_id"`
	QtyOnHand         int       `json:"qty_on_hand"`
	QtyReserved       int       `json:"qty_reserved"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Available returns the sellable quantity (on-hand minus reserved). It is
// computed, never stored.
func (s *StockLevel) Available() int {
	return s.QtyOnHand - s.QtyReserved
}

// CheckInvariant reports whether the row satisfies
// 0 <= qty_reserved <= qty_on_hand.
func (s *StockLevel) CheckInvariant() bool {
	return s.QtyReserved >= 0 && s.QtyReserved <= s.QtyOnHand
}

// LevelView is the read-model shape returned by the query endpoints, with the
// computed availability included.
type LevelView struct {
	VariantID         string  `json:"variant_id"`
	ProductID         *string `json:"product_id,omitempty"`
	WarehouseID       string  `json:"warehouse_id"`
	WarehouseCode     string  `json:"warehouse_code,omitempty"`
	QtyOnHand         int     `json:"qty_on_hand"`
	QtyReserved       int     `json:"qty_reserved"`
	QtyAvailable      int     `json:"qty_available"`
	LowStockThreshold int     `json:"low_stock_threshold"`
}

// NewLevelView projects a stock level into its read-model shape.
func NewLevelView(level *StockLevel) LevelView {
	return LevelView{
		VariantID:         level.VariantID,
		ProductID:         level.ProductID,
		WarehouseID:       level.WarehouseID,
		QtyOnHand:         level.QtyOnHand,
		QtyReserved:       level.QtyReserved,
		QtyAvailable:      level.Available(),
		LowStockThreshold: level.LowStockThreshold,
	}
}
