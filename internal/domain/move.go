package domain

import (
	"time"
)

// MoveType identifies what a ledger entry did to stock. Qty is always a
// positive magnitude; the type carries the direction, so every row is
// readable on its own without sign conventions.
type MoveType string

const (
	MoveTypeIn       MoveType = "in"       // receive into a warehouse
	MoveTypeOut      MoveType = "out"      // direct issue out of a warehouse
	MoveTypeAdjust   MoveType = "adjust"   // manual correction, either direction
	MoveTypeReserve  MoveType = "reserve"  // hold against an open cart/order
	MoveTypeRelease  MoveType = "release"  // return a hold to available
	MoveTypeCommit   MoveType = "commit"   // convert a hold into a deduction
	MoveTypeTransfer MoveType = "transfer" // move on-hand between warehouses
)

// ValidMoveTypes returns the set of ledger entry types.
func ValidMoveTypes() []MoveType {
	return []MoveType{
		MoveTypeIn, MoveTypeOut, MoveTypeAdjust,
		MoveTypeReserve, MoveTypeRelease, MoveTypeCommit, MoveTypeTransfer,
	}
}

// IsValidMoveType checks whether s names a ledger entry type.
func IsValidMoveType(s string) bool {
	for _, t := range ValidMoveTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Adjust directions. Only adjust rows use Direction; for every other type the
// direction is implied by the type itself.
const (
	DirectionIn  = 1
	DirectionOut = -1
)

// StockMove is one immutable ledger entry. Rows are only ever inserted;
// corrections are new compensating moves.
//
// WarehouseID is the warehouse context for single-warehouse moves. Transfer
// rows leave it empty and carry FromWarehouseID/ToWarehouseID instead.
// QtyOnHandAfter/QtyReservedAfter snapshot the affected level immediately
// after the move (the source level for transfers).
type StockMove struct {
	ID               int64     `json:"id"`
	Type             MoveType  `json:"type"`
	VariantID        string    `json:"variant_id"`
	ProductID        *string   `json:"product_id,omitempty"`
	WarehouseID      *string   `json:"warehouse_id,omitempty"`
	FromWarehouseID  *string   `json:"from_warehouse_id,omitempty"`
	ToWarehouseID    *string   `json:"to_warehouse_id,omitempty"`
	Qty              int       `json:"qty"`
	Direction        int       `json:"-"`
	OrderID          *string   `json:"order_id,omitempty"`
	CartID           *string   `json:"cart_id,omitempty"`
	PerformedBy      *string   `json:"performed_by,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Note             string    `json:"note,omitempty"`
	QtyOnHandAfter   int       `json:"qty_on_hand_after"`
	QtyReservedAfter int       `json:"qty_reserved_after"`
	CreatedAt        time.Time `json:"created_at"`
}

// DeltaFor returns the (on-hand, reserved) deltas this move applied to the
// given warehouse. Replaying deltas oldest-first from a zero row reproduces
// the current stock level.
func (m *StockMove) DeltaFor(warehouseID string) (dOnHand, dReserved int) {
	switch m.Type {
	case MoveTypeIn:
		return m.Qty, 0
	case MoveTypeOut:
		return -m.Qty, 0
	case MoveTypeAdjust:
		return m.Direction * m.Qty, 0
	case MoveTypeReserve:
		return 0, m.Qty
	case MoveTypeRelease:
		return 0, -m.Qty
	case MoveTypeCommit:
		return -m.Qty, -m.Qty
	case MoveTypeTransfer:
		if m.FromWarehouseID != nil && *m.FromWarehouseID == warehouseID {
			return -m.Qty, 0
		}
		if m.ToWarehouseID != nil && *m.ToWarehouseID == warehouseID {
			return m.Qty, 0
		}
	}
	return 0, 0
}

// MoveFilter selects ledger entries for audit queries.
type MoveFilter struct {
	VariantID   string
	WarehouseID string
	Type        string
	From        *time.Time
	To          *time.Time
	// Ascending orders oldest-first for balance reconstruction; default is
	// newest-first for audit views.
	Ascending bool
}
