package domain

import (
	"time"
)

// Warehouse is a fulfillment location. Code is unique; IsDefault marks the
// fallback location used when a caller omits warehouse context.
type Warehouse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}
