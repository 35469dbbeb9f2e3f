package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrackingEntry is one row of an order's append-only status history.
type TrackingEntry struct {
	ID        int64
	OrderID   uuid.UUID
	Status    OrderStatus
	Location  string
	Note      string
	CreatedAt time.Time
}
