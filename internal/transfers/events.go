package transfers

import (
	"context"
	"time"
)

// EventType names a committed transfer state transition.
type EventType string

const (
	// EventTransferCreated fires after a pending transfer is committed.
	EventTransferCreated EventType = "transfer.created"
	// EventTransferCompleted fires after destination stock is credited.
	EventTransferCompleted EventType = "transfer.completed"
	// EventTransferCancelled fires after source stock is restored.
	EventTransferCancelled EventType = "transfer.cancelled"
)

// Movement records one inventory row touched by a transition, with before and
// after quantities so audit and notification consumers need no extra reads.
type Movement struct {
	ShopID    int64 `json:"shop_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
	BeforeQty int64 `json:"before_qty"`
	AfterQty  int64 `json:"after_qty"`
}

// Event is published after each committed state transition.
type Event struct {
	Type              EventType  `json:"type"`
	TransferID        int64      `json:"transfer_id"`
	Code              string     `json:"code"`
	SourceShopID      int64      `json:"source_shop_id"`
	DestinationShopID int64      `json:"destination_shop_id"`
	ActorID           int64      `json:"actor_id"`
	At                time.Time  `json:"at"`
	Movements         []Movement `json:"movements"`
}

// IntegrationHandler consumes committed transfer events. Implemented by the
// external notification collaborator; failures are logged, never propagated
// into the write path.
type IntegrationHandler interface {
	HandleTransferEvent(ctx context.Context, event Event) error
}
