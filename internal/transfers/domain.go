package transfers

import (
	"errors"
	"time"
)

// Status enumerates the transfer lifecycle. A transfer is created pending and
// transitions exactly once to completed or cancelled.
type Status string

const (
	// StatusPending marks a created transfer whose stock left the source
	// shop but has not arrived at the destination yet.
	StatusPending Status = "pending"
	// StatusCompleted is terminal; destination stock has been credited.
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal; source stock has been restored.
	StatusCancelled Status = "cancelled"
)

// Transfer models the ledger header of a stock movement between shops.
type Transfer struct {
	ID                int64      `json:"id"`
	Code              string     `json:"code"`
	SourceShopID      int64      `json:"source_shop_id"`
	DestinationShopID int64      `json:"destination_shop_id"`
	InitiatedBy       int64      `json:"initiated_by"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Item is one product line of a transfer. Immutable once the parent transfer
// exists.
type Item struct {
	TransferID int64 `json:"transfer_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   int64 `json:"quantity"`
}

// WithItems pairs a header with its lines for detail responses.
type WithItems struct {
	Transfer Transfer `json:"transfer"`
	Items    []Item   `json:"items"`
}

// ListFilter narrows transfer listings. Shop filters match either end of the
// movement unless Source/Destination are set explicitly.
type ListFilter struct {
	Page              int
	PerPage           int
	Status            Status
	ShopID            int64
	SourceShopID      int64
	DestinationShopID int64
	From              time.Time
	To                time.Time
	Search            string
}

// ErrTransferNotFound indicates a missing ledger row.
var ErrTransferNotFound = errors.New("transfers: transfer not found")
