package transfers

import (
	"time"

	"github.com/stockline-erp/stockline/internal/shared"
)

// Request variants are closed: the boundary validates each shape before any
// orchestration code runs.

// ItemRequest is one product line of a create request.
type ItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// CreateRequest asks for a new pending transfer.
type CreateRequest struct {
	SourceShopID      int64         `json:"source_shop_id" validate:"required,gt=0"`
	DestinationShopID int64         `json:"destination_shop_id" validate:"required,gt=0,nefield=SourceShopID"`
	Items             []ItemRequest `json:"items" validate:"required,min=1,dive"`
	// Code is an optional client-supplied idempotency token.
	Code string `json:"code,omitempty" validate:"omitempty,max=64"`
}

// CompleteRequest asks to complete a pending transfer.
type CompleteRequest struct {
	TransferID int64 `json:"transfer_id" validate:"required,gt=0"`
}

// CancelRequest asks to cancel a pending transfer.
type CancelRequest struct {
	TransferID int64 `json:"transfer_id" validate:"required,gt=0"`
}

// BatchTransitionRequest carries transfer ids for batch complete/cancel.
type BatchTransitionRequest struct {
	TransferIDs []int64 `json:"transfer_ids" validate:"required,min=1,dive,gt=0"`
}

// BatchCreateRequest carries transfer specs for batch creation.
type BatchCreateRequest struct {
	Transfers []CreateRequest `json:"transfers" validate:"required,min=1,dive"`
}

// ListRequest mirrors the query parameters of the listing endpoint.
type ListRequest struct {
	Page              int    `json:"page" validate:"gte=0"`
	PerPage           int    `json:"per_page" validate:"gte=0,lte=100"`
	Status            string `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	ShopID            int64  `json:"shop_id" validate:"gte=0"`
	SourceShopID      int64  `json:"source_shop_id" validate:"gte=0"`
	DestinationShopID int64  `json:"destination_shop_id" validate:"gte=0"`
	From              string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To                string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Search            string `json:"search" validate:"omitempty,max=100"`
}

// Filter converts the request to a domain filter.
func (r ListRequest) Filter() ListFilter {
	f := ListFilter{
		Page:              r.Page,
		PerPage:           r.PerPage,
		Status:            Status(r.Status),
		ShopID:            r.ShopID,
		SourceShopID:      r.SourceShopID,
		DestinationShopID: r.DestinationShopID,
		Search:            r.Search,
	}
	if r.From != "" {
		f.From, _ = time.Parse("2006-01-02", r.From)
	}
	if r.To != "" {
		to, _ := time.Parse("2006-01-02", r.To)
		f.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	return f
}

// ListResult is the cached payload of the listing endpoint.
type ListResult struct {
	Transfers  []Transfer        `json:"transfers"`
	Pagination shared.Pagination `json:"pagination"`
}

// BatchItemResult reports the outcome of one transfer inside a batch.
type BatchItemResult struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// ErrorKind carries the machine-readable classification when Success is false.
	ErrorKind string `json:"error_kind,omitempty"`
}

// BatchSummary aggregates a batch outcome.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResponse is the return contract of every batch operation.
type BatchResponse struct {
	Results []BatchItemResult `json:"results"`
	Summary BatchSummary      `json:"summary"`
}

func summarize(results []BatchItemResult) BatchSummary {
	summary := BatchSummary{Total: len(results)}
	for _, res := range results {
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return summary
}
