package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is master data with the globally blended acquisition cost. The
// GlobalWAC column is written only by the costing service.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	GlobalWAC decimal.Decimal `json:"global_wac"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Shop is a stock-holding location. Read-only from the transfer engine's
// perspective.
type Shop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search  string
	Page    int
	PerPage int
}

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrShopNotFound indicates a missing shop row.
var ErrShopNotFound = errors.New("catalog: shop not found")

// ErrSKUTaken indicates a duplicate SKU.
var ErrSKUTaken = errors.New("catalog: sku already in use")

// ErrProductReferenced indicates the product is referenced by open transfers
// and may not be deleted.
var ErrProductReferenced = errors.New("catalog: product referenced by pending transfers")
