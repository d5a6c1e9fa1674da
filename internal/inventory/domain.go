package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Item is one stock row keyed by (product, shop). Quantity never goes
// negative; rows with quantity 0 are retained so cost history persists.
type Item struct {
	ProductID int64           `json:"product_id"`
	ShopID    int64           `json:"shop_id"`
	Quantity  int64           `json:"quantity"`
	ShopCost  decimal.Decimal `json:"shop_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ErrItemNotFound indicates a missing stock row.
var ErrItemNotFound = errors.New("inventory: item not found")
