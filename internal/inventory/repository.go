package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository serves read access to stock rows outside transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches one stock row.
func (r *Repository) Get(ctx context.Context, productID, shopID int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT product_id, shop_id, quantity, shop_cost, updated_at
FROM inventory_items WHERE product_id = $1 AND shop_id = $2`, productID, shopID).
		Scan(&item.ProductID, &item.ShopID, &item.Quantity, &item.ShopCost, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{ProductID: productID, ShopID: shopID}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListForProduct returns every stock row for the product holding quantity.
// Used by the global WAC recomputation.
func (r *Repository) ListForProduct(ctx context.Context, productID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, shop_id, quantity, shop_cost, updated_at
FROM inventory_items WHERE product_id = $1 AND quantity > 0 ORDER BY shop_id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.ShopID, &item.Quantity, &item.ShopCost, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListByShop returns every stock row held at the shop.
func (r *Repository) ListByShop(ctx context.Context, shopID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, shop_id, quantity, shop_cost, updated_at
FROM inventory_items WHERE shop_id = $1 ORDER BY product_id ASC`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.ShopID, &item.Quantity, &item.ShopCost, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// TxStore exposes stock row mutations bound to an open transaction. Stock is
// only ever mutated through a TxStore so ledger state and inventory state
// move together.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetForUpdate locks the stock row and returns it. The row lock is what
// prevents two transfers from double-spending the same quantity.
func (s *TxStore) GetForUpdate(ctx context.Context, productID, shopID int64) (Item, error) {
	var item Item
	err := s.tx.QueryRow(ctx, `SELECT product_id, shop_id, quantity, shop_cost, updated_at
FROM inventory_items WHERE product_id = $1 AND shop_id = $2 FOR UPDATE`, productID, shopID).
		Scan(&item.ProductID, &item.ShopID, &item.Quantity, &item.ShopCost, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{ProductID: productID, ShopID: shopID}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// Save upserts the stock row. Rows are never deleted; a quantity of 0 keeps
// the cost history in place.
func (s *TxStore) Save(ctx context.Context, item Item) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO inventory_items (product_id, shop_id, quantity, shop_cost, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (product_id, shop_id) DO UPDATE SET quantity = EXCLUDED.quantity, shop_cost = EXCLUDED.shop_cost, updated_at = NOW()`,
		item.ProductID, item.ShopID, item.Quantity, item.ShopCost)
	return err
}

// Get reads the stock row inside the transaction without locking it.
func (s *TxStore) Get(ctx context.Context, productID, shopID int64) (Item, error) {
	var item Item
	err := s.tx.QueryRow(ctx, `SELECT product_id, shop_id, quantity, shop_cost, updated_at
FROM inventory_items WHERE product_id = $1 AND shop_id = $2`, productID, shopID).
		Scan(&item.ProductID, &item.ShopID, &item.Quantity, &item.ShopCost, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{ProductID: productID, ShopID: shopID}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}
