package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopspring/decimal"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListProducts returns a filtered page of products plus the total count.
func (r *Repository) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	query := `SELECT id, sku, name, global_wac, created_at, updated_at FROM products WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM products WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		clause := ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR sku ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += clause
		countQuery += clause
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filters.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query += ` ORDER BY sku ASC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.GlobalWAC, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// GetProduct fetches a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, global_wac, created_at, updated_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.GlobalWAC, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// CreateProduct inserts a product with a zero global WAC.
func (r *Repository) CreateProduct(ctx context.Context, sku, name string) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, global_wac, created_at, updated_at)
VALUES ($1, $2, 0, NOW(), NOW())
RETURNING id, sku, name, global_wac, created_at, updated_at`, sku, name).
		Scan(&p.ID, &p.SKU, &p.Name, &p.GlobalWAC, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, ErrSKUTaken
		}
		return Product{}, err
	}
	return p, nil
}

// DeleteProduct removes a product unless open transfers reference it.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	var referenced bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM transfer_items ti
JOIN inventory_transfers t ON t.id = ti.transfer_id
WHERE ti.product_id = $1 AND t.status = 'pending')`, id).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return ErrProductReferenced
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// SetGlobalWAC persists the recomputed global weighted-average cost.
// Called only by the costing service.
func (r *Repository) SetGlobalWAC(ctx context.Context, productID int64, wac decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET global_wac = $1, updated_at = NOW() WHERE id = $2`, wac, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ListShops returns every shop ordered by name.
func (r *Repository) ListShops(ctx context.Context, activeOnly bool) ([]Shop, error) {
	query := `SELECT id, name, is_active, created_at FROM shops`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	shops := []Shop{}
	for rows.Next() {
		var s Shop
		if err := rows.Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		shops = append(shops, s)
	}
	return shops, rows.Err()
}

// GetShop fetches a shop by id.
func (r *Repository) GetShop(ctx context.Context, id int64) (Shop, error) {
	var s Shop
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_active, created_at FROM shops WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shop{}, ErrShopNotFound
		}
		return Shop{}, err
	}
	return s, nil
}

// CreateShop inserts a shop.
func (r *Repository) CreateShop(ctx context.Context, name string) (Shop, error) {
	var s Shop
	err := r.pool.QueryRow(ctx, `INSERT INTO shops (name, is_active, created_at) VALUES ($1, TRUE, NOW())
RETURNING id, name, is_active, created_at`, name).Scan(&s.ID, &s.Name, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return Shop{}, err
	}
	return s, nil
}
