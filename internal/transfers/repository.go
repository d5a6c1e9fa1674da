package transfers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/platform/db"
)

// Repository persists the transfer ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InventoryTx is the slice of the inventory store usable inside one atomic
// unit.
type InventoryTx interface {
	Get(ctx context.Context, productID, shopID int64) (inventory.Item, error)
	GetForUpdate(ctx context.Context, productID, shopID int64) (inventory.Item, error)
	Save(ctx context.Context, item inventory.Item) error
}

// TxRepository exposes the ledger and inventory operations available inside
// one atomic unit. Inventory rows may only be mutated here so ledger state
// and stock state always move together.
type TxRepository interface {
	InsertTransfer(ctx context.Context, transfer Transfer) (int64, error)
	InsertItems(ctx context.Context, transferID int64, items []Item) error
	GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error)
	SetStatus(ctx context.Context, id int64, status Status, completedAt time.Time) error
	GetItems(ctx context.Context, transferID int64) ([]Item, error)
	Inventory() InventoryTx
	// WithSavepoint runs fn inside a nested transaction so a failing batch
	// item rolls back alone without aborting its siblings.
	WithSavepoint(ctx context.Context, fn func(TxRepository) error) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetTransfer fetches a header with its items. Items come back in ascending
// product id order.
func (r *Repository) GetTransfer(ctx context.Context, id int64) (WithItems, error) {
	var result WithItems
	err := r.pool.QueryRow(ctx, `SELECT id, code, source_shop_id, destination_shop_id, initiated_by, status, created_at, completed_at
FROM inventory_transfers WHERE id = $1`, id).
		Scan(&result.Transfer.ID, &result.Transfer.Code, &result.Transfer.SourceShopID, &result.Transfer.DestinationShopID,
			&result.Transfer.InitiatedBy, &result.Transfer.Status, &result.Transfer.CreatedAt, &result.Transfer.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WithItems{}, ErrTransferNotFound
		}
		return WithItems{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT transfer_id, product_id, quantity FROM transfer_items WHERE transfer_id = $1 ORDER BY product_id ASC`, id)
	if err != nil {
		return WithItems{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.TransferID, &item.ProductID, &item.Quantity); err != nil {
			return WithItems{}, err
		}
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}

// List returns a filtered page of transfer headers plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	where := ``
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		add(`status = `, string(filter.Status))
	}
	if filter.ShopID != 0 {
		args = append(args, filter.ShopID)
		n := strconv.Itoa(len(args))
		where += ` AND (source_shop_id = $` + n + ` OR destination_shop_id = $` + n + `)`
	}
	if filter.SourceShopID != 0 {
		add(`source_shop_id = `, filter.SourceShopID)
	}
	if filter.DestinationShopID != 0 {
		add(`destination_shop_id = `, filter.DestinationShopID)
	}
	if !filter.From.IsZero() {
		add(`created_at >= `, filter.From)
	}
	if !filter.To.IsZero() {
		add(`created_at <= `, filter.To)
	}
	if filter.Search != "" {
		add(`code ILIKE `, "%"+filter.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transfers WHERE 1=1`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := `SELECT id, code, source_shop_id, destination_shop_id, initiated_by, status, created_at, completed_at
FROM inventory_transfers WHERE 1=1` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	result := []Transfer{}
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.Code, &t.SourceShopID, &t.DestinationShopID, &t.InitiatedBy, &t.Status, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, 0, err
		}
		result = append(result, t)
	}
	return result, total, rows.Err()
}

func (r *txRepository) InsertTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transfers (code, source_shop_id, destination_shop_id, initiated_by, status, created_at)
VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		transfer.Code, transfer.SourceShopID, transfer.DestinationShopID, transfer.InitiatedBy, string(transfer.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	for _, item := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO transfer_items (transfer_id, product_id, quantity) VALUES ($1, $2, $3)`,
			transferID, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	var t Transfer
	err := r.tx.QueryRow(ctx, `SELECT id, code, source_shop_id, destination_shop_id, initiated_by, status, created_at, completed_at
FROM inventory_transfers WHERE id = $1 FOR UPDATE`, id).
		Scan(&t.ID, &t.Code, &t.SourceShopID, &t.DestinationShopID, &t.InitiatedBy, &t.Status, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status, completedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_transfers SET status = $1, completed_at = $2 WHERE id = $3`,
		string(status), completedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (r *txRepository) GetItems(ctx context.Context, transferID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT transfer_id, product_id, quantity FROM transfer_items WHERE transfer_id = $1 ORDER BY product_id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.TransferID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) Inventory() InventoryTx {
	return inventory.NewTxStore(r.tx)
}

func (r *txRepository) WithSavepoint(ctx context.Context, fn func(TxRepository) error) error {
	nested, err := r.tx.Begin(ctx)
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: nested}
	if err := fn(wrapper); err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}
