package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service answers permission questions for principals. It is the sole
// authorization collaborator of the transfer engine.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// HasCapability reports whether the user holds the named capability.
func (s *Service) HasCapability(ctx context.Context, userID int64, capability string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_capabilities uc
JOIN capabilities c ON c.id = uc.capability_id
WHERE uc.user_id = $1 AND c.name IN ($2, $3))`, userID, capability, CapAdminAll).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// HasShopAccess reports whether the user is assigned to the shop or holds a
// bypassing capability.
func (s *Service) HasShopAccess(ctx context.Context, userID, shopID int64) (bool, error) {
	bypass, err := s.HasCapability(ctx, userID, CapShopManage)
	if err != nil {
		return false, err
	}
	if bypass {
		return true, nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_shops WHERE user_id = $1 AND shop_id = $2)`, userID, shopID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ShopIDsFor returns every shop the user is assigned to. Used for scoping
// listings when the user holds no bypassing capability.
func (s *Service) ShopIDsFor(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT shop_id FROM user_shops WHERE user_id = $1 ORDER BY shop_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}
