package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/stockline-erp/stockline/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog master data operations.
type Service struct {
	repo  *Repository
	audit AuditPort
}

// NewService builds Service.
func NewService(repo *Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// ListProducts returns a filtered product page with pagination metadata.
func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, shared.Pagination, error) {
	products, total, err := s.repo.ListProducts(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, shared.StorageError(err)
	}
	return products, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// GetProduct fetches a single product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		if err == ErrProductNotFound {
			return Product{}, shared.NotFoundf("product %d not found", id)
		}
		return Product{}, shared.StorageError(err)
	}
	return product, nil
}

// CreateProduct validates and inserts a product.
func (s *Service) CreateProduct(ctx context.Context, actorID int64, sku, name string) (Product, error) {
	sku = strings.TrimSpace(sku)
	name = strings.TrimSpace(name)
	if sku == "" || name == "" {
		return Product{}, shared.Validationf("sku and name are required")
	}
	product, err := s.repo.CreateProduct(ctx, sku, name)
	if err != nil {
		if err == ErrSKUTaken {
			return Product{}, shared.Conflictf("sku %q already in use", sku)
		}
		return Product{}, shared.StorageError(err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "catalog:product_created",
			Entity:   "product",
			EntityID: strconv.FormatInt(product.ID, 10),
			Meta:     map[string]any{"sku": product.SKU, "name": product.Name},
		})
	}
	return product, nil
}

// DeleteProduct removes a product when no pending transfers reference it.
func (s *Service) DeleteProduct(ctx context.Context, actorID, id int64) error {
	err := s.repo.DeleteProduct(ctx, id)
	switch err {
	case nil:
	case ErrProductNotFound:
		return shared.NotFoundf("product %d not found", id)
	case ErrProductReferenced:
		return shared.Conflictf("product %d is referenced by pending transfers", id)
	default:
		return shared.StorageError(err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "catalog:product_deleted",
			Entity:   "product",
			EntityID: strconv.FormatInt(id, 10),
		})
	}
	return nil
}

// ListShops returns shops, optionally only active ones.
func (s *Service) ListShops(ctx context.Context, activeOnly bool) ([]Shop, error) {
	shops, err := s.repo.ListShops(ctx, activeOnly)
	if err != nil {
		return nil, shared.StorageError(err)
	}
	return shops, nil
}

// CreateShop validates and inserts a shop.
func (s *Service) CreateShop(ctx context.Context, actorID int64, name string) (Shop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Shop{}, shared.Validationf("shop name is required")
	}
	shop, err := s.repo.CreateShop(ctx, name)
	if err != nil {
		return Shop{}, shared.StorageError(err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "catalog:shop_created",
			Entity:   "shop",
			EntityID: strconv.FormatInt(shop.ID, 10),
			Meta:     map[string]any{"name": shop.Name},
		})
	}
	return shop, nil
}
