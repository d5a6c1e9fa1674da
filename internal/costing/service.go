package costing

import (
	"context"
	"errors"
	"sort"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stockline-erp/stockline/internal/inventory"
)

// InventoryReader lists stock rows for a product.
type InventoryReader interface {
	ListForProduct(ctx context.Context, productID int64) ([]inventory.Item, error)
}

// ProductCostWriter persists a recomputed global WAC.
type ProductCostWriter interface {
	SetGlobalWAC(ctx context.Context, productID int64, wac decimal.Decimal) error
}

// Service recomputes and persists product valuations. It is the sole writer
// of the product global WAC.
type Service struct {
	inventory InventoryReader
	products  ProductCostWriter
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(inventory InventoryReader, products ProductCostWriter, logger *slog.Logger) *Service {
	return &Service{inventory: inventory, products: products, logger: logger}
}

// RecomputeGlobalWAC reads every stock row holding quantity for the product,
// computes the quantity-weighted mean of shop costs and persists it.
func (s *Service) RecomputeGlobalWAC(ctx context.Context, productID int64) (decimal.Decimal, error) {
	items, err := s.inventory.ListForProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	lots := make([]Lot, 0, len(items))
	for _, item := range items {
		lots = append(lots, Lot{Qty: item.Quantity, Cost: item.ShopCost})
	}
	wac := WeightedAverage(lots)
	if err := s.products.SetGlobalWAC(ctx, productID, wac); err != nil {
		return decimal.Zero, err
	}
	return wac, nil
}

// RecomputeProducts recomputes the global WAC once per distinct product in
// ascending id order. Invoked batch-scoped, after all mutations of a batch
// are committed, so the result does not depend on per-item ordering.
func (s *Service) RecomputeProducts(ctx context.Context, productIDs []int64) error {
	seen := make(map[int64]struct{}, len(productIDs))
	distinct := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })

	var errs []error
	for _, id := range distinct {
		if _, err := s.RecomputeGlobalWAC(ctx, id); err != nil {
			if s.logger != nil {
				s.logger.Error("recompute global wac", slog.Int64("product_id", id), slog.Any("error", err))
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
