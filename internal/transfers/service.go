package transfers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/costing"
	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort abstracts ledger persistence for the orchestrator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (WithItems, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}

// PermissionPort is the external authorization collaborator.
type PermissionPort interface {
	HasShopAccess(ctx context.Context, userID, shopID int64) (bool, error)
	HasCapability(ctx context.Context, userID int64, capability string) (bool, error)
}

// CostingPort recomputes product valuations after committed mutations.
type CostingPort interface {
	RecomputeProducts(ctx context.Context, productIDs []int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against duplicated create submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// TransferMetrics records operation outcomes.
type TransferMetrics interface {
	ObserveTransfer(operation, outcome string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// TxTimeout bounds each transfer-mutating transaction. Zero disables
	// the deadline.
	TxTimeout time.Duration
}

// Service orchestrates the transfer lifecycle. It is the sole writer of
// transfer status and, through the transactional inventory store, of stock
// quantities and shop costs.
//
// Stock policy: quantities leave the source shop at Create, arrive at the
// destination at Complete, and return to the source at Cancel. The same
// policy applies to single and batch paths.
type Service struct {
	repo        RepositoryPort
	perms       PermissionPort
	costing     CostingPort
	cache       *Cache
	audit       AuditPort
	idempotency IdempotencyPort
	integration IntegrationHandler
	metrics     TransferMetrics
	logger      *slog.Logger
	dedup       DedupGroup
	txTimeout   time.Duration
}

// NewService builds Service.
func NewService(repo RepositoryPort, perms PermissionPort, costingSvc CostingPort, cache *Cache, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		perms:       perms,
		costing:     costingSvc,
		cache:       cache,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		txTimeout:   cfg.TxTimeout,
	}
}

// SetIntegration attaches the notification collaborator.
func (s *Service) SetIntegration(handler IntegrationHandler) {
	s.integration = handler
}

// SetMetrics attaches an optional metrics sink.
func (s *Service) SetMetrics(m TransferMetrics) {
	s.metrics = m
}

func (s *Service) observe(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveTransfer(operation, outcome)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.txTimeout)
}

// Create validates the request, reserves stock at the source shop and records
// a pending transfer, all inside one transaction.
func (s *Service) Create(ctx context.Context, actorID int64, req CreateRequest) (WithItems, error) {
	if err := validateCreate(req); err != nil {
		s.observe("create", "rejected")
		return WithItems{}, err
	}
	if err := s.authorize(ctx, actorID, req.SourceShopID, req.DestinationShopID); err != nil {
		s.observe("create", "rejected")
		return WithItems{}, err
	}

	code := req.Code
	if code == "" {
		code = uuid.NewString()
	}
	idemKey := "transfers:create:" + code
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "transfers"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.observe("create", "duplicate")
				return WithItems{}, shared.Conflictf("transfer %q already submitted", code)
			}
			return WithItems{}, shared.StorageError(err)
		}
		insertedKey = true
	}

	var created WithItems
	var movements []Movement
	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, movements, err = s.createInTx(ctx, tx, actorID, code, req)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		s.observe("create", "error")
		return WithItems{}, shared.StorageError(err)
	}
	s.observe("create", "ok")
	s.afterCommit(ctx, EventTransferCreated, created.Transfer, actorID, movements)
	return created, nil
}

// Complete credits the destination shop, blending each line's cost through
// the costing engine, and marks the transfer completed. All-or-nothing.
func (s *Service) Complete(ctx context.Context, actorID, transferID int64) (WithItems, error) {
	existing, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return WithItems{}, shared.NotFoundf("transfer %d not found", transferID)
		}
		return WithItems{}, shared.StorageError(err)
	}
	if err := s.authorize(ctx, actorID, existing.Transfer.SourceShopID, existing.Transfer.DestinationShopID); err != nil {
		s.observe("complete", "rejected")
		return WithItems{}, err
	}

	var result WithItems
	var movements []Movement
	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, movements, err = s.completeInTx(ctx, tx, actorID, transferID, false)
		return err
	})
	if err != nil {
		s.observe("complete", "error")
		return WithItems{}, shared.StorageError(err)
	}
	s.observe("complete", "ok")
	s.afterCommit(ctx, EventTransferCompleted, result.Transfer, actorID, movements)
	return result, nil
}

// Cancel restores the reserved stock to the source shop and marks the
// transfer cancelled.
func (s *Service) Cancel(ctx context.Context, actorID, transferID int64) (WithItems, error) {
	existing, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return WithItems{}, shared.NotFoundf("transfer %d not found", transferID)
		}
		return WithItems{}, shared.StorageError(err)
	}
	if err := s.authorize(ctx, actorID, existing.Transfer.SourceShopID, existing.Transfer.DestinationShopID); err != nil {
		s.observe("cancel", "rejected")
		return WithItems{}, err
	}

	var result WithItems
	var movements []Movement
	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, movements, err = s.cancelInTx(ctx, tx, actorID, transferID, false)
		return err
	})
	if err != nil {
		s.observe("cancel", "error")
		return WithItems{}, shared.StorageError(err)
	}
	s.observe("cancel", "ok")
	s.afterCommit(ctx, EventTransferCancelled, result.Transfer, actorID, movements)
	return result, nil
}

// Get returns a transfer with its items, served from cache when possible.
func (s *Service) Get(ctx context.Context, transferID int64) (WithItems, error) {
	result, err := s.cache.FetchDetail(ctx, transferID, func(ctx context.Context) (WithItems, error) {
		return s.repo.GetTransfer(ctx, transferID)
	})
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return WithItems{}, shared.NotFoundf("transfer %d not found", transferID)
		}
		return WithItems{}, shared.StorageError(err)
	}
	return result, nil
}

// List serves transfer listings through the deduplication gate and the
// cache. Concurrent identical requests share one underlying execution.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	filter := req.Filter()
	key, err := s.cache.BuildListKey(ctx, filter)
	if err != nil {
		// Advisory layer failed; degrade to a direct load.
		if s.logger != nil {
			s.logger.Warn("list cache key", slog.Any("error", err))
		}
		return s.loadList(ctx, filter)
	}
	value, err, _ := s.dedup.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.cache.FetchList(ctx, key, func(ctx context.Context) (ListResult, error) {
			return s.loadList(ctx, filter)
		})
	})
	if err != nil {
		return ListResult{}, shared.StorageError(err)
	}
	return value.(ListResult), nil
}

func (s *Service) loadList(ctx context.Context, filter ListFilter) (ListResult, error) {
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, shared.StorageError(err)
	}
	return ListResult{Transfers: rows, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

func validateCreate(req CreateRequest) error {
	if req.SourceShopID <= 0 || req.DestinationShopID <= 0 {
		return shared.Validationf("source and destination shops are required")
	}
	if req.SourceShopID == req.DestinationShopID {
		return shared.Validationf("source and destination shops must differ")
	}
	if len(req.Items) == 0 {
		return shared.Validationf("a transfer requires at least one item")
	}
	seen := make(map[int64]struct{}, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return shared.Validationf("item product id is required")
		}
		if item.Quantity <= 0 {
			return shared.Validationf("item quantity must be positive for product %d", item.ProductID)
		}
		if _, ok := seen[item.ProductID]; ok {
			return shared.Validationf("duplicate item for product %d", item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// authorize passes when the actor has access to at least one of the shops.
// Capability bypasses are resolved inside the permission collaborator.
func (s *Service) authorize(ctx context.Context, actorID int64, shopIDs ...int64) error {
	for _, shopID := range shopIDs {
		ok, err := s.perms.HasShopAccess(ctx, actorID, shopID)
		if err != nil {
			return shared.StorageError(err)
		}
		if ok {
			return nil
		}
	}
	return shared.Permissionf("user %d has no access to the shops involved", actorID)
}

// createInTx applies the stock reservation and ledger insert. Items are
// processed in ascending product id order to keep lock acquisition stable
// across concurrent transfers.
func (s *Service) createInTx(ctx context.Context, tx TxRepository, actorID int64, code string, req CreateRequest) (WithItems, []Movement, error) {
	items := make([]Item, len(req.Items))
	for i, reqItem := range req.Items {
		items[i] = Item{ProductID: reqItem.ProductID, Quantity: reqItem.Quantity}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	inv := tx.Inventory()
	movements := make([]Movement, 0, len(items))
	for _, item := range items {
		row, err := inv.GetForUpdate(ctx, item.ProductID, req.SourceShopID)
		if err != nil {
			if errors.Is(err, inventory.ErrItemNotFound) {
				return WithItems{}, nil, shared.InsufficientStock(item.ProductID, item.Quantity, 0)
			}
			return WithItems{}, nil, fmt.Errorf("lock source stock for product %d: %w", item.ProductID, err)
		}
		// Re-check under the row lock; an earlier validation read may be stale.
		if row.Quantity < item.Quantity {
			return WithItems{}, nil, shared.InsufficientStock(item.ProductID, item.Quantity, row.Quantity)
		}
		before := row.Quantity
		row.Quantity -= item.Quantity
		if err := inv.Save(ctx, row); err != nil {
			return WithItems{}, nil, fmt.Errorf("reserve stock for product %d: %w", item.ProductID, err)
		}
		movements = append(movements, Movement{
			ShopID:    req.SourceShopID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			BeforeQty: before,
			AfterQty:  row.Quantity,
		})
	}

	transfer := Transfer{
		Code:              code,
		SourceShopID:      req.SourceShopID,
		DestinationShopID: req.DestinationShopID,
		InitiatedBy:       actorID,
		Status:            StatusPending,
		CreatedAt:         time.Now().UTC(),
	}
	id, err := tx.InsertTransfer(ctx, transfer)
	if err != nil {
		return WithItems{}, nil, fmt.Errorf("insert transfer: %w", err)
	}
	transfer.ID = id
	for i := range items {
		items[i].TransferID = id
	}
	if err := tx.InsertItems(ctx, id, items); err != nil {
		return WithItems{}, nil, fmt.Errorf("insert transfer items: %w", err)
	}
	return WithItems{Transfer: transfer, Items: items}, movements, nil
}

// completeInTx transitions pending -> completed and credits the destination
// shop, blending costs per line.
func (s *Service) completeInTx(ctx context.Context, tx TxRepository, actorID, transferID int64, checkPerms bool) (WithItems, []Movement, error) {
	header, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return WithItems{}, nil, shared.NotFoundf("transfer %d not found", transferID)
		}
		return WithItems{}, nil, err
	}
	if checkPerms {
		if err := s.authorize(ctx, actorID, header.SourceShopID, header.DestinationShopID); err != nil {
			return WithItems{}, nil, err
		}
	}
	if header.Status != StatusPending {
		return WithItems{}, nil, shared.Conflictf("transfer %d is %s", transferID, header.Status)
	}
	items, err := tx.GetItems(ctx, transferID)
	if err != nil {
		return WithItems{}, nil, err
	}

	inv := tx.Inventory()
	now := time.Now().UTC()
	movements := make([]Movement, 0, len(items))
	for _, item := range items {
		source, err := inv.Get(ctx, item.ProductID, header.SourceShopID)
		if err != nil && !errors.Is(err, inventory.ErrItemNotFound) {
			return WithItems{}, nil, fmt.Errorf("read source cost for product %d: %w", item.ProductID, err)
		}
		dest, err := inv.GetForUpdate(ctx, item.ProductID, header.DestinationShopID)
		if err != nil {
			if !errors.Is(err, inventory.ErrItemNotFound) {
				return WithItems{}, nil, fmt.Errorf("lock destination stock for product %d: %w", item.ProductID, err)
			}
			// Destination row is created lazily the first time stock arrives.
			dest = inventory.Item{ProductID: item.ProductID, ShopID: header.DestinationShopID}
		}
		before := dest.Quantity
		dest.ShopCost = costing.BlendCost(dest.Quantity, dest.ShopCost, item.Quantity, source.ShopCost)
		dest.Quantity += item.Quantity
		if err := inv.Save(ctx, dest); err != nil {
			return WithItems{}, nil, fmt.Errorf("credit destination stock for product %d: %w", item.ProductID, err)
		}
		movements = append(movements, Movement{
			ShopID:    header.DestinationShopID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			BeforeQty: before,
			AfterQty:  dest.Quantity,
		})
	}

	if err := tx.SetStatus(ctx, transferID, StatusCompleted, now); err != nil {
		return WithItems{}, nil, err
	}
	header.Status = StatusCompleted
	header.CompletedAt = &now
	return WithItems{Transfer: header, Items: items}, movements, nil
}

// cancelInTx transitions pending -> cancelled and restores the reserved
// quantities to the source shop. Costs are untouched: the units return at the
// cost they never stopped carrying.
func (s *Service) cancelInTx(ctx context.Context, tx TxRepository, actorID, transferID int64, checkPerms bool) (WithItems, []Movement, error) {
	header, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			return WithItems{}, nil, shared.NotFoundf("transfer %d not found", transferID)
		}
		return WithItems{}, nil, err
	}
	if checkPerms {
		if err := s.authorize(ctx, actorID, header.SourceShopID, header.DestinationShopID); err != nil {
			return WithItems{}, nil, err
		}
	}
	if header.Status != StatusPending {
		return WithItems{}, nil, shared.Conflictf("transfer %d is %s", transferID, header.Status)
	}
	items, err := tx.GetItems(ctx, transferID)
	if err != nil {
		return WithItems{}, nil, err
	}

	inv := tx.Inventory()
	now := time.Now().UTC()
	movements := make([]Movement, 0, len(items))
	for _, item := range items {
		row, err := inv.GetForUpdate(ctx, item.ProductID, header.SourceShopID)
		if err != nil {
			if !errors.Is(err, inventory.ErrItemNotFound) {
				return WithItems{}, nil, fmt.Errorf("lock source stock for product %d: %w", item.ProductID, err)
			}
			row = inventory.Item{ProductID: item.ProductID, ShopID: header.SourceShopID}
		}
		before := row.Quantity
		row.Quantity += item.Quantity
		if err := inv.Save(ctx, row); err != nil {
			return WithItems{}, nil, fmt.Errorf("restore stock for product %d: %w", item.ProductID, err)
		}
		movements = append(movements, Movement{
			ShopID:    header.SourceShopID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			BeforeQty: before,
			AfterQty:  row.Quantity,
		})
	}

	if err := tx.SetStatus(ctx, transferID, StatusCancelled, now); err != nil {
		return WithItems{}, nil, err
	}
	header.Status = StatusCancelled
	header.CompletedAt = &now
	return WithItems{Transfer: header, Items: items}, movements, nil
}

// afterCommit applies the advisory effects of a committed transition: cache
// invalidation, batch-scoped WAC recomputation, audit emission and the
// integration event. None of these can fail the already-committed write.
func (s *Service) afterCommit(ctx context.Context, eventType EventType, transfer Transfer, actorID int64, movements []Movement) {
	s.cache.Invalidate(ctx, transfer.ID, transfer.SourceShopID, transfer.DestinationShopID)

	productIDs := make([]int64, 0, len(movements))
	for _, movement := range movements {
		productIDs = append(productIDs, movement.ProductID)
	}
	if s.costing != nil && len(productIDs) > 0 {
		if err := s.costing.RecomputeProducts(ctx, productIDs); err != nil && s.logger != nil {
			// The nightly revaluation job resyncs any product left behind.
			s.logger.Error("recompute global wac", slog.Int64("transfer_id", transfer.ID), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   string(eventType),
			Entity:   "inventory_transfer",
			EntityID: strconv.FormatInt(transfer.ID, 10),
			Meta: map[string]any{
				"code":                transfer.Code,
				"source_shop_id":      transfer.SourceShopID,
				"destination_shop_id": transfer.DestinationShopID,
				"movements":           movements,
			},
		})
	}
	if s.integration != nil {
		event := Event{
			Type:              eventType,
			TransferID:        transfer.ID,
			Code:              transfer.Code,
			SourceShopID:      transfer.SourceShopID,
			DestinationShopID: transfer.DestinationShopID,
			ActorID:           actorID,
			At:                time.Now().UTC(),
			Movements:         movements,
		}
		if err := s.integration.HandleTransferEvent(ctx, event); err != nil && s.logger != nil {
			s.logger.Error("publish transfer event", slog.Int64("transfer_id", transfer.ID), slog.Any("error", err))
		}
	}
}
