package transfers

import (
	"context"
	"strconv"

	"log/slog"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/shared"
)

const (
	maxBatchTransition = 50
	maxBatchCreate     = 20
)

// batchOutcome carries the post-commit payload of one successful item.
type batchOutcome struct {
	eventType EventType
	transfer  Transfer
	movements []Movement
}

// BatchComplete completes up to 50 transfers inside one transaction. Each
// item runs under its own savepoint so a failing transfer rolls back alone
// while the rest of the batch commits.
func (s *Service) BatchComplete(ctx context.Context, actorID int64, req BatchTransitionRequest) (BatchResponse, error) {
	return s.batchTransition(ctx, actorID, "batch_complete", req.TransferIDs, s.completeInTx, EventTransferCompleted)
}

// BatchCancel cancels up to 50 transfers with the same per-item isolation as
// BatchComplete.
func (s *Service) BatchCancel(ctx context.Context, actorID int64, req BatchTransitionRequest) (BatchResponse, error) {
	return s.batchTransition(ctx, actorID, "batch_cancel", req.TransferIDs, s.cancelInTx, EventTransferCancelled)
}

type transitionFn func(ctx context.Context, tx TxRepository, actorID, transferID int64, checkPerms bool) (WithItems, []Movement, error)

func (s *Service) batchTransition(ctx context.Context, actorID int64, operation string, ids []int64, transition transitionFn, eventType EventType) (BatchResponse, error) {
	// Size limits are enforced before any storage work begins.
	if len(ids) == 0 {
		return BatchResponse{}, shared.Validationf("batch requires at least one transfer id")
	}
	if len(ids) > maxBatchTransition {
		return BatchResponse{}, shared.Validationf("batch size %d exceeds the limit of %d", len(ids), maxBatchTransition)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return BatchResponse{}, shared.Validationf("transfer id must be positive")
		}
		if _, ok := seen[id]; ok {
			return BatchResponse{}, shared.Validationf("duplicate transfer id %d", id)
		}
		seen[id] = struct{}{}
	}

	results := make([]BatchItemResult, 0, len(ids))
	outcomes := make([]batchOutcome, 0, len(ids))
	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range ids {
			var result WithItems
			var movements []Movement
			err := tx.WithSavepoint(ctx, func(spTx TxRepository) error {
				var err error
				result, movements, err = transition(ctx, spTx, actorID, id, true)
				return err
			})
			if err != nil {
				results = append(results, batchFailure(id, err))
				continue
			}
			results = append(results, BatchItemResult{ID: id, Success: true})
			outcomes = append(outcomes, batchOutcome{eventType: eventType, transfer: result.Transfer, movements: movements})
		}
		return nil
	})
	if err != nil {
		s.observe(operation, "error")
		return BatchResponse{}, shared.StorageError(err)
	}
	s.observe(operation, "ok")
	s.afterBatchCommit(ctx, actorID, outcomes)
	return BatchResponse{Results: results, Summary: summarize(results)}, nil
}

// BatchCreate creates up to 20 transfers with the same per-item isolation as
// the transition batches. Each spec is validated and authorized before its
// savepoint opens.
func (s *Service) BatchCreate(ctx context.Context, actorID int64, req BatchCreateRequest) (BatchResponse, error) {
	if len(req.Transfers) == 0 {
		return BatchResponse{}, shared.Validationf("batch requires at least one transfer")
	}
	if len(req.Transfers) > maxBatchCreate {
		return BatchResponse{}, shared.Validationf("batch size %d exceeds the limit of %d", len(req.Transfers), maxBatchCreate)
	}

	results := make([]BatchItemResult, 0, len(req.Transfers))
	outcomes := make([]batchOutcome, 0, len(req.Transfers))
	txCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := s.repo.WithTx(txCtx, func(ctx context.Context, tx TxRepository) error {
		for _, spec := range req.Transfers {
			if err := validateCreate(spec); err != nil {
				results = append(results, batchFailure(0, err))
				continue
			}
			if err := s.authorize(ctx, actorID, spec.SourceShopID, spec.DestinationShopID); err != nil {
				results = append(results, batchFailure(0, err))
				continue
			}
			code := spec.Code
			if code == "" {
				code = uuid.NewString()
			}
			var created WithItems
			var movements []Movement
			err := tx.WithSavepoint(ctx, func(spTx TxRepository) error {
				var err error
				created, movements, err = s.createInTx(ctx, spTx, actorID, code, spec)
				return err
			})
			if err != nil {
				results = append(results, batchFailure(0, err))
				continue
			}
			results = append(results, BatchItemResult{ID: created.Transfer.ID, Success: true})
			outcomes = append(outcomes, batchOutcome{eventType: EventTransferCreated, transfer: created.Transfer, movements: movements})
		}
		return nil
	})
	if err != nil {
		s.observe("batch_create", "error")
		return BatchResponse{}, shared.StorageError(err)
	}
	s.observe("batch_create", "ok")
	s.afterBatchCommit(ctx, actorID, outcomes)
	return BatchResponse{Results: results, Summary: summarize(results)}, nil
}

// afterBatchCommit invalidates and audits per transfer but recomputes the
// global weighted average exactly once per distinct product across the batch.
func (s *Service) afterBatchCommit(ctx context.Context, actorID int64, outcomes []batchOutcome) {
	if len(outcomes) == 0 {
		return
	}
	touched := make(map[int64]struct{})
	for _, outcome := range outcomes {
		s.cache.Invalidate(ctx, outcome.transfer.ID, outcome.transfer.SourceShopID, outcome.transfer.DestinationShopID)
		for _, movement := range outcome.movements {
			touched[movement.ProductID] = struct{}{}
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actorID,
				Action:   string(outcome.eventType),
				Entity:   "inventory_transfer",
				EntityID: strconv.FormatInt(outcome.transfer.ID, 10),
				Meta: map[string]any{
					"code":                outcome.transfer.Code,
					"source_shop_id":      outcome.transfer.SourceShopID,
					"destination_shop_id": outcome.transfer.DestinationShopID,
					"movements":           outcome.movements,
					"batch":               true,
				},
			})
		}
		if s.integration != nil {
			event := Event{
				Type:              outcome.eventType,
				TransferID:        outcome.transfer.ID,
				Code:              outcome.transfer.Code,
				SourceShopID:      outcome.transfer.SourceShopID,
				DestinationShopID: outcome.transfer.DestinationShopID,
				ActorID:           actorID,
				At:                outcome.transfer.CreatedAt,
				Movements:         outcome.movements,
			}
			if outcome.transfer.CompletedAt != nil {
				event.At = *outcome.transfer.CompletedAt
			}
			if err := s.integration.HandleTransferEvent(ctx, event); err != nil && s.logger != nil {
				s.logger.Error("publish transfer event", slog.Int64("transfer_id", outcome.transfer.ID), slog.Any("error", err))
			}
		}
	}
	if s.costing != nil && len(touched) > 0 {
		productIDs := make([]int64, 0, len(touched))
		for id := range touched {
			productIDs = append(productIDs, id)
		}
		if err := s.costing.RecomputeProducts(ctx, productIDs); err != nil && s.logger != nil {
			s.logger.Error("recompute global wac", slog.Any("error", err))
		}
	}
}

func batchFailure(id int64, err error) BatchItemResult {
	return BatchItemResult{
		ID:        id,
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(shared.KindOf(err)),
	}
}
