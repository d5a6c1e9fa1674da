package transfers

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/shared"
)

func TestBatchCompleteIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 20, "50.00")

	first, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 5}))
	require.NoError(t, err)
	second, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 5}))
	require.NoError(t, err)
	_, err = env.service.Cancel(context.Background(), 7, second.Transfer.ID)
	require.NoError(t, err)

	resp, err := env.service.BatchComplete(context.Background(), 7, BatchTransitionRequest{
		TransferIDs: []int64{first.Transfer.ID, second.Transfer.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Summary.Total)
	require.Equal(t, 1, resp.Summary.Successful)
	require.Equal(t, 1, resp.Summary.Failed)

	require.True(t, resp.Results[0].Success)
	require.Equal(t, first.Transfer.ID, resp.Results[0].ID)
	require.False(t, resp.Results[1].Success)
	require.Equal(t, string(shared.KindConflict), resp.Results[1].ErrorKind)

	// The successful item committed despite its sibling's failure.
	got, err := env.repo.GetTransfer(context.Background(), first.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Transfer.Status)
	require.Equal(t, int64(5), env.repo.stockAt(1, 20).Quantity)
}

func TestBatchCompletePermissionPerItem(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "50.00")
	env.repo.seedStock(1, 30, 10, "50.00")

	allowed, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)
	denied, err := env.service.Create(context.Background(), 7, createRequest(30, 40, ItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)

	env.perms.allowAll = false
	env.perms.shops = map[int64]bool{10: true, 20: true}

	resp, err := env.service.BatchComplete(context.Background(), 7, BatchTransitionRequest{
		TransferIDs: []int64{allowed.Transfer.ID, denied.Transfer.ID},
	})
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success)
	require.False(t, resp.Results[1].Success)
	require.Equal(t, string(shared.KindPermission), resp.Results[1].ErrorKind)

	// The denied transfer stayed pending.
	got, err := env.repo.GetTransfer(context.Background(), denied.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Transfer.Status)
}

func TestBatchTransitionSizeLimit(t *testing.T) {
	env := newTestEnv(t)

	ids := make([]int64, maxBatchTransition+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err := env.service.BatchComplete(context.Background(), 7, BatchTransitionRequest{TransferIDs: ids})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	_, err = env.service.BatchCancel(context.Background(), 7, BatchTransitionRequest{TransferIDs: ids})
	require.True(t, shared.IsKind(err, shared.KindValidation))

	// Rejected before any transaction was opened.
	require.Zero(t, env.repo.txCalls)
}

func TestBatchTransitionRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchCancel(context.Background(), 7, BatchTransitionRequest{TransferIDs: []int64{3, 3}})
	require.True(t, shared.IsKind(err, shared.KindValidation))
	require.Zero(t, env.repo.txCalls)
}

func TestBatchCancelRestoresStockPerItem(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "12.00")

	first, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)
	second, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 4}))
	require.NoError(t, err)
	require.Equal(t, int64(3), env.repo.stockAt(1, 10).Quantity)

	resp, err := env.service.BatchCancel(context.Background(), 7, BatchTransitionRequest{
		TransferIDs: []int64{first.Transfer.ID, second.Transfer.ID, 999},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Summary.Successful)
	require.Equal(t, 1, resp.Summary.Failed)
	require.Equal(t, string(shared.KindNotFound), resp.Results[2].ErrorKind)
	require.Equal(t, int64(10), env.repo.stockAt(1, 10).Quantity)
}

func TestBatchCreateSizeLimit(t *testing.T) {
	env := newTestEnv(t)

	specs := make([]CreateRequest, maxBatchCreate+1)
	for i := range specs {
		specs[i] = createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1})
	}
	_, err := env.service.BatchCreate(context.Background(), 7, BatchCreateRequest{Transfers: specs})
	require.True(t, shared.IsKind(err, shared.KindValidation))
	require.Zero(t, env.repo.txCalls)
}

func TestBatchCreatePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")
	env.repo.seedStock(2, 10, 1, "30.00")

	resp, err := env.service.BatchCreate(context.Background(), 7, BatchCreateRequest{Transfers: []CreateRequest{
		createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 4}),
		createRequest(10, 20, ItemRequest{ProductID: 2, Quantity: 5}),
	}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Summary.Successful)
	require.Equal(t, 1, resp.Summary.Failed)
	require.True(t, resp.Results[0].Success)
	require.NotZero(t, resp.Results[0].ID)
	require.Equal(t, string(shared.KindInsufficientStock), resp.Results[1].ErrorKind)

	require.Equal(t, int64(6), env.repo.stockAt(1, 10).Quantity)
	require.Equal(t, int64(1), env.repo.stockAt(2, 10).Quantity)
	require.Equal(t, 1, env.repo.transferCount())
}

func TestBatchRecomputesOncePerProduct(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 20, "10.00")
	env.repo.seedStock(2, 10, 20, "20.00")

	first, err := env.service.Create(context.Background(), 7, createRequest(10, 20,
		ItemRequest{ProductID: 1, Quantity: 2},
		ItemRequest{ProductID: 2, Quantity: 2},
	))
	require.NoError(t, err)
	second, err := env.service.Create(context.Background(), 7, createRequest(10, 30, ItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)
	callsBefore := len(env.costing.calls)

	_, err = env.service.BatchComplete(context.Background(), 7, BatchTransitionRequest{
		TransferIDs: []int64{first.Transfer.ID, second.Transfer.ID},
	})
	require.NoError(t, err)

	// One recompute call covering the distinct products of the whole batch.
	require.Len(t, env.costing.calls, callsBefore+1)
	batchCall := env.costing.calls[len(env.costing.calls)-1]
	require.ElementsMatch(t, []int64{1, 2}, batchCall)
}

func TestBatchCreateBlendReadsCommittedCost(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")
	env.repo.seedStock(1, 20, 10, "90.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 10}))
	require.NoError(t, err)
	resp, err := env.service.BatchComplete(context.Background(), 7, BatchTransitionRequest{TransferIDs: []int64{created.Transfer.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Summary.Successful)

	dest := env.repo.stockAt(1, 20)
	require.Equal(t, int64(20), dest.Quantity)
	require.True(t, dest.ShopCost.Equal(decimal.RequireFromString("95.00")), "got %s", dest.ShopCost)
}
