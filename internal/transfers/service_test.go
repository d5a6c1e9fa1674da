package transfers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/inventory"
	"github.com/stockline-erp/stockline/internal/shared"
)

type stockKey struct {
	productID int64
	shopID    int64
}

type memState struct {
	transfers map[int64]Transfer
	items     map[int64][]Item
	stock     map[stockKey]inventory.Item
	nextID    int64
}

func newMemState() *memState {
	return &memState{
		transfers: make(map[int64]Transfer),
		items:     make(map[int64][]Item),
		stock:     make(map[stockKey]inventory.Item),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	out.nextID = s.nextID
	for id, transfer := range s.transfers {
		out.transfers[id] = transfer
	}
	for id, items := range s.items {
		out.items[id] = append([]Item(nil), items...)
	}
	for key, item := range s.stock {
		out.stock[key] = item
	}
	return out
}

// memRepo is an in-memory RepositoryPort with copy-on-write transactions, so
// rollback and savepoint semantics behave like the real store.
type memRepo struct {
	mu      sync.Mutex
	state   *memState
	txCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{state: newMemState()}
}

func (r *memRepo) seedStock(productID, shopID, qty int64, cost string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.stock[stockKey{productID, shopID}] = inventory.Item{
		ProductID: productID,
		ShopID:    shopID,
		Quantity:  qty,
		ShopCost:  decimal.RequireFromString(cost),
	}
}

func (r *memRepo) stockAt(productID, shopID int64) inventory.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stock[stockKey{productID, shopID}]
}

func (r *memRepo) transferCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.transfers)
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCalls++
	work := r.state.clone()
	if err := fn(ctx, &memTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memRepo) GetTransfer(ctx context.Context, id int64) (WithItems, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.state.transfers[id]
	if !ok {
		return WithItems{}, ErrTransferNotFound
	}
	return WithItems{Transfer: transfer, Items: append([]Item(nil), r.state.items[id]...)}, nil
}

func (r *memRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transfer, 0, len(r.state.transfers))
	for _, transfer := range r.state.transfers {
		if filter.Status != "" && transfer.Status != filter.Status {
			continue
		}
		if filter.ShopID > 0 && transfer.SourceShopID != filter.ShopID && transfer.DestinationShopID != filter.ShopID {
			continue
		}
		out = append(out, transfer)
	}
	return out, len(out), nil
}

type memTx struct {
	state *memState
}

func (t *memTx) InsertTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	for _, existing := range t.state.transfers {
		if existing.Code == transfer.Code {
			return 0, fmt.Errorf("duplicate transfer code %q", transfer.Code)
		}
	}
	t.state.nextID++
	transfer.ID = t.state.nextID
	t.state.transfers[transfer.ID] = transfer
	return transfer.ID, nil
}

func (t *memTx) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	t.state.items[transferID] = append([]Item(nil), items...)
	return nil
}

func (t *memTx) GetTransferForUpdate(ctx context.Context, id int64) (Transfer, error) {
	transfer, ok := t.state.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, nil
}

func (t *memTx) SetStatus(ctx context.Context, id int64, status Status, completedAt time.Time) error {
	transfer, ok := t.state.transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	transfer.Status = status
	transfer.CompletedAt = &completedAt
	t.state.transfers[id] = transfer
	return nil
}

func (t *memTx) GetItems(ctx context.Context, transferID int64) ([]Item, error) {
	return append([]Item(nil), t.state.items[transferID]...), nil
}

func (t *memTx) Inventory() InventoryTx {
	return &memInventory{state: t.state}
}

func (t *memTx) WithSavepoint(ctx context.Context, fn func(TxRepository) error) error {
	work := t.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	*t.state = *work
	return nil
}

type memInventory struct {
	state *memState
}

func (i *memInventory) Get(ctx context.Context, productID, shopID int64) (inventory.Item, error) {
	item, ok := i.state.stock[stockKey{productID, shopID}]
	if !ok {
		return inventory.Item{ProductID: productID, ShopID: shopID}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (i *memInventory) GetForUpdate(ctx context.Context, productID, shopID int64) (inventory.Item, error) {
	return i.Get(ctx, productID, shopID)
}

func (i *memInventory) Save(ctx context.Context, item inventory.Item) error {
	i.state.stock[stockKey{item.ProductID, item.ShopID}] = item
	return nil
}

// allowPerms grants access to an explicit shop set, or to everything.
type allowPerms struct {
	allowAll bool
	shops    map[int64]bool
}

func (p *allowPerms) HasShopAccess(ctx context.Context, userID, shopID int64) (bool, error) {
	if p.allowAll {
		return true, nil
	}
	return p.shops[shopID], nil
}

func (p *allowPerms) HasCapability(ctx context.Context, userID int64, capability string) (bool, error) {
	return p.allowAll, nil
}

type recordingCosting struct {
	mu    sync.Mutex
	calls [][]int64
}

func (c *recordingCosting) RecomputeProducts(ctx context.Context, productIDs []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]int64(nil), productIDs...))
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]bool)}
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingIntegration struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingIntegration) HandleTransferEvent(ctx context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

type testEnv struct {
	repo        *memRepo
	perms       *allowPerms
	costing     *recordingCosting
	audit       *recordingAudit
	idempotency *memIdempotency
	integration *recordingIntegration
	service     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:        newMemRepo(),
		perms:       &allowPerms{allowAll: true},
		costing:     &recordingCosting{},
		audit:       &recordingAudit{},
		idempotency: newMemIdempotency(),
		integration: &recordingIntegration{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := NewCache(nil, time.Minute, logger)
	env.service = NewService(env.repo, env.perms, env.costing, cache, env.audit, env.idempotency, ServiceConfig{TxTimeout: 5 * time.Second}, logger)
	env.service.SetIntegration(env.integration)
	return env
}

func createRequest(source, dest int64, items ...ItemRequest) CreateRequest {
	return CreateRequest{SourceShopID: source, DestinationShopID: dest, Items: items}
}

func TestCreateReservesSourceStock(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 4}))
	require.NoError(t, err)
	require.Equal(t, StatusPending, created.Transfer.Status)
	require.NotEmpty(t, created.Transfer.Code)
	require.Len(t, created.Items, 1)

	source := env.repo.stockAt(1, 10)
	require.Equal(t, int64(6), source.Quantity)
	require.True(t, source.ShopCost.Equal(decimal.RequireFromString("100.00")))

	require.Len(t, env.costing.calls, 1)
	require.Equal(t, []int64{1}, env.costing.calls[0])
	require.Len(t, env.audit.logs, 1)
	require.Equal(t, string(EventTransferCreated), env.audit.logs[0].Action)
	require.Len(t, env.integration.events, 1)
}

func TestCreateInsufficientStockRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 5, "80.00")
	env.repo.seedStock(2, 10, 50, "10.00")

	_, err := env.service.Create(context.Background(), 7, createRequest(10, 20,
		ItemRequest{ProductID: 2, Quantity: 10},
		ItemRequest{ProductID: 1, Quantity: 6},
	))
	require.Error(t, err)
	require.True(t, shared.IsKind(err, shared.KindInsufficientStock))

	var domainErr *shared.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, int64(1), domainErr.ProductID)

	// Nothing committed, including the line that had enough stock.
	require.Equal(t, int64(5), env.repo.stockAt(1, 10).Quantity)
	require.Equal(t, int64(50), env.repo.stockAt(2, 10).Quantity)
	require.Zero(t, env.repo.transferCount())
	require.Empty(t, env.costing.calls)
}

func TestCreateMissingSourceRow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}))
	require.True(t, shared.IsKind(err, shared.KindInsufficientStock))
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	cases := map[string]CreateRequest{
		"same shop":          createRequest(10, 10, ItemRequest{ProductID: 1, Quantity: 1}),
		"no items":           createRequest(10, 20),
		"zero quantity":      createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 0}),
		"negative quantity":  createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: -3}),
		"duplicate products": createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}, ItemRequest{ProductID: 1, Quantity: 2}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.service.Create(context.Background(), 7, req)
			require.True(t, shared.IsKind(err, shared.KindValidation))
		})
	}
	require.Zero(t, env.repo.txCalls)
}

func TestCreatePermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.perms.allowAll = false
	env.perms.shops = map[int64]bool{99: true}
	env.repo.seedStock(1, 10, 10, "100.00")

	_, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}))
	require.True(t, shared.IsKind(err, shared.KindPermission))
	require.Zero(t, env.repo.txCalls)
}

func TestCreatePermissionEitherShopSuffices(t *testing.T) {
	env := newTestEnv(t)
	env.perms.allowAll = false
	env.perms.shops = map[int64]bool{20: true}
	env.repo.seedStock(1, 10, 10, "100.00")

	_, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
}

func TestCreateIdempotentCode(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	req := createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1})
	req.Code = "restock-001"
	_, err := env.service.Create(context.Background(), 7, req)
	require.NoError(t, err)

	_, err = env.service.Create(context.Background(), 7, req)
	require.True(t, shared.IsKind(err, shared.KindConflict))
	require.Equal(t, 1, env.repo.transferCount())
}

func TestCreateFailureReleasesIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 2, "100.00")

	req := createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 5})
	req.Code = "restock-002"
	_, err := env.service.Create(context.Background(), 7, req)
	require.True(t, shared.IsKind(err, shared.KindInsufficientStock))

	// The same code must be retryable after the failed attempt.
	env.repo.seedStock(1, 10, 10, "100.00")
	_, err = env.service.Create(context.Background(), 7, req)
	require.NoError(t, err)
}

func TestCompleteBlendsDestinationCost(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "120.00")
	env.repo.seedStock(1, 20, 10, "100.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 10}))
	require.NoError(t, err)

	completed, err := env.service.Complete(context.Background(), 7, created.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Transfer.Status)
	require.NotNil(t, completed.Transfer.CompletedAt)

	dest := env.repo.stockAt(1, 20)
	require.Equal(t, int64(20), dest.Quantity)
	require.True(t, dest.ShopCost.Equal(decimal.RequireFromString("110.00")), "got %s", dest.ShopCost)

	source := env.repo.stockAt(1, 10)
	require.Equal(t, int64(0), source.Quantity)
	require.True(t, source.ShopCost.Equal(decimal.RequireFromString("120.00")))

	// Units are conserved across the pair of shops.
	require.Equal(t, int64(20), source.Quantity+dest.Quantity)
}

func TestCompleteSeedsMissingDestinationRow(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 8, "45.50")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)
	_, err = env.service.Complete(context.Background(), 7, created.Transfer.ID)
	require.NoError(t, err)

	dest := env.repo.stockAt(1, 20)
	require.Equal(t, int64(3), dest.Quantity)
	require.True(t, dest.ShopCost.Equal(decimal.RequireFromString("45.50")))
}

func TestCompleteNonPendingConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)
	_, err = env.service.Complete(context.Background(), 7, created.Transfer.ID)
	require.NoError(t, err)

	_, err = env.service.Complete(context.Background(), 7, created.Transfer.ID)
	require.True(t, shared.IsKind(err, shared.KindConflict))

	// Retrying did not double-credit the destination.
	require.Equal(t, int64(2), env.repo.stockAt(1, 20).Quantity)
}

func TestCancelRestoresSourceStock(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 4}))
	require.NoError(t, err)
	require.Equal(t, int64(6), env.repo.stockAt(1, 10).Quantity)

	cancelled, err := env.service.Cancel(context.Background(), 7, created.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Transfer.Status)

	source := env.repo.stockAt(1, 10)
	require.Equal(t, int64(10), source.Quantity)
	require.True(t, source.ShopCost.Equal(decimal.RequireFromString("100.00")))
	require.Equal(t, int64(0), env.repo.stockAt(1, 20).Quantity)
}

func TestCancelCompletedConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	created, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 2}))
	require.NoError(t, err)
	_, err = env.service.Complete(context.Background(), 7, created.Transfer.ID)
	require.NoError(t, err)

	_, err = env.service.Cancel(context.Background(), 7, created.Transfer.ID)
	require.True(t, shared.IsKind(err, shared.KindConflict))
}

func TestConcurrentCreatesNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	const attempts = 5
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 3}))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.True(t, shared.IsKind(err, shared.KindInsufficientStock))
		}
	}
	require.Equal(t, 3, succeeded)
	require.Equal(t, int64(1), env.repo.stockAt(1, 10).Quantity)
}

func TestGetNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.Get(context.Background(), 999)
	require.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seedStock(1, 10, 10, "100.00")

	first, err := env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	_, err = env.service.Create(context.Background(), 7, createRequest(10, 20, ItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	_, err = env.service.Complete(context.Background(), 7, first.Transfer.ID)
	require.NoError(t, err)

	result, err := env.service.List(context.Background(), ListRequest{Status: string(StatusPending)})
	require.NoError(t, err)
	require.Len(t, result.Transfers, 1)
	require.Equal(t, 1, result.Pagination.Total)
}
