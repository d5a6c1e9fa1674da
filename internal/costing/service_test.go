package costing

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/inventory"
)

type stubInventory struct {
	items map[int64][]inventory.Item
	err   error
}

func (s *stubInventory) ListForProduct(ctx context.Context, productID int64) ([]inventory.Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.items[productID], nil
}

type recordingWriter struct {
	wacs     map[int64]decimal.Decimal
	failFor  map[int64]error
	setCalls int
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{wacs: make(map[int64]decimal.Decimal), failFor: make(map[int64]error)}
}

func (w *recordingWriter) SetGlobalWAC(ctx context.Context, productID int64, wac decimal.Decimal) error {
	if err := w.failFor[productID]; err != nil {
		return err
	}
	w.setCalls++
	w.wacs[productID] = wac
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecomputeGlobalWACBlendsAcrossShops(t *testing.T) {
	inv := &stubInventory{items: map[int64][]inventory.Item{
		1: {
			{ProductID: 1, ShopID: 10, Quantity: 10, ShopCost: decimal.RequireFromString("100.00")},
			{ProductID: 1, ShopID: 20, Quantity: 30, ShopCost: decimal.RequireFromString("120.00")},
		},
	}}
	writer := newRecordingWriter()
	svc := NewService(inv, writer, discardLogger())

	wac, err := svc.RecomputeGlobalWAC(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, wac.Equal(decimal.RequireFromString("115.00")), "got %s", wac)
	require.True(t, writer.wacs[1].Equal(wac))
}

func TestRecomputeGlobalWACZeroStock(t *testing.T) {
	inv := &stubInventory{items: map[int64][]inventory.Item{}}
	writer := newRecordingWriter()
	svc := NewService(inv, writer, discardLogger())

	wac, err := svc.RecomputeGlobalWAC(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, wac.IsZero())
}

func TestRecomputeProductsDeduplicates(t *testing.T) {
	inv := &stubInventory{items: map[int64][]inventory.Item{
		1: {{ProductID: 1, ShopID: 10, Quantity: 5, ShopCost: decimal.RequireFromString("10.00")}},
		2: {{ProductID: 2, ShopID: 10, Quantity: 5, ShopCost: decimal.RequireFromString("20.00")}},
	}}
	writer := newRecordingWriter()
	svc := NewService(inv, writer, discardLogger())

	err := svc.RecomputeProducts(context.Background(), []int64{2, 1, 2, 1, 1})
	require.NoError(t, err)
	require.Equal(t, 2, writer.setCalls)
}

func TestRecomputeProductsContinuesPastFailures(t *testing.T) {
	inv := &stubInventory{items: map[int64][]inventory.Item{
		1: {{ProductID: 1, ShopID: 10, Quantity: 5, ShopCost: decimal.RequireFromString("10.00")}},
		2: {{ProductID: 2, ShopID: 10, Quantity: 5, ShopCost: decimal.RequireFromString("20.00")}},
	}}
	writer := newRecordingWriter()
	boom := errors.New("write failed")
	writer.failFor[1] = boom
	svc := NewService(inv, writer, discardLogger())

	err := svc.RecomputeProducts(context.Background(), []int64{1, 2})
	require.ErrorIs(t, err, boom)

	// The failure of product 1 did not stop product 2.
	require.True(t, writer.wacs[2].Equal(decimal.RequireFromString("20.00")))
}
