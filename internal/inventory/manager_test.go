package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu     sync.Mutex
	levels map[[2]int64]int
	err    error
}

func (f *fakeMirror) SetStock(_ context.Context, storeID, variantID int64, stock int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.levels == nil {
		f.levels = map[[2]int64]int{}
	}
	f.levels[[2]int64{storeID, variantID}] = stock
	return nil
}

func TestRemoveStockInsufficientLeavesStockUnchanged(t *testing.T) {
	ledger := memory.New()
	ledger.SetStock(1, 10, 3)
	m := NewManager(ledger, nil)
	ctx := context.Background()

	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		_, err := m.RemoveStock(ctx, tx, Movement{StoreID: 1, VariantID: 10, Quantity: 5, Reason: "order"})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientStock))

	stock, err := m.Stock(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	logs, err := m.Logs(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRemoveStockUnknownKeyIsInsufficient(t *testing.T) {
	ledger := memory.New()
	m := NewManager(ledger, nil)
	ctx := context.Background()

	_, err := m.Adjust(ctx, 9, 9, -1, "write-off")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
}

func TestMovementsAppendSignedLogRows(t *testing.T) {
	ledger := memory.New()
	ledger.SetStock(1, 10, 5)
	m := NewManager(ledger, nil)
	ctx := context.Background()
	itemID := int64(77)

	err := ledger.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := m.RemoveStock(ctx, tx, Movement{StoreID: 1, VariantID: 10, Quantity: 2, Reason: "sold", OrderItemID: &itemID}); err != nil {
			return err
		}
		_, err := m.AddStock(ctx, tx, Movement{StoreID: 1, VariantID: 10, Quantity: 1, Reason: "returned", OrderItemID: &itemID})
		return err
	})
	require.NoError(t, err)

	logs, err := m.Logs(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, -2, logs[0].Delta)
	assert.Equal(t, 3, logs[0].StockAfter)
	assert.Equal(t, 1, logs[1].Delta)
	assert.Equal(t, 4, logs[1].StockAfter)
	assert.Equal(t, "returned", logs[1].Reason)
	require.NotNil(t, logs[1].OrderItemID)
	assert.Equal(t, itemID, *logs[1].OrderItemID)
}

func TestAddStockCreatesMissingRow(t *testing.T) {
	ledger := memory.New()
	mirror := &fakeMirror{}
	m := NewManager(ledger, mirror)
	ctx := context.Background()

	inv, err := m.Adjust(ctx, 2, 20, 7, "initial stock")
	require.NoError(t, err)
	assert.Equal(t, 7, inv.Stock)
	assert.Equal(t, 7, mirror.levels[[2]int64{2, 20}])
}

func TestMirrorFailureDoesNotFailAdjust(t *testing.T) {
	ledger := memory.New()
	m := NewManager(ledger, &fakeMirror{err: errors.New("redis down")})

	inv, err := m.Adjust(context.Background(), 2, 20, 1, "restock")
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Stock)
}

func TestInvalidQuantity(t *testing.T) {
	ledger := memory.New()
	m := NewManager(ledger, nil)
	ctx := context.Background()

	_, err := m.Adjust(ctx, 1, 1, 0, "noop")
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)

	err = ledger.RunInTx(ctx, func(tx store.Tx) error {
		_, err := m.AddStock(ctx, tx, Movement{StoreID: 1, VariantID: 1, Quantity: -3})
		return err
	})
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestConcurrentRemoveStockNeverOversells(t *testing.T) {
	ledger := memory.New()
	ledger.SetStock(1, 10, 10)
	m := NewManager(ledger, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Adjust(ctx, 1, 10, -1, "order")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, models.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, rejected)

	stock, err := m.Stock(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestStockNeverNegativeUnderRandomMovements(t *testing.T) {
	ledger := memory.New()
	m := NewManager(ledger, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	expected := 0
	for i := 0; i < 300; i++ {
		delta := rng.Intn(11) - 5
		if delta == 0 {
			continue
		}
		_, err := m.Adjust(ctx, 1, 1, delta, "fuzz")
		if expected+delta < 0 {
			require.ErrorIs(t, err, models.ErrInsufficientStock)
		} else {
			require.NoError(t, err)
			expected += delta
		}

		stock, err := m.Stock(ctx, 1, 1)
		require.NoError(t, err)
		require.GreaterOrEqual(t, stock, 0)
		require.Equal(t, expected, stock)
	}

	logs, err := m.Logs(ctx, 1, 1)
	require.NoError(t, err)
	sum := 0
	for _, l := range logs {
		sum += l.Delta
	}
	assert.Equal(t, expected, sum)
}
