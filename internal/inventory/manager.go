package inventory

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"

	"go.uber.org/zap"
)

// StockMirror receives committed stock levels for read-side caches.
type StockMirror interface {
	SetStock(ctx context.Context, storeID, variantID int64, stock int) error
}

// Movement is one stock change request.
type Movement struct {
	StoreID     int64
	VariantID   int64
	Quantity    int
	Reason      string
	OrderItemID *int64
}

// Manager is the only writer of store_inventories.
type Manager struct {
	ledger store.Ledger
	mirror StockMirror
	logger *zap.Logger
}

// NewManager creates an inventory manager. mirror may be nil.
func NewManager(ledger store.Ledger, mirror StockMirror) *Manager {
	return &Manager{
		ledger: ledger,
		mirror: mirror,
		logger: util.ComponentLogger("inventory"),
	}
}

// RemoveStock debits stock inside tx. The (store, variant) row stays locked until tx ends.
func (m *Manager) RemoveStock(ctx context.Context, tx store.Tx, mv Movement) (*models.StoreInventory, error) {
	if mv.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	inv, err := tx.GetStockForUpdate(ctx, mv.StoreID, mv.VariantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock: %w", err)
	}

	current := 0
	if inv != nil {
		current = inv.Stock
	}
	if current < mv.Quantity {
		util.StockMovementsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: store=%d variant=%d available=%d requested=%d",
			models.ErrInsufficientStock, mv.StoreID, mv.VariantID, current, mv.Quantity)
	}

	return m.apply(ctx, tx, inv, mv, -mv.Quantity)
}

// AddStock credits stock inside tx. There is no upper bound.
func (m *Manager) AddStock(ctx context.Context, tx store.Tx, mv Movement) (*models.StoreInventory, error) {
	if mv.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	inv, err := tx.GetStockForUpdate(ctx, mv.StoreID, mv.VariantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stock: %w", err)
	}

	return m.apply(ctx, tx, inv, mv, mv.Quantity)
}

func (m *Manager) apply(ctx context.Context, tx store.Tx, inv *models.StoreInventory, mv Movement, delta int) (*models.StoreInventory, error) {
	if inv == nil {
		inv = &models.StoreInventory{StoreID: mv.StoreID, ProductVariantID: mv.VariantID}
	}
	inv.Stock += delta

	if err := tx.SaveStock(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}

	entry := &models.StoreInventoryLog{
		StoreID:          mv.StoreID,
		ProductVariantID: mv.VariantID,
		Delta:            delta,
		StockAfter:       inv.Stock,
		Reason:           mv.Reason,
		OrderItemID:      mv.OrderItemID,
	}
	if err := tx.AppendStockLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append stock log: %w", err)
	}

	direction := "in"
	if delta < 0 {
		direction = "out"
	}
	util.StockMovementsTotal.WithLabelValues(direction).Inc()

	m.logger.Debug("Stock moved",
		zap.Int64("store_id", mv.StoreID),
		zap.Int64("variant_id", mv.VariantID),
		zap.Int("delta", delta),
		zap.Int("stock_after", inv.Stock),
		zap.String("reason", mv.Reason))
	return inv, nil
}

// Adjust applies a manual restock (delta > 0) or write-off (delta < 0) in its own transaction.
func (m *Manager) Adjust(ctx context.Context, storeID, variantID int64, delta int, reason string) (*models.StoreInventory, error) {
	ctx, span := util.StartSpan(ctx, "InventoryManager.Adjust")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockMutationLatency.Observe(time.Since(start).Seconds())
	}()

	if delta == 0 {
		return nil, models.ErrInvalidQuantity
	}

	mv := Movement{StoreID: storeID, VariantID: variantID, Reason: reason}
	var result *models.StoreInventory
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		if delta > 0 {
			mv.Quantity = delta
			result, err = m.AddStock(ctx, tx, mv)
		} else {
			mv.Quantity = -delta
			result, err = m.RemoveStock(ctx, tx, mv)
		}
		return err
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	m.Mirror(ctx, *result)
	return result, nil
}

// Stock returns the current counter, zero when the key has never been stocked.
func (m *Manager) Stock(ctx context.Context, storeID, variantID int64) (int, error) {
	var stock int
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		inv, err := tx.GetStock(ctx, storeID, variantID)
		if err != nil {
			return err
		}
		if inv != nil {
			stock = inv.Stock
		}
		return nil
	})
	return stock, err
}

// Logs returns the audit trail of one key, oldest first.
func (m *Manager) Logs(ctx context.Context, storeID, variantID int64) ([]models.StoreInventoryLog, error) {
	var logs []models.StoreInventoryLog
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		logs, err = tx.ListStockLogs(ctx, storeID, variantID)
		return err
	})
	return logs, err
}

// Mirror pushes committed levels to the read cache. Call only after commit; failures are logged.
func (m *Manager) Mirror(ctx context.Context, levels ...models.StoreInventory) {
	if m.mirror == nil {
		return
	}
	for _, inv := range levels {
		if err := m.mirror.SetStock(ctx, inv.StoreID, inv.ProductVariantID, inv.Stock); err != nil {
			m.logger.Warn("Failed to mirror stock",
				zap.Int64("store_id", inv.StoreID),
				zap.Int64("variant_id", inv.ProductVariantID),
				zap.Error(err))
		}
	}
}
