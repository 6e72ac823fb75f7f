package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

const settleBatchSize = 500

var errNotSettleable = errors.New("item no longer settleable")

// SettlementFailure records one item the settlement run could not credit.
type SettlementFailure struct {
	OrderItemID int64  `json:"order_item_id"`
	Error       string `json:"error"`
}

// SettlementReport summarizes a commission settlement run.
type SettlementReport struct {
	Eligible int                 `json:"eligible"`
	Settled  int                 `json:"settled"`
	Skipped  int                 `json:"skipped"`
	Failed   int                 `json:"failed"`
	Failures []SettlementFailure `json:"failures,omitempty"`
}

// SettleCommissions credits the seller share of every delivered item whose return window has
// closed. Each item settles in its own unit of work so one failure does not block the batch.
func (s *Service) SettleCommissions(ctx context.Context, now time.Time) (*SettlementReport, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.SettleCommissions")
	defer span.End()

	var items []models.OrderItem
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		items, err = tx.ListSettleableItems(ctx, now, settleBatchSize)
		return err
	})
	if err != nil {
		return nil, util.RecordError(span, fmt.Errorf("failed to list settleable items: %w", err))
	}

	report := &SettlementReport{Eligible: len(items)}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
			return s.settleItem(ctx, tx, it.ID, now)
		})
		switch {
		case err == nil:
			report.Settled++
		case errors.Is(err, errNotSettleable):
			report.Skipped++
		default:
			report.Failed++
			report.Failures = append(report.Failures, SettlementFailure{OrderItemID: it.ID, Error: err.Error()})
			s.logger.Error("Commission settlement failed",
				zap.Int64("order_item_id", it.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Commission settlement finished",
		zap.Int("eligible", report.Eligible),
		zap.Int("settled", report.Settled),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (s *Service) settleItem(ctx context.Context, tx store.Tx, itemID int64, now time.Time) error {
	peek, err := tx.GetOrderItem(ctx, itemID)
	if err != nil {
		return err
	}
	order, err := tx.GetOrderForUpdate(ctx, peek.OrderID)
	if err != nil {
		return err
	}
	item, err := tx.GetOrderItemForUpdate(ctx, itemID)
	if err != nil {
		return err
	}

	if item.Status != models.ItemStatusDelivered || item.CommissionSettled {
		return errNotSettleable
	}
	if item.ReturnDeadline != nil && item.ReturnDeadline.After(now) {
		return errNotSettleable
	}
	active, err := tx.HasActiveReturn(ctx, item.ID)
	if err != nil {
		return err
	}
	if active {
		return errNotSettleable
	}

	if item.SellerCommissionAmount.IsPositive() {
		st, err := tx.GetStore(ctx, item.StoreID)
		if err != nil {
			return err
		}
		orderID, storeID := order.ID, item.StoreID
		_, err = s.wallet.AddBalance(ctx, tx, st.SellerUserID, wallet.Entry{
			Amount:      item.SellerCommissionAmount,
			Currency:    order.CurrencyCode,
			Description: fmt.Sprintf("Commission for order item #%d of order #%d", item.ID, order.ID),
			Reference:   fmt.Sprintf("commission:item:%d", item.ID),
			OrderID:     &orderID,
			StoreID:     &storeID,
		})
		if err != nil {
			return err
		}
	}

	item.CommissionSettled = true
	return tx.UpdateOrderItem(ctx, item)
}
