package fulfillment

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

// PaymentResult is an order after a gateway outcome was recorded.
type PaymentResult struct {
	Order   models.Order       `json:"order"`
	Items   []models.OrderItem `json:"items"`
	Outcome Outcome            `json:"outcome"`

	moved []*TransitionResult
}

// CapturePayment marks an unpaid order as paid and releases its pending items to their stores.
// Capturing an order that is already paid changes nothing.
func (s *Service) CapturePayment(ctx context.Context, orderID int64) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.CapturePayment")
	defer span.End()

	res, err := s.recordPayment(ctx, orderID, models.PaymentStatusPaid)
	return res, util.RecordError(span, err)
}

// FailPayment fails the pending items of an unpaid order, returns their units to stock
// and gives back the wallet share taken at checkout.
func (s *Service) FailPayment(ctx context.Context, orderID int64) (*PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.FailPayment")
	defer span.End()

	res, err := s.recordPayment(ctx, orderID, models.PaymentStatusFailed)
	return res, util.RecordError(span, err)
}

func (s *Service) recordPayment(ctx context.Context, orderID int64, outcome models.PaymentStatus) (*PaymentResult, error) {
	var res *PaymentResult
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.applyPayment(ctx, tx, orderID, outcome)
		return err
	})
	if err != nil {
		s.logger.Info("Payment outcome refused",
			zap.Int64("order_id", orderID),
			zap.String("payment_status", string(outcome)),
			zap.Error(err))
		return nil, err
	}

	for _, moved := range res.moved {
		s.AfterCommit(ctx, moved)
	}
	if res.Outcome == OutcomeApplied {
		s.logger.Info("Payment outcome recorded",
			zap.Int64("order_id", orderID),
			zap.String("payment_status", string(outcome)),
			zap.Int("items_moved", len(res.moved)))
	}
	return res, nil
}

// applyPayment locks the order first so item transitions below see the new payment status.
func (s *Service) applyPayment(ctx context.Context, tx store.Tx, orderID int64, outcome models.PaymentStatus) (*PaymentResult, error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}

	res := &PaymentResult{Outcome: OutcomeApplied}
	switch {
	case order.PaymentStatus == outcome:
		res.Outcome = OutcomeStatusAlreadySet
		return s.loadPayment(ctx, tx, order.ID, res)
	case order.PaymentStatus != models.PaymentStatusPending:
		return nil, fmt.Errorf("%w: payment of order %d is already %s",
			models.ErrInvalidTransition, order.ID, order.PaymentStatus)
	case outcome == models.PaymentStatusFailed && order.PaymentMethod == models.PaymentMethodCOD:
		return nil, fmt.Errorf("%w: cash on delivery order %d has no gateway payment to fail",
			models.ErrInvalidInput, order.ID)
	}

	if err := tx.UpdateOrderPaymentStatus(ctx, order.ID, outcome); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	items, err := tx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	target := models.ItemStatusAwaitingStoreResponse
	if outcome == models.PaymentStatusFailed {
		target = models.ItemStatusFailed
	}
	for _, item := range items {
		if item.Status != models.ItemStatusPending {
			continue
		}
		moved, err := s.Apply(ctx, tx, TransitionRequest{
			ItemID: item.ID,
			Target: target,
			Actor:  models.SystemActor,
			Reason: fmt.Sprintf("payment %s", outcome),
		})
		if err != nil {
			return nil, err
		}
		if outcome == models.PaymentStatusFailed {
			if err := s.releaseUnpaidItem(ctx, tx, &item, moved); err != nil {
				return nil, err
			}
		}
		res.moved = append(res.moved, moved)
	}

	if outcome == models.PaymentStatusFailed {
		desc := fmt.Sprintf("Refund of wallet payment for order #%d after payment failed", order.ID)
		if err := s.returnWalletShare(ctx, tx, order, desc); err != nil {
			return nil, err
		}
	}

	return s.loadPayment(ctx, tx, order.ID, res)
}

// releaseUnpaidItem restocks an item whose payment never arrived; the goods never left the store.
func (s *Service) releaseUnpaidItem(ctx context.Context, tx store.Tx, item *models.OrderItem, moved *TransitionResult) error {
	itemID := item.ID
	inv, err := s.inventory.AddStock(ctx, tx, inventory.Movement{
		StoreID:     item.StoreID,
		VariantID:   item.ProductVariantID,
		Quantity:    item.Quantity,
		Reason:      fmt.Sprintf("Returned %d item(s) to stock after payment failed for order item #%d", item.Quantity, item.ID),
		OrderItemID: &itemID,
	})
	if err != nil {
		return fmt.Errorf("failed to restock order item %d: %w", item.ID, err)
	}
	moved.stock = append(moved.stock, *inv)
	return nil
}

// returnWalletShare credits back the wallet debit taken at checkout. The shared reference
// keeps it to one credit per order whichever path gets there first.
func (s *Service) returnWalletShare(ctx context.Context, tx store.Tx, order *models.Order, desc string) error {
	if !order.WalletAmount.IsPositive() {
		return nil
	}
	orderID := order.ID
	_, err := s.wallet.AddBalance(ctx, tx, order.UserID, wallet.Entry{
		Amount:      order.WalletAmount,
		Currency:    order.CurrencyCode,
		Description: desc,
		Reference:   fmt.Sprintf("order:%d:payment-refund", order.ID),
		OrderID:     &orderID,
	})
	if err != nil {
		return fmt.Errorf("failed to return wallet payment of order %d: %w", order.ID, err)
	}
	return nil
}

func (s *Service) loadPayment(ctx context.Context, tx store.Tx, orderID int64, res *PaymentResult) (*PaymentResult, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	res.Order = *order
	res.Items = items
	return res, nil
}
