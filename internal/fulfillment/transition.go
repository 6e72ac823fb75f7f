package fulfillment

import (
	"context"
	"crypto/subtle"
	"fmt"

	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"go.uber.org/zap"
)

// Outcome distinguishes an applied transition from a tolerated repeat.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeStatusAlreadySet Outcome = "status_already_set"
)

// TransitionRequest asks to move one order item to Target.
type TransitionRequest struct {
	ItemID int64                  `json:"-"`
	Target models.OrderItemStatus `json:"status" binding:"required"`
	Actor  models.Actor           `json:"-"`
	OTP    string                 `json:"otp,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

// TransitionResult is the state after a transition request.
type TransitionResult struct {
	Item     models.OrderItem       `json:"item"`
	Order    models.Order           `json:"order"`
	Previous models.OrderItemStatus `json:"previous_status"`
	Outcome  Outcome                `json:"outcome"`

	stock []models.StoreInventory
	event *models.ItemStatusChangedEvent
}

// TransitionItemStatus applies one item transition and its side effects as a single unit of work,
// then publishes the change.
func (s *Service) TransitionItemStatus(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.TransitionItemStatus")
	defer span.End()

	var res *TransitionResult
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		util.ItemTransitionsRejected.WithLabelValues(models.CodeOf(err)).Inc()
		s.logger.Info("Item transition refused",
			zap.Int64("order_item_id", req.ItemID),
			zap.String("target", string(req.Target)),
			zap.String("actor", string(req.Actor.Role)),
			zap.Error(err))
		return nil, util.RecordError(span, err)
	}

	s.AfterCommit(ctx, res)
	return res, nil
}

// Apply performs a transition inside an existing unit of work. Callers that use it directly
// must call AfterCommit once their transaction has committed.
// Locks are taken as order, order item, stock, wallet.
func (s *Service) Apply(ctx context.Context, tx store.Tx, req TransitionRequest) (*TransitionResult, error) {
	if !req.Target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, req.Target)
	}
	if !req.Actor.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown actor role %q", models.ErrInvalidInput, req.Actor.Role)
	}

	peek, err := tx.GetOrderItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	order, err := tx.GetOrderForUpdate(ctx, peek.OrderID)
	if err != nil {
		return nil, err
	}
	item, err := tx.GetOrderItemForUpdate(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	prev := item.Status
	res := &TransitionResult{Previous: prev}

	// Ownership comes first so a repeat does not reveal another user's item status.
	if err := s.checkOwnership(ctx, tx, req.Actor, order, item); err != nil {
		return nil, err
	}
	if prev == req.Target {
		res.Item = *item
		res.Order = *order
		res.Outcome = OutcomeStatusAlreadySet
		return res, nil
	}

	if !prev.CanTransition(req.Target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, prev, req.Target)
	}
	if !prev.AllowedBy(req.Target, req.Actor.Role) {
		return nil, fmt.Errorf("%w: %s may not move %s -> %s",
			models.ErrActorNotPermitted, req.Actor.Role, prev, req.Target)
	}

	if req.Target == models.ItemStatusCancelled && req.Actor.Role == models.RoleCustomer {
		if err := s.checkCancelable(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	now := s.now()
	if req.Target == models.ItemStatusDelivered {
		if err := verifyOTP(item, req.OTP); err != nil {
			return nil, err
		}
		item.OTPVerified = item.RequiresOTP
		item.DeliveredAt = &now
		if item.IsReturnable && item.ReturnableDays > 0 {
			deadline := now.AddDate(0, 0, item.ReturnableDays)
			item.ReturnDeadline = &deadline
		}
	}

	if req.Target.Restocks() && !prev.Restocks() {
		itemID := item.ID
		inv, err := s.inventory.AddStock(ctx, tx, inventory.Movement{
			StoreID:     item.StoreID,
			VariantID:   item.ProductVariantID,
			Quantity:    item.Quantity,
			Reason:      fmt.Sprintf("Returned %d item(s) to stock due to %s of order item #%d", item.Quantity, req.Target, item.ID),
			OrderItemID: &itemID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to restock order item %d: %w", item.ID, err)
		}
		res.stock = append(res.stock, *inv)
	}

	if (req.Target == models.ItemStatusCancelled || req.Target == models.ItemStatusRejected) && order.IsPrepaid() {
		if err := s.refundItem(ctx, tx, order, item, req.Target); err != nil {
			return nil, err
		}
	}

	item.Status = req.Target
	if err := tx.UpdateOrderItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to update order item: %w", err)
	}

	if err := s.recomputeOrderStatus(ctx, tx, order); err != nil {
		return nil, err
	}
	if dropped(order) && !order.IsPrepaid() {
		desc := fmt.Sprintf("Refund of wallet payment for %s order #%d", order.Status, order.ID)
		if err := s.returnWalletShare(ctx, tx, order, desc); err != nil {
			return nil, err
		}
	}

	util.ItemTransitionsTotal.WithLabelValues(string(prev), string(req.Target)).Inc()

	res.Item = *item
	res.Order = *order
	res.Outcome = OutcomeApplied
	res.event = &models.ItemStatusChangedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeItemStatusChanged),
		OrderID:        order.ID,
		OrderItemID:    item.ID,
		StoreID:        item.StoreID,
		UserID:         order.UserID,
		PreviousStatus: prev,
		NewStatus:      req.Target,
		Actor:          req.Actor,
	}
	return res, nil
}

// AfterCommit mirrors stock and publishes the transition event. Failures are logged only.
func (s *Service) AfterCommit(ctx context.Context, res *TransitionResult) {
	if res == nil || res.Outcome != OutcomeApplied {
		return
	}

	s.inventory.Mirror(ctx, res.stock...)

	s.logger.Info("Order item transitioned",
		zap.Int64("order_id", res.Order.ID),
		zap.Int64("order_item_id", res.Item.ID),
		zap.String("from", string(res.Previous)),
		zap.String("to", string(res.Item.Status)),
		zap.String("order_status", string(res.Order.Status)))

	if s.events == nil || res.event == nil {
		return
	}
	if err := s.events.PublishItemStatusChanged(ctx, res.event); err != nil {
		util.EventsPublishFailed.WithLabelValues(res.event.EventType).Inc()
		s.logger.Error("Failed to publish ItemStatusChanged event",
			zap.Int64("order_item_id", res.Item.ID),
			zap.Error(err))
	}
}

func (s *Service) checkOwnership(ctx context.Context, tx store.Tx, actor models.Actor, order *models.Order, item *models.OrderItem) error {
	switch actor.Role {
	case models.RoleCustomer:
		if order.UserID != actor.ID {
			return fmt.Errorf("%w: order %d does not belong to user %d", models.ErrActorNotPermitted, order.ID, actor.ID)
		}
	case models.RoleSeller:
		st, err := tx.GetStore(ctx, item.StoreID)
		if err != nil {
			return err
		}
		if st.SellerUserID != actor.ID {
			return fmt.Errorf("%w: store %d is not owned by seller %d", models.ErrActorNotPermitted, st.ID, actor.ID)
		}
	}
	return nil
}

func (s *Service) checkCancelable(ctx context.Context, tx store.Tx, item *models.OrderItem) error {
	variant, err := tx.GetVariant(ctx, item.ProductVariantID)
	if err != nil {
		return err
	}
	if !variant.IsCancelable {
		return fmt.Errorf("%w: variant %d is not cancelable", models.ErrNotCancelable, variant.ID)
	}
	if variant.CancelableTill != "" && item.Status.Rank() > variant.CancelableTill.Rank() {
		return fmt.Errorf("%w: cancelable until %s, item is %s",
			models.ErrNotCancelable, variant.CancelableTill, item.Status)
	}
	return nil
}

func verifyOTP(item *models.OrderItem, otp string) error {
	if !item.RequiresOTP {
		return nil
	}
	if otp == "" {
		return models.ErrOtpRequired
	}
	if subtle.ConstantTimeCompare([]byte(otp), []byte(item.OTP)) != 1 {
		return models.ErrOtpMismatch
	}
	return nil
}

func (s *Service) refundItem(ctx context.Context, tx store.Tx, order *models.Order, item *models.OrderItem, target models.OrderItemStatus) error {
	amount := item.RefundableAmount()
	if !amount.IsPositive() {
		return nil
	}

	orderID, storeID := order.ID, item.StoreID
	_, err := s.wallet.AddBalance(ctx, tx, order.UserID, wallet.Entry{
		Amount:      amount,
		Currency:    order.CurrencyCode,
		Description: fmt.Sprintf("Refund for %s order item #%d of order #%d", target, item.ID, order.ID),
		Reference:   fmt.Sprintf("refund:item:%d", item.ID),
		OrderID:     &orderID,
		StoreID:     &storeID,
	})
	if err != nil {
		return fmt.Errorf("failed to refund order item %d: %w", item.ID, err)
	}
	return nil
}

// dropped is true once the order as a whole ended cancelled or rejected.
func dropped(order *models.Order) bool {
	return order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusRejected
}

func (s *Service) recomputeOrderStatus(ctx context.Context, tx store.Tx, order *models.Order) error {
	items, err := tx.ListOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	status := DeriveOrderStatus(items)
	if status == order.Status {
		return nil
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, status); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	order.Status = status
	order.UpdatedAt = s.now()
	return nil
}
