package returns

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/fulfillment"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// EventPublisher receives committed return changes.
type EventPublisher interface {
	PublishReturnStatusChanged(ctx context.Context, event *models.ReturnStatusChangedEvent) error
}

// Request is a customer's return request for one delivered item.
type Request struct {
	ItemID int64    `json:"-"`
	UserID int64    `json:"-"`
	Reason string   `json:"reason" binding:"required"`
	Images []string `json:"images"`
}

// Service runs the two-axis return workflow and settles refunds.
type Service struct {
	ledger store.Ledger
	items  *fulfillment.Service
	wallet *wallet.Manager
	events EventPublisher
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates the return service. events may be nil.
func NewService(ledger store.Ledger, items *fulfillment.Service, wal *wallet.Manager, events EventPublisher) *Service {
	return &Service{
		ledger: ledger,
		items:  items,
		wallet: wal,
		events: events,
		now:    time.Now,
		logger: util.ComponentLogger("returns"),
	}
}

// WithClock replaces the clock used for return window checks and audit timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RequestReturn opens a return for a delivered, returnable item inside its return window.
func (s *Service) RequestReturn(ctx context.Context, req Request) (*models.OrderItemReturn, error) {
	ctx, span := util.StartSpan(ctx, "ReturnService.RequestReturn")
	defer span.End()

	var ret *models.OrderItemReturn
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		peek, err := tx.GetOrderItem(ctx, req.ItemID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrderForUpdate(ctx, peek.OrderID)
		if err != nil {
			return err
		}
		item, err := tx.GetOrderItemForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}

		if order.UserID != req.UserID {
			return fmt.Errorf("%w: order %d does not belong to user %d", models.ErrActorNotPermitted, order.ID, req.UserID)
		}
		if !item.IsReturnable {
			return models.ErrProductNotReturnable
		}
		active, err := tx.HasActiveReturn(ctx, item.ID)
		if err != nil {
			return err
		}
		if active {
			return models.ErrReturnAlreadyRequested
		}
		if item.Status != models.ItemStatusDelivered {
			return fmt.Errorf("%w: item is %s", models.ErrInvalidItemStatus, item.Status)
		}
		if item.ReturnDeadline != nil && s.now().After(*item.ReturnDeadline) {
			return fmt.Errorf("%w: return window closed at %s", models.ErrInvalidItemStatus, item.ReturnDeadline.Format(time.RFC3339))
		}

		ret = &models.OrderItemReturn{
			OrderItemID:  item.ID,
			OrderID:      order.ID,
			UserID:       order.UserID,
			StoreID:      item.StoreID,
			Reason:       req.Reason,
			Images:       pq.StringArray(req.Images),
			RefundAmount: item.RefundableAmount(),
			ReturnStatus: models.ReturnStatusRequested,
			PickupStatus: models.PickupStatusPending,
		}
		if err := tx.CreateReturn(ctx, ret); err != nil {
			return fmt.Errorf("failed to create return: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	util.ReturnsTotal.WithLabelValues(string(ret.ReturnStatus)).Inc()
	s.logger.Info("Return requested",
		zap.Int64("return_id", ret.ID),
		zap.Int64("order_item_id", ret.OrderItemID),
		zap.String("refund_amount", ret.RefundAmount.StringFixed(2)))
	s.publish(ctx, ret, "")
	return ret, nil
}

// ApproveReturn accepts the request and schedules the pickup. deliveryAgentID may be nil
// when the pickup is claimed later by whichever agent collects it.
func (s *Service) ApproveReturn(ctx context.Context, returnID int64, actor models.Actor, deliveryAgentID *int64) (*models.OrderItemReturn, error) {
	return s.run(ctx, "ApproveReturn", returnID, func(ctx context.Context, tx store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		if err := checkSeller(ctx, tx, actor, r); err != nil {
			return nil, err
		}
		if err := advance(r, models.ReturnStatusSellerApproved); err != nil {
			return nil, err
		}
		now := s.now()
		r.ApprovedAt = &now
		if err := advance(r, models.ReturnStatusPickupAssigned); err != nil {
			return nil, err
		}
		if err := movePickup(r, models.PickupStatusAssigned); err != nil {
			return nil, err
		}
		r.DeliveryAgentID = deliveryAgentID
		return nil, nil
	})
}

// RejectReturn closes the request without any stock or wallet effect.
func (s *Service) RejectReturn(ctx context.Context, returnID int64, actor models.Actor, comment string) (*models.OrderItemReturn, error) {
	return s.run(ctx, "RejectReturn", returnID, func(ctx context.Context, tx store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		if err := checkSeller(ctx, tx, actor, r); err != nil {
			return nil, err
		}
		if err := advance(r, models.ReturnStatusSellerRejected); err != nil {
			return nil, err
		}
		if err := movePickup(r, models.PickupStatusCancelled); err != nil {
			return nil, err
		}
		r.SellerComment = comment
		return nil, nil
	})
}

// CancelReturn withdraws a request the seller has not answered yet.
func (s *Service) CancelReturn(ctx context.Context, returnID int64, actor models.Actor) (*models.OrderItemReturn, error) {
	return s.run(ctx, "CancelReturn", returnID, func(_ context.Context, _ store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		switch actor.Role {
		case models.RoleAdmin:
		case models.RoleCustomer:
			if actor.ID != r.UserID {
				return nil, fmt.Errorf("%w: return %d does not belong to user %d", models.ErrActorNotPermitted, r.ID, actor.ID)
			}
		default:
			return nil, fmt.Errorf("%w: %s may not cancel a return", models.ErrActorNotPermitted, actor.Role)
		}
		if err := advance(r, models.ReturnStatusCancelled); err != nil {
			return nil, err
		}
		if err := movePickup(r, models.PickupStatusCancelled); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// MarkPickedUp records that the delivery agent collected the item from the customer.
func (s *Service) MarkPickedUp(ctx context.Context, returnID int64, actor models.Actor) (*models.OrderItemReturn, error) {
	return s.run(ctx, "MarkPickedUp", returnID, func(_ context.Context, _ store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		if err := checkAgent(actor, r); err != nil {
			return nil, err
		}
		if err := movePickup(r, models.PickupStatusPickedUp); err != nil {
			return nil, err
		}
		if err := advance(r, models.ReturnStatusPickedUp); err != nil {
			return nil, err
		}
		now := s.now()
		r.PickedUpAt = &now
		if r.DeliveryAgentID == nil && actor.Role == models.RoleDeliveryAgent {
			agent := actor.ID
			r.DeliveryAgentID = &agent
		}
		return nil, nil
	})
}

// MarkReceivedBySeller completes the pickup and moves the order item to returned, which restocks it.
func (s *Service) MarkReceivedBySeller(ctx context.Context, returnID int64, actor models.Actor) (*models.OrderItemReturn, error) {
	return s.run(ctx, "MarkReceivedBySeller", returnID, func(ctx context.Context, tx store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		if err := checkAgent(actor, r); err != nil {
			return nil, err
		}
		if err := movePickup(r, models.PickupStatusDeliveredToSeller); err != nil {
			return nil, err
		}
		if err := advance(r, models.ReturnStatusReceivedBySeller); err != nil {
			return nil, err
		}
		now := s.now()
		r.ReceivedAt = &now

		return s.items.Apply(ctx, tx, fulfillment.TransitionRequest{
			ItemID: r.OrderItemID,
			Target: models.ItemStatusReturned,
			Actor:  models.SystemActor,
			Reason: fmt.Sprintf("return #%d received by seller", r.ID),
		})
	})
}

// ProcessRefund credits the refund to the customer's wallet and closes the return.
// On failure nothing changes and the return stays at received_by_seller for a later retry.
func (s *Service) ProcessRefund(ctx context.Context, returnID int64) (*models.OrderItemReturn, error) {
	return s.run(ctx, "ProcessRefund", returnID, func(ctx context.Context, tx store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error) {
		if !r.ReturnStatus.CanTransition(models.ReturnStatusRefundProcessed) {
			return nil, fmt.Errorf("%w: return %d is %s", models.ErrInvalidTransition, r.ID, r.ReturnStatus)
		}
		order, err := tx.GetOrder(ctx, r.OrderID)
		if err != nil {
			return nil, err
		}

		if r.RefundAmount.IsPositive() {
			orderID, storeID := r.OrderID, r.StoreID
			_, err := s.wallet.AddBalance(ctx, tx, r.UserID, wallet.Entry{
				Amount:      r.RefundAmount,
				Currency:    order.CurrencyCode,
				Description: fmt.Sprintf("Refund for return #%d of order #%d", r.ID, r.OrderID),
				Reference:   fmt.Sprintf("refund:return:%d", r.ID),
				OrderID:     &orderID,
				StoreID:     &storeID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to credit refund: %w", err)
			}
		}

		if err := advance(r, models.ReturnStatusRefundProcessed); err != nil {
			return nil, err
		}
		now := s.now()
		r.RefundProcessedAt = &now
		if err := advance(r, models.ReturnStatusCompleted); err != nil {
			return nil, err
		}

		return s.items.Apply(ctx, tx, fulfillment.TransitionRequest{
			ItemID: r.OrderItemID,
			Target: models.ItemStatusRefunded,
			Actor:  models.SystemActor,
			Reason: fmt.Sprintf("refund of return #%d", r.ID),
		})
	})
}

// GetReturn returns one return.
func (s *Service) GetReturn(ctx context.Context, returnID int64) (*models.OrderItemReturn, error) {
	var ret *models.OrderItemReturn
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		ret, err = tx.GetReturn(ctx, returnID)
		return err
	})
	return ret, err
}

type step func(ctx context.Context, tx store.Tx, r *models.OrderItemReturn) (*fulfillment.TransitionResult, error)

// run locks order, order item and return in that order, applies fn and persists the return.
func (s *Service) run(ctx context.Context, op string, returnID int64, fn step) (*models.OrderItemReturn, error) {
	ctx, span := util.StartSpan(ctx, "ReturnService."+op)
	defer span.End()

	var ret *models.OrderItemReturn
	var prev models.ReturnStatus
	var moved *fulfillment.TransitionResult
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		peek, err := tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if _, err := tx.GetOrderForUpdate(ctx, peek.OrderID); err != nil {
			return err
		}
		if _, err := tx.GetOrderItemForUpdate(ctx, peek.OrderItemID); err != nil {
			return err
		}
		r, err := tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}

		prev = r.ReturnStatus
		moved, err = fn(ctx, tx, r)
		if err != nil {
			return err
		}
		if err := tx.UpdateReturn(ctx, r); err != nil {
			return fmt.Errorf("failed to update return: %w", err)
		}
		ret = r
		return nil
	})
	if err != nil {
		s.logger.Info("Return operation refused",
			zap.String("op", op),
			zap.Int64("return_id", returnID),
			zap.Error(err))
		return nil, util.RecordError(span, err)
	}

	s.items.AfterCommit(ctx, moved)
	util.ReturnsTotal.WithLabelValues(string(ret.ReturnStatus)).Inc()
	s.logger.Info("Return updated",
		zap.Int64("return_id", ret.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(ret.ReturnStatus)),
		zap.String("pickup_status", string(ret.PickupStatus)))
	s.publish(ctx, ret, prev)
	return ret, nil
}

func (s *Service) publish(ctx context.Context, r *models.OrderItemReturn, prev models.ReturnStatus) {
	if s.events == nil {
		return
	}
	event := &models.ReturnStatusChangedEvent{
		BaseEvent:      models.NewBaseEvent(models.EventTypeReturnStatusChanged),
		ReturnID:       r.ID,
		OrderItemID:    r.OrderItemID,
		UserID:         r.UserID,
		PreviousStatus: prev,
		NewStatus:      r.ReturnStatus,
		PickupStatus:   r.PickupStatus,
	}
	if err := s.events.PublishReturnStatusChanged(ctx, event); err != nil {
		util.EventsPublishFailed.WithLabelValues(event.EventType).Inc()
		s.logger.Error("Failed to publish ReturnStatusChanged event",
			zap.Int64("return_id", r.ID),
			zap.Error(err))
	}
}

func advance(r *models.OrderItemReturn, target models.ReturnStatus) error {
	if !r.ReturnStatus.CanTransition(target) {
		return fmt.Errorf("%w: return %d %s -> %s", models.ErrInvalidTransition, r.ID, r.ReturnStatus, target)
	}
	r.ReturnStatus = target
	return nil
}

func movePickup(r *models.OrderItemReturn, target models.PickupStatus) error {
	if !r.PickupStatus.CanTransition(target) {
		return fmt.Errorf("%w: pickup of return %d %s -> %s", models.ErrInvalidTransition, r.ID, r.PickupStatus, target)
	}
	r.PickupStatus = target
	return nil
}

func checkSeller(ctx context.Context, tx store.Tx, actor models.Actor, r *models.OrderItemReturn) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleSeller:
		st, err := tx.GetStore(ctx, r.StoreID)
		if err != nil {
			return err
		}
		if st.SellerUserID != actor.ID {
			return fmt.Errorf("%w: store %d is not owned by seller %d", models.ErrActorNotPermitted, st.ID, actor.ID)
		}
		return nil
	}
	return fmt.Errorf("%w: %s may not decide a return", models.ErrActorNotPermitted, actor.Role)
}

func checkAgent(actor models.Actor, r *models.OrderItemReturn) error {
	switch actor.Role {
	case models.RoleAdmin, models.RoleSystem:
		return nil
	case models.RoleDeliveryAgent:
		if r.DeliveryAgentID != nil && *r.DeliveryAgentID != actor.ID {
			return fmt.Errorf("%w: pickup of return %d is assigned to agent %d", models.ErrActorNotPermitted, r.ID, *r.DeliveryAgentID)
		}
		return nil
	}
	return fmt.Errorf("%w: %s may not move a pickup", models.ErrActorNotPermitted, actor.Role)
}
