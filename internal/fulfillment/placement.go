package fulfillment

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"

	"marketplace-ledger/internal/inventory"
	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/promo"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"
	"marketplace-ledger/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// PlaceOrderRequest represents a checkout
type PlaceOrderRequest struct {
	UserID         int64                `json:"user_id" binding:"required"`
	Items          []CartItem           `json:"items" binding:"required,min=1"`
	PaymentMethod  string               `json:"payment_method" binding:"required"`
	PaymentStatus  models.PaymentStatus `json:"payment_status,omitempty"`
	WalletAmount   decimal.Decimal      `json:"wallet_amount"`
	PromoCode      string               `json:"promo_code,omitempty"`
	DeliveryCharge decimal.Decimal      `json:"delivery_charge"`
	Currency       string               `json:"currency,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// CartItem represents one line of a checkout
type CartItem struct {
	StoreID   int64 `json:"store_id" binding:"required"`
	VariantID int64 `json:"product_variant_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// PlaceOrderResult is the committed order. DeliveryCodes maps order item id to the OTP
// the customer hands to the rider.
type PlaceOrderResult struct {
	Order         models.Order       `json:"order"`
	Items         []models.OrderItem `json:"items"`
	PromoLine     *models.PromoLine  `json:"promo_line,omitempty"`
	DeliveryCodes map[int64]string   `json:"delivery_codes,omitempty"`
	Replayed      bool               `json:"replayed"`
}

type pricedLine struct {
	cart    CartItem
	variant *models.ProductVariant
	store   *models.Store
	item    *models.OrderItem
}

func (r *PlaceOrderRequest) validate() error {
	if r.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", models.ErrInvalidInput)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order has no items", models.ErrInvalidInput)
	}
	if r.PaymentMethod == "" {
		return fmt.Errorf("%w: payment_method is required", models.ErrInvalidInput)
	}
	switch r.PaymentStatus {
	case "", models.PaymentStatusPending, models.PaymentStatusPaid:
	default:
		return fmt.Errorf("%w: payment_status %q", models.ErrInvalidInput, r.PaymentStatus)
	}
	if r.WalletAmount.IsNegative() || r.DeliveryCharge.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", models.ErrInvalidInput)
	}

	seen := map[[2]int64]bool{}
	for _, it := range r.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for variant %d", models.ErrInvalidQuantity, it.VariantID)
		}
		key := [2]int64{it.StoreID, it.VariantID}
		if seen[key] {
			return fmt.Errorf("%w: duplicate line for store %d variant %d", models.ErrInvalidInput, it.StoreID, it.VariantID)
		}
		seen[key] = true
	}
	return nil
}

// PlaceOrder creates the order, its items, stock debits, promo usage and wallet payment in one unit of work.
// Any failure leaves no trace of the order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.PlaceOrder")
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues(models.CodeOf(err)).Inc()
		return nil, util.RecordError(span, err)
	}
	if req.Currency == "" {
		req.Currency = s.currency
	}

	var result *PlaceOrderResult
	var levels []models.StoreInventory
	err := s.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		result, levels, err = s.placeOrder(ctx, tx, req)
		return err
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(models.CodeOf(err)).Inc()
		s.logger.Info("Order placement rejected",
			zap.Int64("user_id", req.UserID),
			zap.Error(err))
		return nil, util.RecordError(span, err)
	}

	if result.Replayed {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", result.Order.ID))
		return result, nil
	}

	util.OrdersPlacedTotal.Inc()
	s.inventory.Mirror(ctx, levels...)
	s.logger.Info("Order placed",
		zap.Int64("order_id", result.Order.ID),
		zap.Int("items", len(result.Items)),
		zap.String("total_payable", result.Order.TotalPayable.StringFixed(2)))

	if s.events != nil {
		ids := make([]int64, 0, len(result.Items))
		for _, it := range result.Items {
			ids = append(ids, it.ID)
		}
		event := &models.OrderPlacedEvent{
			BaseEvent:    models.NewBaseEvent(models.EventTypeOrderPlaced),
			OrderID:      result.Order.ID,
			UserID:       result.Order.UserID,
			TotalPayable: result.Order.TotalPayable,
			ItemIDs:      ids,
		}
		if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
			util.EventsPublishFailed.WithLabelValues(event.EventType).Inc()
			s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) placeOrder(ctx context.Context, tx store.Tx, req PlaceOrderRequest) (*PlaceOrderResult, []models.StoreInventory, error) {
	if req.IdempotencyKey != "" {
		existing, err := tx.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			items, err := tx.ListOrderItems(ctx, existing.ID)
			if err != nil {
				return nil, nil, err
			}
			return &PlaceOrderResult{Order: *existing, Items: items, Replayed: true}, nil, nil
		}
	}

	lines := make([]*pricedLine, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, ci := range req.Items {
		variant, err := tx.GetVariant(ctx, ci.VariantID)
		if err != nil {
			return nil, nil, err
		}
		st, err := tx.GetStore(ctx, ci.StoreID)
		if err != nil {
			return nil, nil, err
		}
		lineTotal := variant.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, &pricedLine{
			cart:    ci,
			variant: variant,
			store:   st,
			item: &models.OrderItem{
				StoreID:          ci.StoreID,
				ProductVariantID: ci.VariantID,
				Title:            variant.Title,
				Quantity:         ci.Quantity,
				UnitPrice:        variant.Price,
				Subtotal:         lineTotal,
				PromoDiscount:    decimal.Zero,
				RequiresOTP:      variant.RequiresOTP,
				IsReturnable:     variant.IsReturnable,
				ReturnableDays:   variant.ReturnableDays,
			},
		})
	}

	var app *promo.Application
	if req.PromoCode != "" {
		var err error
		app, err = s.promos.ValidateAndApply(ctx, tx, req.PromoCode, req.UserID, subtotal, req.DeliveryCharge)
		if err != nil {
			return nil, nil, err
		}
	}

	instantDiscount := decimal.Zero
	if app != nil && app.Instant() {
		instantDiscount = app.Discount
		if app.Promo.DiscountType != models.DiscountFreeShipping {
			allocateDiscount(lines, subtotal, instantDiscount)
		}
	}

	total := subtotal.Add(req.DeliveryCharge).Sub(instantDiscount)
	if req.WalletAmount.GreaterThan(total) {
		return nil, nil, fmt.Errorf("%w: wallet_amount %s exceeds order total %s",
			models.ErrInvalidInput, req.WalletAmount.StringFixed(2), total.StringFixed(2))
	}

	paymentMethod := req.PaymentMethod
	paymentStatus := req.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = models.PaymentStatusPending
	}
	if req.WalletAmount.IsPositive() && req.WalletAmount.Equal(total) {
		paymentMethod = models.PaymentMethodWallet
		paymentStatus = models.PaymentStatusPaid
	}
	if paymentMethod == models.PaymentMethodCOD {
		paymentStatus = models.PaymentStatusPending
	}

	initial := models.ItemStatusPending
	if paymentStatus == models.PaymentStatusPaid || paymentMethod == models.PaymentMethodCOD {
		initial = models.ItemStatusAwaitingStoreResponse
	}

	order := &models.Order{
		UserID:         req.UserID,
		Status:         inFlightOrderStatus[initial],
		PaymentMethod:  paymentMethod,
		PaymentStatus:  paymentStatus,
		CurrencyCode:   req.Currency,
		Subtotal:       subtotal,
		DeliveryCharge: req.DeliveryCharge,
		PromoDiscount:  instantDiscount,
		WalletAmount:   req.WalletAmount,
		TotalPayable:   total.Sub(req.WalletAmount),
		IdempotencyKey: req.IdempotencyKey,
	}
	if app != nil {
		order.PromoCode = app.Promo.Code
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := &PlaceOrderResult{Order: *order}
	for _, l := range lines {
		it := l.item
		it.OrderID = order.ID
		it.Status = initial
		net := it.Subtotal.Sub(it.PromoDiscount)
		it.AdminCommissionAmount = net.Mul(l.store.AdminCommissionRate).Div(hundred).Round(2)
		it.SellerCommissionAmount = net.Sub(it.AdminCommissionAmount)
		if it.RequiresOTP {
			otp, err := generateOTP()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to issue delivery otp: %w", err)
			}
			it.OTP = otp
		}
		if err := tx.CreateOrderItem(ctx, it); err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}
		if it.OTP != "" {
			if result.DeliveryCodes == nil {
				result.DeliveryCodes = map[int64]string{}
			}
			result.DeliveryCodes[it.ID] = it.OTP
		}
	}

	sorted := append([]*pricedLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].cart.StoreID != sorted[j].cart.StoreID {
			return sorted[i].cart.StoreID < sorted[j].cart.StoreID
		}
		return sorted[i].cart.VariantID < sorted[j].cart.VariantID
	})
	levels := make([]models.StoreInventory, 0, len(sorted))
	for _, l := range sorted {
		itemID := l.item.ID
		inv, err := s.inventory.RemoveStock(ctx, tx, inventory.Movement{
			StoreID:     l.cart.StoreID,
			VariantID:   l.cart.VariantID,
			Quantity:    l.cart.Quantity,
			Reason:      fmt.Sprintf("Sold %d item(s) in order #%d", l.cart.Quantity, order.ID),
			OrderItemID: &itemID,
		})
		if err != nil {
			return nil, nil, err
		}
		levels = append(levels, *inv)
	}

	if app != nil {
		line, err := s.promos.RecordUsage(ctx, tx, app, order.ID)
		if err != nil {
			return nil, nil, err
		}
		result.PromoLine = line
	}

	if req.WalletAmount.IsPositive() {
		orderID := order.ID
		_, err := s.wallet.DeductBalance(ctx, tx, req.UserID, wallet.Entry{
			Amount:      req.WalletAmount,
			Currency:    req.Currency,
			Description: fmt.Sprintf("Payment for order #%d", order.ID),
			Reference:   fmt.Sprintf("order:%d:payment", order.ID),
			OrderID:     &orderID,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	for _, l := range lines {
		result.Items = append(result.Items, *l.item)
	}
	return result, levels, nil
}

// allocateDiscount splits an order-level discount across lines by subtotal; the last line takes the rounding remainder.
func allocateDiscount(lines []*pricedLine, subtotal, discount decimal.Decimal) {
	if !subtotal.IsPositive() || !discount.IsPositive() {
		return
	}
	remaining := discount
	for i, l := range lines {
		share := remaining
		if i < len(lines)-1 {
			share = discount.Mul(l.item.Subtotal).Div(subtotal).Round(2)
			remaining = remaining.Sub(share)
		}
		l.item.PromoDiscount = share
	}
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
