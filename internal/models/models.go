package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Order is the checkout header. Status is a projection of its items.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Status         OrderStatus     `db:"status" json:"status"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`
	CurrencyCode   string          `db:"currency_code" json:"currency_code"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DeliveryCharge decimal.Decimal `db:"delivery_charge" json:"delivery_charge"`
	PromoDiscount  decimal.Decimal `db:"promo_discount" json:"promo_discount"`
	WalletAmount   decimal.Decimal `db:"wallet_amount" json:"wallet_amount"`
	TotalPayable   decimal.Decimal `db:"total_payable" json:"total_payable"`
	PromoCode      string          `db:"promo_code" json:"promo_code,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// IsPrepaid reports whether the customer already paid outside cash-on-delivery.
func (o *Order) IsPrepaid() bool {
	return o.PaymentStatus == PaymentStatusPaid && o.PaymentMethod != PaymentMethodCOD
}

// OrderItem is one (store, variant, quantity) line of an order.
type OrderItem struct {
	ID                     int64           `db:"id" json:"id"`
	OrderID                int64           `db:"order_id" json:"order_id"`
	StoreID                int64           `db:"store_id" json:"store_id"`
	ProductVariantID       int64           `db:"product_variant_id" json:"product_variant_id"`
	Title                  string          `db:"title" json:"title"`
	Quantity               int             `db:"quantity" json:"quantity"`
	UnitPrice              decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal               decimal.Decimal `db:"subtotal" json:"subtotal"`
	PromoDiscount          decimal.Decimal `db:"promo_discount" json:"promo_discount"`
	Status                 OrderItemStatus `db:"status" json:"status"`
	RequiresOTP            bool            `db:"requires_otp" json:"requires_otp"`
	OTP                    string          `db:"otp" json:"-"`
	OTPVerified            bool            `db:"otp_verified" json:"otp_verified"`
	IsReturnable           bool            `db:"is_returnable" json:"is_returnable"`
	ReturnableDays         int             `db:"returnable_days" json:"returnable_days"`
	ReturnDeadline         *time.Time      `db:"return_deadline" json:"return_deadline,omitempty"`
	DeliveredAt            *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	SellerCommissionAmount decimal.Decimal `db:"seller_commission_amount" json:"seller_commission_amount"`
	AdminCommissionAmount  decimal.Decimal `db:"admin_commission_amount" json:"admin_commission_amount"`
	CommissionSettled      bool            `db:"commission_settled" json:"commission_settled"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updated_at"`
}

// RefundableAmount is what the customer actually paid for the line.
func (i *OrderItem) RefundableAmount() decimal.Decimal {
	amount := i.Subtotal.Sub(i.PromoDiscount)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// OrderItemReturn tracks a customer return of one delivered item.
type OrderItemReturn struct {
	ID                int64           `db:"id" json:"id"`
	OrderItemID       int64           `db:"order_item_id" json:"order_item_id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	StoreID           int64           `db:"store_id" json:"store_id"`
	DeliveryAgentID   *int64          `db:"delivery_agent_id" json:"delivery_agent_id,omitempty"`
	Reason            string          `db:"reason" json:"reason"`
	Images            pq.StringArray  `db:"images" json:"images"`
	RefundAmount      decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	ReturnStatus      ReturnStatus    `db:"return_status" json:"return_status"`
	PickupStatus      PickupStatus    `db:"pickup_status" json:"pickup_status"`
	SellerComment     string          `db:"seller_comment" json:"seller_comment,omitempty"`
	ApprovedAt        *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	PickedUpAt        *time.Time      `db:"picked_up_at" json:"picked_up_at,omitempty"`
	ReceivedAt        *time.Time      `db:"received_at" json:"received_at,omitempty"`
	RefundProcessedAt *time.Time      `db:"refund_processed_at" json:"refund_processed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Promo is a redeemable code.
type Promo struct {
	ID               int64             `db:"id" json:"id"`
	Code             string            `db:"code" json:"code"`
	StartDate        time.Time         `db:"start_date" json:"start_date"`
	EndDate          time.Time         `db:"end_date" json:"end_date"`
	DiscountType     PromoDiscountType `db:"discount_type" json:"discount_type"`
	PromoMode        PromoMode         `db:"promo_mode" json:"promo_mode"`
	DiscountAmount   decimal.Decimal   `db:"discount_amount" json:"discount_amount"`
	MaxDiscountValue decimal.Decimal   `db:"max_discount_value" json:"max_discount_value"`
	MinOrderTotal    decimal.Decimal   `db:"min_order_total" json:"min_order_total"`
	MaxTotalUsage    int               `db:"max_total_usage" json:"max_total_usage"`
	MaxUsagePerUser  int               `db:"max_usage_per_user" json:"max_usage_per_user"`
	UsageCount       int               `db:"usage_count" json:"usage_count"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}

// PromoUsage is the per-user usage event.
type PromoUsage struct {
	ID        int64     `db:"id" json:"id"`
	PromoID   int64     `db:"promo_id" json:"promo_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PromoLine is the discount or cashback attached to an order.
type PromoLine struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	PromoID        int64           `db:"promo_id" json:"promo_id"`
	PromoCode      string          `db:"promo_code" json:"promo_code"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	CashbackFlag   bool            `db:"cashback_flag" json:"cashback_flag"`
	IsAwarded      bool            `db:"is_awarded" json:"is_awarded"`
	AwardedAt      *time.Time      `db:"awarded_at" json:"awarded_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// CashbackCandidate is a row selected by the cashback sweep.
type CashbackCandidate struct {
	OrderID        int64           `db:"order_id"`
	UserID         int64           `db:"user_id"`
	CurrencyCode   string          `db:"currency_code"`
	PromoLineID    int64           `db:"promo_line_id"`
	PromoCode      string          `db:"promo_code"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
}

// StoreInventory is the stock counter of one variant in one store.
type StoreInventory struct {
	StoreID          int64     `db:"store_id" json:"store_id"`
	ProductVariantID int64     `db:"product_variant_id" json:"product_variant_id"`
	Stock            int       `db:"stock" json:"stock"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// StoreInventoryLog is the audit row paired with every stock mutation.
type StoreInventoryLog struct {
	ID               int64     `db:"id" json:"id"`
	StoreID          int64     `db:"store_id" json:"store_id"`
	ProductVariantID int64     `db:"product_variant_id" json:"product_variant_id"`
	Delta            int       `db:"delta" json:"delta"`
	StockAfter       int       `db:"stock_after" json:"stock_after"`
	Reason           string    `db:"reason" json:"reason"`
	OrderItemID      *int64    `db:"order_item_id" json:"order_item_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Wallet holds a user's balance. BlockedBalance is reserved by pending withdrawals.
type Wallet struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	BlockedBalance decimal.Decimal `db:"blocked_balance" json:"blocked_balance"`
	CurrencyCode   string          `db:"currency_code" json:"currency_code"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Available is the spendable part of the balance.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.BlockedBalance)
}

// WalletTransaction is one ledger row. Amount is always positive.
type WalletTransaction struct {
	ID           int64                 `db:"id" json:"id"`
	WalletID     int64                 `db:"wallet_id" json:"wallet_id"`
	UserID       int64                 `db:"user_id" json:"user_id"`
	Type         WalletTransactionType `db:"type" json:"type"`
	Amount       decimal.Decimal       `db:"amount" json:"amount"`
	CurrencyCode string                `db:"currency_code" json:"currency_code"`
	Description  string                `db:"description" json:"description"`
	Reference    string                `db:"reference" json:"reference,omitempty"`
	OrderID      *int64                `db:"order_id" json:"order_id,omitempty"`
	StoreID      *int64                `db:"store_id" json:"store_id,omitempty"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}

// Signed returns the amount with the sign of its effect on the balance.
func (t *WalletTransaction) Signed() decimal.Decimal {
	return t.Type.Sign(t.Amount)
}

// WithdrawalRequest covers both seller and delivery boy payouts.
type WithdrawalRequest struct {
	ID          int64            `db:"id" json:"id"`
	Kind        WithdrawalKind   `db:"kind" json:"kind"`
	UserID      int64            `db:"user_id" json:"user_id"`
	OwnerID     int64            `db:"owner_id" json:"owner_id"`
	Amount      decimal.Decimal  `db:"amount" json:"amount"`
	Status      WithdrawalStatus `db:"status" json:"status"`
	RequestNote string           `db:"request_note" json:"request_note,omitempty"`
	AdminRemark string           `db:"admin_remark" json:"admin_remark,omitempty"`
	ProcessedBy *int64           `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// ProductVariant is the read-only catalog view the core needs.
type ProductVariant struct {
	ID             int64           `db:"id" json:"id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Title          string          `db:"title" json:"title"`
	Price          decimal.Decimal `db:"price" json:"price"`
	RequiresOTP    bool            `db:"requires_otp" json:"requires_otp"`
	IsReturnable   bool            `db:"is_returnable" json:"is_returnable"`
	ReturnableDays int             `db:"returnable_days" json:"returnable_days"`
	IsCancelable   bool            `db:"is_cancelable" json:"is_cancelable"`
	// CancelableTill is the last item status at which a customer may cancel.
	CancelableTill OrderItemStatus `db:"cancelable_till" json:"cancelable_till"`
}

// Store is a seller storefront.
type Store struct {
	ID                  int64           `db:"id" json:"id"`
	SellerUserID        int64           `db:"seller_user_id" json:"seller_user_id"`
	Name                string          `db:"name" json:"name"`
	AdminCommissionRate decimal.Decimal `db:"admin_commission_rate" json:"admin_commission_rate"`
}

// Payment methods and statuses.
const (
	PaymentMethodCOD    = "cod"
	PaymentMethodWallet = "wallet"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)
