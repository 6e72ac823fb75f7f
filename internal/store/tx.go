package store

import (
	"context"
	"time"

	"marketplace-ledger/internal/models"
)

// Lookups that may legitimately miss return (nil, nil); Get*ForUpdate and
// Get* on required rows return an error wrapping models.ErrNotFound.

// OrderRepo persists orders and their items.
type OrderRepo interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error
	UpdateOrderPaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error

	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItem(ctx context.Context, id int64) (*models.OrderItem, error)
	GetOrderItemForUpdate(ctx context.Context, id int64) (*models.OrderItem, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderItem(ctx context.Context, item *models.OrderItem) error
	ListSettleableItems(ctx context.Context, now time.Time, limit int) ([]models.OrderItem, error)
}

// CatalogRepo reads the product catalog owned by other services.
type CatalogRepo interface {
	GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error)
	GetStore(ctx context.Context, id int64) (*models.Store, error)
}

// InventoryRepo is mutated only through the inventory manager.
type InventoryRepo interface {
	GetStockForUpdate(ctx context.Context, storeID, variantID int64) (*models.StoreInventory, error)
	GetStock(ctx context.Context, storeID, variantID int64) (*models.StoreInventory, error)
	SaveStock(ctx context.Context, inv *models.StoreInventory) error
	AppendStockLog(ctx context.Context, entry *models.StoreInventoryLog) error
	ListStockLogs(ctx context.Context, storeID, variantID int64) ([]models.StoreInventoryLog, error)
}

// WalletRepo is mutated only through the wallet manager.
type WalletRepo interface {
	GetOrCreateWalletForUpdate(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	UpdateWallet(ctx context.Context, w *models.Wallet) error
	FindTransactionByReference(ctx context.Context, walletID int64, reference string) (*models.WalletTransaction, error)
	AppendTransaction(ctx context.Context, t *models.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID int64) ([]models.WalletTransaction, error)

	CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error
	GetWithdrawalForUpdate(ctx context.Context, id int64) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error
}

// PromoRepo holds promo codes, usage events and per-order promo lines.
type PromoRepo interface {
	GetPromoByCode(ctx context.Context, code string) (*models.Promo, error)
	GetPromoByCodeForUpdate(ctx context.Context, code string) (*models.Promo, error)
	SetPromoUsageCount(ctx context.Context, promoID int64, count int) error
	CountUserUsages(ctx context.Context, promoID, userID int64) (int, error)
	CreatePromoUsage(ctx context.Context, usage *models.PromoUsage) error

	CreatePromoLine(ctx context.Context, line *models.PromoLine) error
	GetPromoLineByOrderForUpdate(ctx context.Context, orderID int64) (*models.PromoLine, error)
	MarkPromoLineAwarded(ctx context.Context, id int64, at time.Time) error
	ListCashbackCandidates(ctx context.Context, cutoff time.Time) ([]models.CashbackCandidate, error)
}

// ReturnRepo persists item returns.
type ReturnRepo interface {
	CreateReturn(ctx context.Context, r *models.OrderItemReturn) error
	GetReturn(ctx context.Context, id int64) (*models.OrderItemReturn, error)
	GetReturnForUpdate(ctx context.Context, id int64) (*models.OrderItemReturn, error)
	HasActiveReturn(ctx context.Context, orderItemID int64) (bool, error)
	UpdateReturn(ctx context.Context, r *models.OrderItemReturn) error
	ListReturnIDsByStatus(ctx context.Context, status models.ReturnStatus) ([]int64, error)
}

// Tx is one unit of work. Every repo call made through it commits or rolls back together.
type Tx interface {
	OrderRepo
	CatalogRepo
	InventoryRepo
	WalletRepo
	PromoRepo
	ReturnRepo
}

// Ledger runs units of work against the durable store.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
