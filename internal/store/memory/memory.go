package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"

	"github.com/shopspring/decimal"
)

type stockKey struct {
	storeID   int64
	variantID int64
}

type walletRef struct {
	walletID  int64
	reference string
}

// state is everything a transaction can see. RunInTx works on a copy and swaps it in on commit.
type state struct {
	seq map[string]int64

	orders       map[int64]models.Order
	orderByIdem  map[string]int64
	items        map[int64]models.OrderItem
	variants     map[int64]models.ProductVariant
	stores       map[int64]models.Store
	stock        map[stockKey]models.StoreInventory
	stockLogs    []models.StoreInventoryLog
	wallets      map[int64]models.Wallet
	walletByUser map[int64]int64
	walletTxns   []models.WalletTransaction
	walletRefs   map[walletRef]int
	withdrawals  map[int64]models.WithdrawalRequest
	promos       map[int64]models.Promo
	promoByCode  map[string]int64
	promoUsages  []models.PromoUsage
	promoLines   map[int64]models.PromoLine
	lineByOrder  map[int64]int64
	returns      map[int64]models.OrderItemReturn
}

func newState() *state {
	return &state{
		seq:          map[string]int64{},
		orders:       map[int64]models.Order{},
		orderByIdem:  map[string]int64{},
		items:        map[int64]models.OrderItem{},
		variants:     map[int64]models.ProductVariant{},
		stores:       map[int64]models.Store{},
		stock:        map[stockKey]models.StoreInventory{},
		wallets:      map[int64]models.Wallet{},
		walletByUser: map[int64]int64{},
		walletRefs:   map[walletRef]int{},
		withdrawals:  map[int64]models.WithdrawalRequest{},
		promos:       map[int64]models.Promo{},
		promoByCode:  map[string]int64{},
		promoLines:   map[int64]models.PromoLine{},
		lineByOrder:  map[int64]int64{},
		returns:      map[int64]models.OrderItemReturn{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		seq:          cloneMap(s.seq),
		orders:       cloneMap(s.orders),
		orderByIdem:  cloneMap(s.orderByIdem),
		items:        cloneMap(s.items),
		variants:     cloneMap(s.variants),
		stores:       cloneMap(s.stores),
		stock:        cloneMap(s.stock),
		stockLogs:    append([]models.StoreInventoryLog(nil), s.stockLogs...),
		wallets:      cloneMap(s.wallets),
		walletByUser: cloneMap(s.walletByUser),
		walletTxns:   append([]models.WalletTransaction(nil), s.walletTxns...),
		walletRefs:   cloneMap(s.walletRefs),
		withdrawals:  cloneMap(s.withdrawals),
		promos:       cloneMap(s.promos),
		promoByCode:  cloneMap(s.promoByCode),
		promoUsages:  append([]models.PromoUsage(nil), s.promoUsages...),
		promoLines:   cloneMap(s.promoLines),
		lineByOrder:  cloneMap(s.lineByOrder),
		returns:      cloneMap(s.returns),
	}
}

func (s *state) next(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

// Store is an in-process ledger for development and tests. Transactions are
// serialized behind one mutex, which gives the same isolation the row locks
// give in Postgres.
type Store struct {
	mu     sync.Mutex
	state  *state
	now    func() time.Time
	faults map[string]error
}

var _ store.Ledger = (*Store)(nil)

func New() *Store {
	return &Store{
		state:  newState(),
		now:    time.Now,
		faults: map[string]error{},
	}
}

// SetClock overrides the timestamp source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes every call to the named repo method fail with err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

// RunInTx runs fn against a private copy of the state and publishes it only if fn succeeds.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work, now: s.now, faults: s.faults}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PutVariant seeds a catalog variant.
func (s *Store) PutVariant(v models.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.variants[v.ID] = v
}

// PutStore seeds a seller store.
func (s *Store) PutStore(st models.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stores[st.ID] = st
}

// PutPromo seeds a promo code and returns it with its assigned id.
func (s *Store) PutPromo(p models.Promo) models.Promo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.state.next("promos")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.state.promos[p.ID] = p
	s.state.promoByCode[p.Code] = p.ID
	return p
}

// SetStock seeds a stock counter without writing a log row.
func (s *Store) SetStock(storeID, variantID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stockKey{storeID, variantID}
	s.state.stock[key] = models.StoreInventory{
		StoreID: storeID, ProductVariantID: variantID, Stock: stock, UpdatedAt: s.now(),
	}
}

// SetOrderUpdatedAt backdates an order, as a long-settled order would be.
func (s *Store) SetOrderUpdatedAt(orderID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state.orders[orderID]; ok {
		o.UpdatedAt = at
		s.state.orders[orderID] = o
	}
}

type memTx struct {
	st     *state
	now    func() time.Time
	faults map[string]error
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) fault(method string) error {
	if err, ok := t.faults[method]; ok {
		return err
	}
	return nil
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, models.ErrNotFound)
}

// Orders

func (t *memTx) CreateOrder(_ context.Context, order *models.Order) error {
	if err := t.fault("CreateOrder"); err != nil {
		return err
	}
	if order.IdempotencyKey != "" {
		if _, dup := t.st.orderByIdem[order.IdempotencyKey]; dup {
			return fmt.Errorf("duplicate idempotency key %q", order.IdempotencyKey)
		}
	}
	order.ID = t.st.next("orders")
	order.CreatedAt = t.now()
	order.UpdatedAt = order.CreatedAt
	t.st.orders[order.ID] = *order
	if order.IdempotencyKey != "" {
		t.st.orderByIdem[order.IdempotencyKey] = order.ID
	}
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return &o, nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memTx) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	id, ok := t.st.orderByIdem[key]
	if !ok {
		return nil, nil
	}
	o := t.st.orders[id]
	return &o, nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, id int64, status models.OrderStatus) error {
	o, ok := t.st.orders[id]
	if !ok {
		return notFound("order", id)
	}
	o.Status = status
	o.UpdatedAt = t.now()
	t.st.orders[id] = o
	return nil
}

func (t *memTx) UpdateOrderPaymentStatus(_ context.Context, id int64, status models.PaymentStatus) error {
	o, ok := t.st.orders[id]
	if !ok {
		return notFound("order", id)
	}
	o.PaymentStatus = status
	o.UpdatedAt = t.now()
	t.st.orders[id] = o
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return notFound("order", item.OrderID)
	}
	item.ID = t.st.next("order_items")
	item.CreatedAt = t.now()
	item.UpdatedAt = item.CreatedAt
	t.st.items[item.ID] = *item
	return nil
}

func (t *memTx) GetOrderItem(_ context.Context, id int64) (*models.OrderItem, error) {
	it, ok := t.st.items[id]
	if !ok {
		return nil, notFound("order item", id)
	}
	return &it, nil
}

func (t *memTx) GetOrderItemForUpdate(ctx context.Context, id int64) (*models.OrderItem, error) {
	return t.GetOrderItem(ctx, id)
}

func (t *memTx) ListOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	var out []models.OrderItem
	for _, it := range t.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateOrderItem(_ context.Context, item *models.OrderItem) error {
	if err := t.fault("UpdateOrderItem"); err != nil {
		return err
	}
	cur, ok := t.st.items[item.ID]
	if !ok {
		return notFound("order item", item.ID)
	}
	cur.Status = item.Status
	cur.OTPVerified = item.OTPVerified
	cur.ReturnDeadline = item.ReturnDeadline
	cur.DeliveredAt = item.DeliveredAt
	cur.CommissionSettled = item.CommissionSettled
	cur.UpdatedAt = t.now()
	t.st.items[item.ID] = cur
	item.UpdatedAt = cur.UpdatedAt
	return nil
}

func (t *memTx) ListSettleableItems(_ context.Context, now time.Time, limit int) ([]models.OrderItem, error) {
	var out []models.OrderItem
	for _, it := range t.st.items {
		if it.Status != models.ItemStatusDelivered || it.CommissionSettled {
			continue
		}
		if it.ReturnDeadline != nil && it.ReturnDeadline.After(now) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Catalog

func (t *memTx) GetVariant(_ context.Context, id int64) (*models.ProductVariant, error) {
	v, ok := t.st.variants[id]
	if !ok {
		return nil, notFound("product variant", id)
	}
	return &v, nil
}

func (t *memTx) GetStore(_ context.Context, id int64) (*models.Store, error) {
	s, ok := t.st.stores[id]
	if !ok {
		return nil, notFound("store", id)
	}
	return &s, nil
}

// Inventory

func (t *memTx) GetStockForUpdate(ctx context.Context, storeID, variantID int64) (*models.StoreInventory, error) {
	return t.GetStock(ctx, storeID, variantID)
}

func (t *memTx) GetStock(_ context.Context, storeID, variantID int64) (*models.StoreInventory, error) {
	inv, ok := t.st.stock[stockKey{storeID, variantID}]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (t *memTx) SaveStock(_ context.Context, inv *models.StoreInventory) error {
	if err := t.fault("SaveStock"); err != nil {
		return err
	}
	if inv.Stock < 0 {
		return fmt.Errorf("stock for store %d variant %d would be negative", inv.StoreID, inv.ProductVariantID)
	}
	inv.UpdatedAt = t.now()
	t.st.stock[stockKey{inv.StoreID, inv.ProductVariantID}] = *inv
	return nil
}

func (t *memTx) AppendStockLog(_ context.Context, entry *models.StoreInventoryLog) error {
	entry.ID = t.st.next("store_inventory_logs")
	entry.CreatedAt = t.now()
	t.st.stockLogs = append(t.st.stockLogs, *entry)
	return nil
}

func (t *memTx) ListStockLogs(_ context.Context, storeID, variantID int64) ([]models.StoreInventoryLog, error) {
	var out []models.StoreInventoryLog
	for _, l := range t.st.stockLogs {
		if l.StoreID == storeID && l.ProductVariantID == variantID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Wallets

func (t *memTx) GetOrCreateWalletForUpdate(_ context.Context, userID int64, currency string) (*models.Wallet, error) {
	if id, ok := t.st.walletByUser[userID]; ok {
		w := t.st.wallets[id]
		return &w, nil
	}
	now := t.now()
	w := models.Wallet{
		ID:             t.st.next("wallets"),
		UserID:         userID,
		Balance:        decimal.Zero,
		BlockedBalance: decimal.Zero,
		CurrencyCode:   currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.st.wallets[w.ID] = w
	t.st.walletByUser[userID] = w.ID
	return &w, nil
}

func (t *memTx) GetWallet(_ context.Context, userID int64) (*models.Wallet, error) {
	id, ok := t.st.walletByUser[userID]
	if !ok {
		return nil, fmt.Errorf("wallet for user %d: %w", userID, models.ErrNotFound)
	}
	w := t.st.wallets[id]
	return &w, nil
}

func (t *memTx) UpdateWallet(_ context.Context, w *models.Wallet) error {
	if err := t.fault("UpdateWallet"); err != nil {
		return err
	}
	if w.BlockedBalance.IsNegative() || w.Balance.LessThan(w.BlockedBalance) {
		return fmt.Errorf("wallet %d violates balance >= blocked_balance >= 0", w.ID)
	}
	cur, ok := t.st.wallets[w.ID]
	if !ok {
		return notFound("wallet", w.ID)
	}
	cur.Balance = w.Balance
	cur.BlockedBalance = w.BlockedBalance
	cur.UpdatedAt = t.now()
	t.st.wallets[w.ID] = cur
	return nil
}

func (t *memTx) FindTransactionByReference(_ context.Context, walletID int64, reference string) (*models.WalletTransaction, error) {
	idx, ok := t.st.walletRefs[walletRef{walletID, reference}]
	if !ok {
		return nil, nil
	}
	txn := t.st.walletTxns[idx]
	return &txn, nil
}

func (t *memTx) AppendTransaction(_ context.Context, txn *models.WalletTransaction) error {
	if err := t.fault("AppendTransaction"); err != nil {
		return err
	}
	if txn.Reference != "" {
		if _, dup := t.st.walletRefs[walletRef{txn.WalletID, txn.Reference}]; dup {
			return fmt.Errorf("duplicate wallet reference %q", txn.Reference)
		}
	}
	txn.ID = t.st.next("wallet_transactions")
	txn.CreatedAt = t.now()
	t.st.walletTxns = append(t.st.walletTxns, *txn)
	if txn.Reference != "" {
		t.st.walletRefs[walletRef{txn.WalletID, txn.Reference}] = len(t.st.walletTxns) - 1
	}
	return nil
}

func (t *memTx) ListTransactions(_ context.Context, walletID int64) ([]models.WalletTransaction, error) {
	var out []models.WalletTransaction
	for _, txn := range t.st.walletTxns {
		if txn.WalletID == walletID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (t *memTx) CreateWithdrawal(_ context.Context, req *models.WithdrawalRequest) error {
	req.ID = t.st.next("withdrawal_requests")
	req.CreatedAt = t.now()
	t.st.withdrawals[req.ID] = *req
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(_ context.Context, id int64) (*models.WithdrawalRequest, error) {
	req, ok := t.st.withdrawals[id]
	if !ok {
		return nil, notFound("withdrawal request", id)
	}
	return &req, nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, req *models.WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[req.ID]; !ok {
		return notFound("withdrawal request", req.ID)
	}
	t.st.withdrawals[req.ID] = *req
	return nil
}

// Promos

func (t *memTx) GetPromoByCode(_ context.Context, code string) (*models.Promo, error) {
	id, ok := t.st.promoByCode[code]
	if !ok {
		return nil, nil
	}
	p := t.st.promos[id]
	return &p, nil
}

func (t *memTx) GetPromoByCodeForUpdate(ctx context.Context, code string) (*models.Promo, error) {
	return t.GetPromoByCode(ctx, code)
}

func (t *memTx) SetPromoUsageCount(_ context.Context, promoID int64, count int) error {
	p, ok := t.st.promos[promoID]
	if !ok {
		return notFound("promo", promoID)
	}
	if p.MaxTotalUsage > 0 && count > p.MaxTotalUsage {
		return fmt.Errorf("promo %d usage_count %d exceeds max_total_usage %d", promoID, count, p.MaxTotalUsage)
	}
	p.UsageCount = count
	t.st.promos[promoID] = p
	return nil
}

func (t *memTx) CountUserUsages(_ context.Context, promoID, userID int64) (int, error) {
	n := 0
	for _, u := range t.st.promoUsages {
		if u.PromoID == promoID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreatePromoUsage(_ context.Context, usage *models.PromoUsage) error {
	usage.ID = t.st.next("promo_usages")
	usage.CreatedAt = t.now()
	t.st.promoUsages = append(t.st.promoUsages, *usage)
	return nil
}

func (t *memTx) CreatePromoLine(_ context.Context, line *models.PromoLine) error {
	if _, dup := t.st.lineByOrder[line.OrderID]; dup {
		return fmt.Errorf("order %d already has a promo line", line.OrderID)
	}
	line.ID = t.st.next("order_promo_lines")
	line.CreatedAt = t.now()
	t.st.promoLines[line.ID] = *line
	t.st.lineByOrder[line.OrderID] = line.ID
	return nil
}

func (t *memTx) GetPromoLineByOrderForUpdate(_ context.Context, orderID int64) (*models.PromoLine, error) {
	id, ok := t.st.lineByOrder[orderID]
	if !ok {
		return nil, nil
	}
	l := t.st.promoLines[id]
	return &l, nil
}

func (t *memTx) MarkPromoLineAwarded(_ context.Context, id int64, at time.Time) error {
	if err := t.fault("MarkPromoLineAwarded"); err != nil {
		return err
	}
	l, ok := t.st.promoLines[id]
	if !ok {
		return notFound("promo line", id)
	}
	if l.IsAwarded {
		return nil
	}
	l.IsAwarded = true
	l.AwardedAt = &at
	t.st.promoLines[id] = l
	return nil
}

func (t *memTx) ListCashbackCandidates(_ context.Context, cutoff time.Time) ([]models.CashbackCandidate, error) {
	var out []models.CashbackCandidate
	for orderID, lineID := range t.st.lineByOrder {
		o := t.st.orders[orderID]
		l := t.st.promoLines[lineID]
		if o.PaymentStatus != models.PaymentStatusPaid || !l.CashbackFlag || l.IsAwarded {
			continue
		}
		if o.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, models.CashbackCandidate{
			OrderID:        o.ID,
			UserID:         o.UserID,
			CurrencyCode:   o.CurrencyCode,
			PromoLineID:    l.ID,
			PromoCode:      l.PromoCode,
			DiscountAmount: l.DiscountAmount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// Returns

func (t *memTx) CreateReturn(_ context.Context, r *models.OrderItemReturn) error {
	for _, existing := range t.st.returns {
		if existing.OrderItemID == r.OrderItemID && existing.ReturnStatus.Active() {
			return fmt.Errorf("order item %d already has an active return", r.OrderItemID)
		}
	}
	r.ID = t.st.next("order_item_returns")
	r.CreatedAt = t.now()
	r.UpdatedAt = r.CreatedAt
	t.st.returns[r.ID] = *r
	return nil
}

func (t *memTx) GetReturn(_ context.Context, id int64) (*models.OrderItemReturn, error) {
	r, ok := t.st.returns[id]
	if !ok {
		return nil, notFound("return", id)
	}
	return &r, nil
}

func (t *memTx) GetReturnForUpdate(ctx context.Context, id int64) (*models.OrderItemReturn, error) {
	return t.GetReturn(ctx, id)
}

func (t *memTx) HasActiveReturn(_ context.Context, orderItemID int64) (bool, error) {
	for _, r := range t.st.returns {
		if r.OrderItemID == orderItemID && r.ReturnStatus.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateReturn(_ context.Context, r *models.OrderItemReturn) error {
	if _, ok := t.st.returns[r.ID]; !ok {
		return notFound("return", r.ID)
	}
	r.UpdatedAt = t.now()
	t.st.returns[r.ID] = *r
	return nil
}

func (t *memTx) ListReturnIDsByStatus(_ context.Context, status models.ReturnStatus) ([]int64, error) {
	var ids []int64
	for id, r := range t.st.returns {
		if r.ReturnStatus == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
