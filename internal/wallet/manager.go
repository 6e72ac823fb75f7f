package wallet

import (
	"context"
	"fmt"
	"time"

	"marketplace-ledger/internal/models"
	"marketplace-ledger/internal/store"
	"marketplace-ledger/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher receives withdrawal decisions after commit.
type EventPublisher interface {
	PublishWithdrawalProcessed(ctx context.Context, event *models.WithdrawalProcessedEvent) error
}

// Entry describes one balance movement. Reference, when set, makes the entry apply at most once per wallet.
type Entry struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Reference   string
	OrderID     *int64
	StoreID     *int64
}

// Result is the outcome of a balance movement.
type Result struct {
	Wallet      models.Wallet
	Transaction *models.WalletTransaction
	// Duplicate is set when Reference was already applied; nothing changed.
	Duplicate bool
}

// WithdrawalInput is a payout request from a seller or delivery boy.
type WithdrawalInput struct {
	Kind    models.WithdrawalKind
	UserID  int64
	OwnerID int64
	Amount  decimal.Decimal
	Note    string
}

// Reconciliation compares the cached balance with the ledger.
type Reconciliation struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
}

// Manager is the only writer of wallets and wallet_transactions.
type Manager struct {
	ledger   store.Ledger
	events   EventPublisher
	currency string
	logger   *zap.Logger
}

// NewManager creates a wallet manager. events may be nil.
func NewManager(ledger store.Ledger, events EventPublisher, defaultCurrency string) *Manager {
	return &Manager{
		ledger:   ledger,
		events:   events,
		currency: defaultCurrency,
		logger:   util.ComponentLogger("wallet"),
	}
}

// AddBalance credits the user's wallet inside tx.
func (m *Manager) AddBalance(ctx context.Context, tx store.Tx, userID int64, e Entry) (*Result, error) {
	return m.move(ctx, tx, userID, models.WalletDeposit, e)
}

// DeductBalance debits the spendable balance inside tx.
func (m *Manager) DeductBalance(ctx context.Context, tx store.Tx, userID int64, e Entry) (*Result, error) {
	return m.move(ctx, tx, userID, models.WalletWithdrawal, e)
}

func (m *Manager) move(ctx context.Context, tx store.Tx, userID int64, typ models.WalletTransactionType, e Entry) (*Result, error) {
	if !e.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	w, err := tx.GetOrCreateWalletForUpdate(ctx, userID, m.currencyOr(e.Currency))
	if err != nil {
		return nil, err
	}

	if e.Reference != "" {
		existing, err := tx.FindTransactionByReference(ctx, w.ID, e.Reference)
		if err != nil {
			return nil, fmt.Errorf("failed to check wallet reference: %w", err)
		}
		if existing != nil {
			m.logger.Info("Wallet entry already applied",
				zap.Int64("user_id", userID),
				zap.String("reference", e.Reference))
			return &Result{Wallet: *w, Transaction: existing, Duplicate: true}, nil
		}
	}

	if typ == models.WalletWithdrawal && w.Available().LessThan(e.Amount) {
		return nil, fmt.Errorf("%w: available=%s requested=%s",
			models.ErrInsufficientFunds, w.Available().StringFixed(2), e.Amount.StringFixed(2))
	}

	w.Balance = w.Balance.Add(typ.Sign(e.Amount))
	if err := tx.UpdateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	txn := &models.WalletTransaction{
		WalletID:     w.ID,
		UserID:       userID,
		Type:         typ,
		Amount:       e.Amount,
		CurrencyCode: m.currencyOr(e.Currency),
		Description:  e.Description,
		Reference:    e.Reference,
		OrderID:      e.OrderID,
		StoreID:      e.StoreID,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to append wallet transaction: %w", err)
	}

	util.WalletEntriesTotal.WithLabelValues(string(typ)).Inc()
	return &Result{Wallet: *w, Transaction: txn}, nil
}

// Deposit credits a wallet in its own transaction (admin top-up).
func (m *Manager) Deposit(ctx context.Context, userID int64, e Entry) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "WalletManager.Deposit")
	defer span.End()

	var res *Result
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = m.AddBalance(ctx, tx, userID, e)
		return err
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}
	return res, nil
}

// CreateWithdrawalRequest reserves amount in blocked_balance until an admin decides.
func (m *Manager) CreateWithdrawalRequest(ctx context.Context, in WithdrawalInput) (*models.WithdrawalRequest, error) {
	ctx, span := util.StartSpan(ctx, "WalletManager.CreateWithdrawalRequest")
	defer span.End()

	if !in.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	if in.Kind != models.WithdrawalSeller && in.Kind != models.WithdrawalDeliveryBoy {
		return nil, fmt.Errorf("%w: unknown withdrawal kind %q", models.ErrInvalidInput, in.Kind)
	}

	var req *models.WithdrawalRequest
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		w, err := tx.GetOrCreateWalletForUpdate(ctx, in.UserID, m.currency)
		if err != nil {
			return err
		}

		if w.Available().LessThan(in.Amount) {
			return fmt.Errorf("%w: available=%s requested=%s",
				models.ErrInsufficientFunds, w.Available().StringFixed(2), in.Amount.StringFixed(2))
		}

		w.BlockedBalance = w.BlockedBalance.Add(in.Amount)
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return fmt.Errorf("failed to block balance: %w", err)
		}

		req = &models.WithdrawalRequest{
			Kind:        in.Kind,
			UserID:      in.UserID,
			OwnerID:     in.OwnerID,
			Amount:      in.Amount,
			Status:      models.WithdrawalPending,
			RequestNote: in.Note,
		}
		if err := tx.CreateWithdrawal(ctx, req); err != nil {
			return fmt.Errorf("failed to create withdrawal request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	m.logger.Info("Withdrawal requested",
		zap.Int64("withdrawal_id", req.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("amount", req.Amount.StringFixed(2)))
	return req, nil
}

// ApproveWithdrawal debits the balance and releases the block.
func (m *Manager) ApproveWithdrawal(ctx context.Context, id, adminID int64, remark string) (*models.WithdrawalRequest, error) {
	return m.process(ctx, id, adminID, remark, models.WithdrawalApproved)
}

// RejectWithdrawal releases the block without debiting.
func (m *Manager) RejectWithdrawal(ctx context.Context, id, adminID int64, remark string) (*models.WithdrawalRequest, error) {
	return m.process(ctx, id, adminID, remark, models.WithdrawalRejected)
}

func (m *Manager) process(ctx context.Context, id, adminID int64, remark string, outcome models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	ctx, span := util.StartSpan(ctx, "WalletManager.ProcessWithdrawal")
	defer span.End()

	var req *models.WithdrawalRequest
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.GetWithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != models.WithdrawalPending {
			return fmt.Errorf("%w: request %d is %s", models.ErrWithdrawalAlreadyProcessed, id, req.Status)
		}

		w, err := tx.GetOrCreateWalletForUpdate(ctx, req.UserID, m.currency)
		if err != nil {
			return err
		}

		w.BlockedBalance = w.BlockedBalance.Sub(req.Amount)
		if w.BlockedBalance.IsNegative() {
			w.BlockedBalance = decimal.Zero
		}
		if outcome == models.WithdrawalApproved {
			w.Balance = w.Balance.Sub(req.Amount)
			if w.Balance.IsNegative() {
				return fmt.Errorf("%w: wallet %d cannot cover approved withdrawal %d",
					models.ErrInsufficientFunds, w.ID, id)
			}
		}
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		if outcome == models.WithdrawalApproved {
			txn := &models.WalletTransaction{
				WalletID:     w.ID,
				UserID:       req.UserID,
				Type:         models.WalletWithdrawal,
				Amount:       req.Amount,
				CurrencyCode: w.CurrencyCode,
				Description:  fmt.Sprintf("Withdrawal request #%d approved", id),
				Reference:    fmt.Sprintf("withdrawal:%d", id),
			}
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return fmt.Errorf("failed to append wallet transaction: %w", err)
			}
			util.WalletEntriesTotal.WithLabelValues(string(models.WalletWithdrawal)).Inc()
		}

		now := time.Now()
		req.Status = outcome
		req.AdminRemark = remark
		req.ProcessedBy = &adminID
		req.ProcessedAt = &now
		return tx.UpdateWithdrawal(ctx, req)
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	util.WithdrawalsProcessedTotal.WithLabelValues(string(outcome)).Inc()
	m.logger.Info("Withdrawal processed",
		zap.Int64("withdrawal_id", req.ID),
		zap.String("status", string(outcome)))

	if m.events != nil {
		event := &models.WithdrawalProcessedEvent{
			BaseEvent:    models.NewBaseEvent(models.EventTypeWithdrawalProcessed),
			WithdrawalID: req.ID,
			UserID:       req.UserID,
			Amount:       req.Amount,
			Status:       req.Status,
		}
		if err := m.events.PublishWithdrawalProcessed(ctx, event); err != nil {
			util.EventsPublishFailed.WithLabelValues(event.EventType).Inc()
			m.logger.Error("Failed to publish WithdrawalProcessed event", zap.Error(err))
		}
	}
	return req, nil
}

// Balance returns the wallet of a user.
func (m *Manager) Balance(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w *models.Wallet
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.GetWallet(ctx, userID)
		return err
	})
	return w, err
}

// Transactions returns the ledger rows of a user's wallet, oldest first.
func (m *Manager) Transactions(ctx context.Context, userID int64) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		txns, err = tx.ListTransactions(ctx, w.ID)
		return err
	})
	return txns, err
}

// Reconcile checks that balance equals the signed sum of the ledger.
func (m *Manager) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	ctx, span := util.StartSpan(ctx, "WalletManager.Reconcile")
	defer span.End()

	rec := &Reconciliation{UserID: userID, LedgerSum: decimal.Zero}
	err := m.ledger.RunInTx(ctx, func(tx store.Tx) error {
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, w.ID)
		if err != nil {
			return err
		}
		rec.Balance = w.Balance
		for i := range txns {
			rec.LedgerSum = rec.LedgerSum.Add(txns[i].Signed())
		}
		rec.Entries = len(txns)
		return nil
	})
	if err != nil {
		return nil, util.RecordError(span, err)
	}

	rec.Consistent = rec.Balance.Equal(rec.LedgerSum)
	if !rec.Consistent {
		m.logger.Error("Wallet ledger mismatch",
			zap.Int64("user_id", userID),
			zap.String("balance", rec.Balance.StringFixed(2)),
			zap.String("ledger_sum", rec.LedgerSum.StringFixed(2)))
	}
	return rec, nil
}

func (m *Manager) currencyOr(c string) string {
	if c != "" {
		return c
	}
	return m.currency
}
