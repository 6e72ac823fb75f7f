package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace-ledger/internal/models"
)

const walletColumns = "id, user_id, balance, blocked_balance, currency_code, created_at, updated_at"

const withdrawalColumns = `id, kind, user_id, owner_id, amount, status, request_note, admin_remark,
	processed_by, processed_at, created_at`

// GetOrCreateWalletForUpdate locks the user's wallet, creating an empty one on first use
func (t *pgTx) GetOrCreateWalletForUpdate(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, currency_code) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var w models.Wallet
	err = t.tx.GetContext(ctx, &w,
		"SELECT "+walletColumns+" FROM wallets WHERE user_id = $1 FOR UPDATE", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &w, nil
}

// GetWallet retrieves a wallet by user ID
func (t *pgTx) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	err := t.tx.GetContext(ctx, &w, "SELECT "+walletColumns+" FROM wallets WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet for user %d: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWallet writes both balance columns
func (t *pgTx) UpdateWallet(ctx context.Context, w *models.Wallet) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE wallets SET balance = $1, blocked_balance = $2, updated_at = NOW() WHERE id = $3",
		w.Balance, w.BlockedBalance, w.ID)
	return err
}

// FindTransactionByReference looks up a ledger row by its dedup reference
func (t *pgTx) FindTransactionByReference(ctx context.Context, walletID int64, reference string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := t.tx.GetContext(ctx, &txn, `
		SELECT id, wallet_id, user_id, type, amount, currency_code, description, reference,
			order_id, store_id, created_at
		FROM wallet_transactions WHERE wallet_id = $1 AND reference = $2`, walletID, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// AppendTransaction appends a ledger row
func (t *pgTx) AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (wallet_id, user_id, type, amount, currency_code, description,
			reference, order_id, store_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, txn, query,
		txn.WalletID, txn.UserID, txn.Type, txn.Amount, txn.CurrencyCode, txn.Description,
		txn.Reference, txn.OrderID, txn.StoreID)
}

// ListTransactions returns the wallet ledger, oldest first
func (t *pgTx) ListTransactions(ctx context.Context, walletID int64) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	err := t.tx.SelectContext(ctx, &txns, `
		SELECT id, wallet_id, user_id, type, amount, currency_code, description, reference,
			order_id, store_id, created_at
		FROM wallet_transactions WHERE wallet_id = $1 ORDER BY id`, walletID)
	return txns, err
}

// CreateWithdrawal creates a withdrawal request
func (t *pgTx) CreateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (kind, user_id, owner_id, amount, status, request_note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return t.tx.GetContext(ctx, req, query,
		req.Kind, req.UserID, req.OwnerID, req.Amount, req.Status, req.RequestNote)
}

// GetWithdrawalForUpdate locks a withdrawal request
func (t *pgTx) GetWithdrawalForUpdate(ctx context.Context, id int64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := t.tx.GetContext(ctx, &req,
		"SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal request %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateWithdrawal records the admin decision
func (t *pgTx) UpdateWithdrawal(ctx context.Context, req *models.WithdrawalRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $1, admin_remark = $2, processed_by = $3, processed_at = $4
		WHERE id = $5`,
		req.Status, req.AdminRemark, req.ProcessedBy, req.ProcessedAt, req.ID)
	return err
}
