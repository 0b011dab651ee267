package postgres

import (
	"context"
	"fmt"

	"github.com/goingthrice/bidengine/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	db dbtx
}

var _ domain.WalletStore = (*WalletStore)(nil)

const walletSelectCols = `user_id, balance::text, locked_amount::text,
	total_deposited::text, total_withdrawn::text, updated_at`

func scanWallet(row scanner) (domain.Wallet, error) {
	var w domain.Wallet
	var balance, locked, deposited, withdrawn string
	if err := row.Scan(&w.UserID, &balance, &locked, &deposited, &withdrawn, &w.UpdatedAt); err != nil {
		return domain.Wallet{}, err
	}
	var err error
	if w.Balance, err = parseAmount(balance); err != nil {
		return domain.Wallet{}, err
	}
	if w.Locked, err = parseAmount(locked); err != nil {
		return domain.Wallet{}, err
	}
	if w.TotalDeposited, err = parseAmount(deposited); err != nil {
		return domain.Wallet{}, err
	}
	if w.TotalWithdrawn, err = parseAmount(withdrawn); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

// Get returns the wallet of userID.
func (s *WalletStore) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1`, userID)
	w, err := scanWallet(row)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet %s: %w", userID, mapError(err))
	}
	return w, nil
}

// GetForUpdate returns the wallet of userID and holds its row lock until the
// enclosing transaction ends.
func (s *WalletStore) GetForUpdate(ctx context.Context, userID string) (domain.Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletSelectCols+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	w, err := scanWallet(row)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("postgres: lock wallet %s: %w", userID, mapError(err))
	}
	return w, nil
}

// Update writes the balances of w. The table's CHECK constraints reject any
// state with locked funds above the balance.
func (s *WalletStore) Update(ctx context.Context, w domain.Wallet) error {
	const query = `
		UPDATE wallets SET
			balance = $2::numeric,
			locked_amount = $3::numeric,
			total_deposited = $4::numeric,
			total_withdrawn = $5::numeric,
			updated_at = NOW()
		WHERE user_id = $1`

	tag, err := s.db.Exec(ctx, query, w.UserID,
		w.Balance.String(), w.Locked.String(),
		w.TotalDeposited.String(), w.TotalWithdrawn.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update wallet %s: %w", w.UserID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update wallet %s: %w", w.UserID, domain.ErrNotFound)
	}
	return nil
}

// AppendTransaction journals one ledger mutation.
func (s *WalletStore) AppendTransaction(ctx context.Context, t domain.Transaction) error {
	const query = `
		INSERT INTO wallet_transactions (
			id, user_id, transaction_type, amount, status, reference_id, description, created_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		t.ID, t.UserID, string(t.Type), t.Amount.String(), string(t.Status),
		t.ReferenceID, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", t.ID, mapError(err))
	}
	return nil
}

// ListTransactions returns the journal of userID, newest first.
func (s *WalletStore) ListTransactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, transaction_type, amount::text, status, reference_id, description, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, userID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", userID, mapError(err))
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ, status, amount string
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &amount, &status, &t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		if t.Amount, err = parseAmount(amount); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		t.Type = domain.TxType(typ)
		t.Status = domain.TxStatus(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", mapError(err))
	}
	return out, nil
}
