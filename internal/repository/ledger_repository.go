package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

const transactionColumns = `
	id, producer_id, amount, type, status, description, reference_id,
	available_at, matured_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	t := &Transaction{}
	var typ, status string
	err := row.Scan(
		&t.ID,
		&t.ProducerID,
		&t.Amount,
		&typ,
		&status,
		&t.Description,
		&t.ReferenceID,
		&t.AvailableAt,
		&t.MaturedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = TransactionType(typ)
	t.Status = TransactionStatus(status)
	return t, nil
}

// LockBalance returns the producer's balance row under an exclusive lock,
// creating a zero row on first access.
func (r queries) LockBalance(ctx context.Context, producerID string) (*ProducerBalance, error) {
	if _, err := r.q.Exec(ctx,
		`INSERT INTO producer_balances (producer_id) VALUES ($1) ON CONFLICT (producer_id) DO NOTHING`,
		producerID,
	); err != nil {
		return nil, database.ClassifyError(err, "failed to create producer balance")
	}

	query := `
		SELECT producer_id, available_balance, pending_balance, lifetime_earnings, updated_at
		FROM producer_balances
		WHERE producer_id = $1
		FOR UPDATE
	`
	b := &ProducerBalance{}
	err := r.q.QueryRow(ctx, query, producerID).Scan(
		&b.ProducerID,
		&b.AvailableBalance,
		&b.PendingBalance,
		&b.LifetimeEarnings,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, database.ClassifyError(err, "failed to lock producer balance")
	}
	return b, nil
}

// UpdateBalance overwrites the three running totals.
func (r queries) UpdateBalance(ctx context.Context, b *ProducerBalance) error {
	query := `
		UPDATE producer_balances
		SET available_balance = $2, pending_balance = $3, lifetime_earnings = $4, updated_at = $5
		WHERE producer_id = $1
	`
	tag, err := r.q.Exec(ctx, query, b.ProducerID, b.AvailableBalance, b.PendingBalance, b.LifetimeEarnings, b.UpdatedAt)
	if err != nil {
		return database.ClassifyError(err, "failed to update producer balance")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("balance", b.ProducerID)
	}
	return nil
}

// InsertTransaction appends a ledger transaction.
func (r queries) InsertTransaction(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO ledger_transactions (id, producer_id, amount, type, status, description, reference_id,
		                                 available_at, matured_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4::ledger_transaction_type, $5::ledger_transaction_status, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		t.ID,
		t.ProducerID,
		t.Amount,
		string(t.Type),
		string(t.Status),
		t.Description,
		t.ReferenceID,
		t.AvailableAt,
		t.MaturedAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to create ledger transaction")
	}
	return nil
}

// GetTransaction retrieves a ledger transaction by ID.
func (r queries) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("transaction", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to get ledger transaction")
	}
	return t, nil
}

// LockTransaction reads a transaction under an exclusive row lock.
func (r queries) LockTransaction(ctx context.Context, id string) (*Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("transaction", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to lock ledger transaction")
	}
	return t, nil
}

// ListTransactions returns a producer's transactions, newest first.
func (r queries) ListTransactions(ctx context.Context, producerID string, limit, offset int) ([]*Transaction, int64, error) {
	var total int64
	if err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE producer_id = $1`, producerID,
	).Scan(&total); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to count ledger transactions")
	}

	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE producer_id = $1 ORDER BY created_at DESC, seq DESC`
	args := []any{producerID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list ledger transactions")
	}
	defer rows.Close()

	txns := make([]*Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, database.ClassifyError(err, "failed to scan ledger transaction")
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list ledger transactions")
	}
	return txns, total, nil
}

// ListMaturingTransactions returns completed sale credits whose hold period
// has elapsed but which have not been moved to available yet.
func (r queries) ListMaturingTransactions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM ledger_transactions
		WHERE type = 'sale' AND status = 'completed' AND matured_at IS NULL AND available_at <= $1
		ORDER BY available_at, seq`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.collectIDs(ctx, query, args, "failed to list maturing transactions")
}

// UpdateTransactionStatus moves a transaction to a new status.
func (r queries) UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE ledger_transactions SET status = $2::ledger_transaction_status, updated_at = $3 WHERE id = $1`,
		id, string(status), at,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to update ledger transaction")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("transaction", id)
	}
	return nil
}

// MarkTransactionMatured stamps a sale credit as moved to available.
func (r queries) MarkTransactionMatured(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE ledger_transactions SET matured_at = $2, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to mature ledger transaction")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("transaction", id)
	}
	return nil
}
