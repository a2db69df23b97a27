package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

const withdrawalColumns = `
	id, producer_id, amount, payment_method_id, status, transaction_id,
	processed_by, processed_at, notes, created_at`

func scanWithdrawal(row pgx.Row) (*WithdrawalRequest, error) {
	w := &WithdrawalRequest{}
	var status string
	err := row.Scan(
		&w.ID,
		&w.ProducerID,
		&w.Amount,
		&w.PaymentMethodID,
		&status,
		&w.TransactionID,
		&w.ProcessedBy,
		&w.ProcessedAt,
		&w.Notes,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = WithdrawalStatus(status)
	return w, nil
}

// InsertWithdrawal stores a new withdrawal request.
func (r queries) InsertWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (id, producer_id, amount, payment_method_id, status, transaction_id,
		                                 processed_by, processed_at, notes, created_at)
		VALUES ($1, $2, $3, $4, $5::withdrawal_status, $6, $7, $8, $9, $10)
	`
	_, err := r.q.Exec(ctx, query,
		w.ID,
		w.ProducerID,
		w.Amount,
		w.PaymentMethodID,
		string(w.Status),
		w.TransactionID,
		w.ProcessedBy,
		w.ProcessedAt,
		w.Notes,
		w.CreatedAt,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to create withdrawal request")
	}
	return nil
}

// GetWithdrawal retrieves a withdrawal request by ID.
func (r queries) GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("withdrawal", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to get withdrawal request")
	}
	return w, nil
}

// LockWithdrawal reads a withdrawal request under an exclusive row lock.
func (r queries) LockWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("withdrawal", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to lock withdrawal request")
	}
	return w, nil
}

// UpdateWithdrawal records an admin decision.
func (r queries) UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $2::withdrawal_status, processed_by = $3, processed_at = $4, notes = $5
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, w.ID, string(w.Status), w.ProcessedBy, w.ProcessedAt, w.Notes)
	if err != nil {
		return database.ClassifyError(err, "failed to update withdrawal request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("withdrawal", w.ID)
	}
	return nil
}

// ListWithdrawals retrieves withdrawal requests with filtering and pagination.
func (r queries) ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]*WithdrawalRequest, int64, error) {
	where := " WHERE TRUE"
	args := []any{}
	argCount := 1

	if filter.ProducerID != nil {
		where += fmt.Sprintf(" AND producer_id = $%d", argCount)
		args = append(args, *filter.ProducerID)
		argCount++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d::withdrawal_status", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawal_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to count withdrawal requests")
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list withdrawal requests")
	}
	defer rows.Close()

	withdrawals := make([]*WithdrawalRequest, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, database.ClassifyError(err, "failed to scan withdrawal request")
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list withdrawal requests")
	}
	return withdrawals, total, nil
}
