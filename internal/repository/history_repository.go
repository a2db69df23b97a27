package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
)

// AppendHistory records one axis change. Rows are never updated.
func (r queries) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO proposal_history (id, proposal_id, axis, previous_status, new_status, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		entry.ID,
		entry.ProposalID,
		string(entry.Axis),
		entry.PreviousStatus,
		entry.NewStatus,
		entry.ChangedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to append proposal history")
	}
	return nil
}

// ListHistory returns the proposal's history in the order it was written.
func (r queries) ListHistory(ctx context.Context, proposalID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, proposal_id, axis, previous_status, new_status, changed_by, created_at
		FROM proposal_history
		WHERE proposal_id = $1
		ORDER BY created_at, seq
	`
	rows, err := r.q.Query(ctx, query, proposalID)
	if err != nil {
		return nil, database.ClassifyError(err, "failed to list proposal history")
	}
	defer rows.Close()

	entries := make([]*HistoryEntry, 0)
	for rows.Next() {
		e := &HistoryEntry{}
		var axis string
		if err := rows.Scan(&e.ID, &e.ProposalID, &axis, &e.PreviousStatus, &e.NewStatus, &e.ChangedBy, &e.CreatedAt); err != nil {
			return nil, database.ClassifyError(err, "failed to scan proposal history")
		}
		e.Axis = Axis(axis)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyError(err, "failed to list proposal history")
	}
	return entries, nil
}

// InsertMessage appends a negotiation message.
func (r queries) InsertMessage(ctx context.Context, msg *NegotiationMessage) error {
	query := `
		INSERT INTO proposal_negotiations (id, proposal_id, sender_id, message, counter_offer, counter_terms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var counter decimal.NullDecimal
	if msg.CounterOffer != nil {
		counter = decimal.NewNullDecimal(*msg.CounterOffer)
	}
	_, err := r.q.Exec(ctx, query,
		msg.ID,
		msg.ProposalID,
		msg.SenderID,
		msg.Message,
		counter,
		msg.CounterTerms,
		msg.CreatedAt,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to create negotiation message")
	}
	return nil
}

// ListMessages returns the negotiation log ordered by creation time, with
// insertion order breaking ties.
func (r queries) ListMessages(ctx context.Context, proposalID string) ([]*NegotiationMessage, error) {
	query := `
		SELECT id, proposal_id, sender_id, message, counter_offer, counter_terms, created_at
		FROM proposal_negotiations
		WHERE proposal_id = $1
		ORDER BY created_at, seq
	`
	rows, err := r.q.Query(ctx, query, proposalID)
	if err != nil {
		return nil, database.ClassifyError(err, "failed to list negotiation messages")
	}
	defer rows.Close()

	messages := make([]*NegotiationMessage, 0)
	for rows.Next() {
		m := &NegotiationMessage{}
		var counter decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.ProposalID, &m.SenderID, &m.Message, &counter, &m.CounterTerms, &m.CreatedAt); err != nil {
			return nil, database.ClassifyError(err, "failed to scan negotiation message")
		}
		if counter.Valid {
			offer := counter.Decimal
			m.CounterOffer = &offer
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, database.ClassifyError(err, "failed to list negotiation messages")
	}
	return messages, nil
}
