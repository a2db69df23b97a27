package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

const proposalColumns = `
	id, track_id, client_id, producer_id, sync_fee, payment_terms,
	expiration_date, is_urgent,
	project_title, project_type, usage_description, duration, territory,
	producer_status, client_status, payment_status,
	created_at, updated_at`

func scanProposal(row pgx.Row) (*Proposal, error) {
	p := &Proposal{}
	var terms, producer, client, payment string
	err := row.Scan(
		&p.ID,
		&p.TrackID,
		&p.ClientID,
		&p.ProducerID,
		&p.SyncFee,
		&terms,
		&p.ExpirationDate,
		&p.IsUrgent,
		&p.ProjectTitle,
		&p.ProjectType,
		&p.UsageDescription,
		&p.Duration,
		&p.Territory,
		&producer,
		&client,
		&payment,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentTerms = PaymentTerms(terms)
	state, err := NewProposalState(ProducerStatus(producer), ClientStatus(client), PaymentStatus(payment))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "stored proposal is corrupt")
	}
	p.State = state
	return p, nil
}

// ProducerForTrack resolves the owner of a catalog track.
func (r queries) ProducerForTrack(ctx context.Context, trackID string) (string, error) {
	var producerID string
	err := r.q.QueryRow(ctx, `SELECT producer_id FROM tracks WHERE id = $1`, trackID).Scan(&producerID)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("track", trackID)
	}
	if err != nil {
		return "", database.ClassifyError(err, "failed to get track")
	}
	return producerID, nil
}

// GetProposal retrieves a proposal by ID.
func (r queries) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	p, err := scanProposal(r.q.QueryRow(ctx, `SELECT `+proposalColumns+` FROM sync_proposals WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("proposal", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to get proposal")
	}
	return p, nil
}

// ListProposals retrieves proposals with filtering and pagination, newest first.
func (r queries) ListProposals(ctx context.Context, filter ProposalFilter) ([]*Proposal, int64, error) {
	where := " WHERE TRUE"
	args := []any{}
	argCount := 1

	if filter.ClientID != nil {
		where += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, *filter.ClientID)
		argCount++
	}
	if filter.ProducerID != nil {
		where += fmt.Sprintf(" AND producer_id = $%d", argCount)
		args = append(args, *filter.ProducerID)
		argCount++
	}
	if filter.Phase != nil {
		clause, ok := phasePredicates[*filter.Phase]
		if !ok {
			return nil, 0, errors.InvalidInput("phase", fmt.Sprintf("unknown phase %q", *filter.Phase))
		}
		where += " AND " + clause
	}

	var total int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM sync_proposals`+where, args...).Scan(&total); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to count proposals")
	}

	query := `SELECT ` + proposalColumns + ` FROM sync_proposals` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list proposals")
	}
	defer rows.Close()

	proposals := make([]*Proposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, 0, database.ClassifyError(err, "failed to scan proposal")
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, database.ClassifyError(err, "failed to list proposals")
	}
	return proposals, total, nil
}

// phasePredicates mirrors ProposalState.Phase in SQL.
var phasePredicates = map[Phase]string{
	PhaseExpired:          `producer_status = 'expired'`,
	PhaseProducerRejected: `producer_status = 'rejected'`,
	PhaseProducerPending:  `producer_status = 'pending'`,
	PhaseClientRejected:   `producer_status = 'accepted' AND client_status = 'rejected'`,
	PhaseClientPending:    `producer_status = 'accepted' AND client_status = 'pending'`,
	PhasePaymentPending:   `client_status = 'accepted' AND payment_status = 'pending'`,
	PhaseSettled:          `payment_status = 'paid'`,
}

// ListExpirableProposals returns ids of proposals still awaiting the producer
// whose expiration date is before now, oldest deadline first.
func (r queries) ListExpirableProposals(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM sync_proposals
		WHERE producer_status = 'pending' AND expiration_date < $1
		ORDER BY expiration_date`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.collectIDs(ctx, query, args, "failed to list expirable proposals")
}

func (r queries) collectIDs(ctx context.Context, query string, args []any, msg string) ([]string, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, database.ClassifyError(err, msg)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, database.ClassifyError(err, msg)
	}
	return ids, nil
}

// InsertProposal stores a freshly submitted proposal.
func (r queries) InsertProposal(ctx context.Context, p *Proposal) error {
	query := `
		INSERT INTO sync_proposals (id, track_id, client_id, producer_id, sync_fee, payment_terms,
		                            expiration_date, is_urgent,
		                            project_title, project_type, usage_description, duration, territory,
		                            producer_status, client_status, payment_status,
		                            created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::proposal_payment_terms, $7, $8, $9, $10, $11, $12, $13,
		        $14::producer_decision_status, $15::client_decision_status, $16::proposal_payment_status,
		        $17, $18)
	`
	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.TrackID,
		p.ClientID,
		p.ProducerID,
		p.SyncFee,
		string(p.PaymentTerms),
		p.ExpirationDate,
		p.IsUrgent,
		p.ProjectTitle,
		p.ProjectType,
		p.UsageDescription,
		p.Duration,
		p.Territory,
		string(p.State.Producer()),
		string(p.State.Client()),
		string(p.State.Payment()),
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return database.ClassifyError(err, "failed to create proposal")
	}
	return nil
}

// LockProposal reads a proposal and holds its row lock until commit.
func (r queries) LockProposal(ctx context.Context, id string) (*Proposal, error) {
	p, err := scanProposal(r.q.QueryRow(ctx, `SELECT `+proposalColumns+` FROM sync_proposals WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("proposal", id)
	}
	if err != nil {
		return nil, database.ClassifyError(err, "failed to lock proposal")
	}
	return p, nil
}

// UpdateProposalState writes all three axes at once.
func (r queries) UpdateProposalState(ctx context.Context, id string, state ProposalState, at time.Time) error {
	query := `
		UPDATE sync_proposals
		SET producer_status = $2::producer_decision_status,
		    client_status = $3::client_decision_status,
		    payment_status = $4::proposal_payment_status,
		    updated_at = $5
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query, id,
		string(state.Producer()), string(state.Client()), string(state.Payment()), at)
	if err != nil {
		return database.ClassifyError(err, "failed to update proposal")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("proposal", id)
	}
	return nil
}
