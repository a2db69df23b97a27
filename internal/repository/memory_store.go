package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
)

// MemoryStore is an in-process Store used by tests and local development.
// Transactions are serialized by a single mutex and run against a copy of
// the state that replaces the live state only on success, which gives the
// same all-or-nothing and row-lock semantics as the Postgres store.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	tracks          map[string]string
	proposals       map[string]*Proposal
	proposalOrder   []string
	history         map[string][]*HistoryEntry
	messages        map[string][]*NegotiationMessage
	balances        map[string]*ProducerBalance
	transactions    map[string]*Transaction
	txOrder         []string
	withdrawals     map[string]*WithdrawalRequest
	withdrawalOrder []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		tracks:       make(map[string]string),
		proposals:    make(map[string]*Proposal),
		history:      make(map[string][]*HistoryEntry),
		messages:     make(map[string][]*NegotiationMessage),
		balances:     make(map[string]*ProducerBalance),
		transactions: make(map[string]*Transaction),
		withdrawals:  make(map[string]*WithdrawalRequest),
	}}
}

// AddTrack registers a track in the catalog.
func (s *MemoryStore) AddTrack(trackID, producerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tracks[trackID] = producerID
}

// InTransaction implements Store.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *memState) clone() *memState {
	c := &memState{
		tracks:          make(map[string]string, len(st.tracks)),
		proposals:       make(map[string]*Proposal, len(st.proposals)),
		proposalOrder:   append([]string(nil), st.proposalOrder...),
		history:         make(map[string][]*HistoryEntry, len(st.history)),
		messages:        make(map[string][]*NegotiationMessage, len(st.messages)),
		balances:        make(map[string]*ProducerBalance, len(st.balances)),
		transactions:    make(map[string]*Transaction, len(st.transactions)),
		txOrder:         append([]string(nil), st.txOrder...),
		withdrawals:     make(map[string]*WithdrawalRequest, len(st.withdrawals)),
		withdrawalOrder: append([]string(nil), st.withdrawalOrder...),
	}
	for k, v := range st.tracks {
		c.tracks[k] = v
	}
	for k, v := range st.proposals {
		cp := *v
		c.proposals[k] = &cp
	}
	// History and messages are append-only, so the entries can be shared.
	for k, v := range st.history {
		c.history[k] = append([]*HistoryEntry(nil), v...)
	}
	for k, v := range st.messages {
		c.messages[k] = append([]*NegotiationMessage(nil), v...)
	}
	for k, v := range st.balances {
		cp := *v
		c.balances[k] = &cp
	}
	for k, v := range st.transactions {
		cp := *v
		c.transactions[k] = &cp
	}
	for k, v := range st.withdrawals {
		cp := *v
		c.withdrawals[k] = &cp
	}
	return c
}

// ── Reader ───────────────────────────────────────────────────────────────────

func (s *MemoryStore) ProducerForTrack(ctx context.Context, trackID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	producerID, ok := s.state.tracks[trackID]
	if !ok {
		return "", errors.NotFound("track", trackID)
	}
	return producerID, nil
}

func (s *MemoryStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.proposals[id]
	if !ok {
		return nil, errors.NotFound("proposal", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]*Proposal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Proposal
	for i := len(s.state.proposalOrder) - 1; i >= 0; i-- {
		p := s.state.proposals[s.state.proposalOrder[i]]
		if filter.ClientID != nil && p.ClientID != *filter.ClientID {
			continue
		}
		if filter.ProducerID != nil && p.ProducerID != *filter.ProducerID {
			continue
		}
		if filter.Phase != nil && p.State.Phase() != *filter.Phase {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	return paginate(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (s *MemoryStore) ListExpirableProposals(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Proposal
	for _, p := range s.state.proposals {
		if p.State.Producer() == ProducerPending && p.ExpirationDate.Before(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpirationDate.Before(due[j].ExpirationDate) })
	due = paginate(due, limit, 0)

	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, proposalID string) ([]*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.state.history[proposalID]
	out := make([]*HistoryEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, proposalID string) ([]*NegotiationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.state.messages[proposalID]
	out := make([]*NegotiationMessage, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	// Insertion order already breaks created_at ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.transactions[id]
	if !ok {
		return nil, errors.NotFound("transaction", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, producerID string, limit, offset int) ([]*Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Transaction
	for i := len(s.state.txOrder) - 1; i >= 0; i-- {
		t := s.state.transactions[s.state.txOrder[i]]
		if t.ProducerID != producerID {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	return paginate(matched, limit, offset), int64(len(matched)), nil
}

func (s *MemoryStore) ListMaturingTransactions(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, id := range s.state.txOrder {
		t := s.state.transactions[id]
		if t.Type == TransactionSale && t.Status == TransactionCompleted && t.MaturedAt == nil &&
			t.AvailableAt != nil && !t.AvailableAt.After(now) {
			ids = append(ids, id)
		}
	}
	return paginate(ids, limit, 0), nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.state.withdrawals[id]
	if !ok {
		return nil, errors.NotFound("withdrawal", id)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListWithdrawals(ctx context.Context, filter WithdrawalFilter) ([]*WithdrawalRequest, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*WithdrawalRequest
	for i := len(s.state.withdrawalOrder) - 1; i >= 0; i-- {
		w := s.state.withdrawals[s.state.withdrawalOrder[i]]
		if filter.ProducerID != nil && w.ProducerID != *filter.ProducerID {
			continue
		}
		if filter.Status != nil && w.Status != *filter.Status {
			continue
		}
		cp := *w
		matched = append(matched, &cp)
	}
	return paginate(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ── Tx ───────────────────────────────────────────────────────────────────────

type memTx struct {
	st *memState
}

func (t *memTx) InsertProposal(ctx context.Context, p *Proposal) error {
	if _, exists := t.st.proposals[p.ID]; exists {
		return errors.Newf(errors.ErrCodeInternal, "proposal %s already exists", p.ID)
	}
	cp := *p
	t.st.proposals[p.ID] = &cp
	t.st.proposalOrder = append(t.st.proposalOrder, p.ID)
	return nil
}

func (t *memTx) LockProposal(ctx context.Context, id string) (*Proposal, error) {
	p, ok := t.st.proposals[id]
	if !ok {
		return nil, errors.NotFound("proposal", id)
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdateProposalState(ctx context.Context, id string, state ProposalState, at time.Time) error {
	p, ok := t.st.proposals[id]
	if !ok {
		return errors.NotFound("proposal", id)
	}
	p.State = state
	p.UpdatedAt = at
	return nil
}

func (t *memTx) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if _, ok := t.st.proposals[entry.ProposalID]; !ok {
		return errors.NotFound("proposal", entry.ProposalID)
	}
	cp := *entry
	t.st.history[entry.ProposalID] = append(t.st.history[entry.ProposalID], &cp)
	return nil
}

func (t *memTx) InsertMessage(ctx context.Context, msg *NegotiationMessage) error {
	if _, ok := t.st.proposals[msg.ProposalID]; !ok {
		return errors.NotFound("proposal", msg.ProposalID)
	}
	cp := *msg
	t.st.messages[msg.ProposalID] = append(t.st.messages[msg.ProposalID], &cp)
	return nil
}

func (t *memTx) LockBalance(ctx context.Context, producerID string) (*ProducerBalance, error) {
	b, ok := t.st.balances[producerID]
	if !ok {
		b = &ProducerBalance{
			ProducerID:       producerID,
			AvailableBalance: decimal.Zero,
			PendingBalance:   decimal.Zero,
			LifetimeEarnings: decimal.Zero,
			UpdatedAt:        time.Now().UTC(),
		}
		t.st.balances[producerID] = b
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, b *ProducerBalance) error {
	if b.AvailableBalance.IsNegative() || b.PendingBalance.IsNegative() {
		return errors.Newf(errors.ErrCodeInternal, "balance for %s would go negative", b.ProducerID)
	}
	cp := *b
	t.st.balances[b.ProducerID] = &cp
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	if txn.Type == TransactionSale && txn.ReferenceID != nil {
		for _, existing := range t.st.transactions {
			if existing.Type == TransactionSale && existing.ReferenceID != nil && *existing.ReferenceID == *txn.ReferenceID {
				return errors.InvalidTransition("sale already recorded for %s", *txn.ReferenceID)
			}
		}
	}
	cp := *txn
	t.st.transactions[txn.ID] = &cp
	t.st.txOrder = append(t.st.txOrder, txn.ID)
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, id string) (*Transaction, error) {
	txn, ok := t.st.transactions[id]
	if !ok {
		return nil, errors.NotFound("transaction", id)
	}
	cp := *txn
	return &cp, nil
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus, at time.Time) error {
	txn, ok := t.st.transactions[id]
	if !ok {
		return errors.NotFound("transaction", id)
	}
	txn.Status = status
	txn.UpdatedAt = at
	return nil
}

func (t *memTx) MarkTransactionMatured(ctx context.Context, id string, at time.Time) error {
	txn, ok := t.st.transactions[id]
	if !ok {
		return errors.NotFound("transaction", id)
	}
	matured := at
	txn.MaturedAt = &matured
	txn.UpdatedAt = at
	return nil
}

func (t *memTx) InsertWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	if _, ok := t.st.transactions[w.TransactionID]; !ok {
		return errors.NotFound("transaction", w.TransactionID)
	}
	cp := *w
	t.st.withdrawals[w.ID] = &cp
	t.st.withdrawalOrder = append(t.st.withdrawalOrder, w.ID)
	return nil
}

func (t *memTx) LockWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return nil, errors.NotFound("withdrawal", id)
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) UpdateWithdrawal(ctx context.Context, w *WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return errors.NotFound("withdrawal", w.ID)
	}
	cp := *w
	t.st.withdrawals[w.ID] = &cp
	return nil
}
