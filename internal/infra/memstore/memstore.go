// Package memstore is an in-memory storage backend. It backs local
// development and tests; nothing survives a restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/port"
)

type txRecord struct {
	tx  domain.Transaction
	seq uint64
}

// Store keeps all state in maps guarded by a single RWMutex. Units of
// work take the write lock for their whole duration, which is coarser
// than the per-row locks of the SQL backend but preserves the same
// observable guarantees: atomic commits and serialized row mutations.
type Store struct {
	mu sync.RWMutex

	accounts     map[uuid.UUID]*domain.Account
	accountOrder []uuid.UUID

	transactions []txRecord
	seq          uint64

	tariffs     map[uuid.UUID]*domain.CreditTariff
	tariffOrder []uuid.UUID

	creditRows  map[uuid.UUID]*domain.Credit
	creditOrder []uuid.UUID
}

var _ port.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:   make(map[uuid.UUID]*domain.Account),
		tariffs:    make(map[uuid.UUID]*domain.CreditTariff),
		creditRows: make(map[uuid.UUID]*domain.Credit),
	}
}

// ============================================================
// LedgerStore
// ============================================================

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: id.String()}
	}
	cp := *account
	return &cp, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter port.AccountFilter, page domain.PageRequest) ([]domain.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Account, 0, len(s.accountOrder))
	for _, id := range s.accountOrder {
		account := s.accounts[id]
		if filter.UserID != nil && account.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && account.Status != *filter.Status {
			continue
		}
		matched = append(matched, *account)
	}
	out, total := paginate(matched, page)
	return out, total, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, filter port.TransactionFilter, page domain.PageRequest) ([]domain.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]txRecord, 0)
	for _, rec := range s.transactions {
		if rec.tx.AccountID != accountID {
			continue
		}
		if filter.From != nil && rec.tx.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && rec.tx.Timestamp.After(*filter.To) {
			continue
		}
		matched = append(matched, rec)
	}
	// Newest first; insertion sequence breaks timestamp ties.
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].tx.Timestamp.Equal(matched[j].tx.Timestamp) {
			return matched[i].tx.Timestamp.After(matched[j].tx.Timestamp)
		}
		return matched[i].seq > matched[j].seq
	})

	recs, total := paginate(matched, page)
	out := make([]domain.Transaction, len(recs))
	for i, rec := range recs {
		out[i] = rec.tx
	}
	return out, total, nil
}

// ============================================================
// CreditBook
// ============================================================

func (s *Store) GetTariff(ctx context.Context, id uuid.UUID) (*domain.CreditTariff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tariff, ok := s.tariffs[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "tariff", ID: id.String()}
	}
	cp := *tariff
	return &cp, nil
}

func (s *Store) ListTariffs(ctx context.Context, activeOnly bool, page domain.PageRequest) ([]domain.CreditTariff, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.CreditTariff, 0, len(s.tariffOrder))
	for _, id := range s.tariffOrder {
		tariff := s.tariffs[id]
		if activeOnly && tariff.Status != domain.TariffActive {
			continue
		}
		matched = append(matched, *tariff)
	}
	out, total := paginate(matched, page)
	return out, total, nil
}

func (s *Store) CreateTariff(ctx context.Context, tariff *domain.CreditTariff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tariffs[tariff.ID]; ok {
		return &domain.ErrConflict{Message: "tariff already exists"}
	}
	cp := *tariff
	s.tariffs[tariff.ID] = &cp
	s.tariffOrder = append(s.tariffOrder, tariff.ID)
	return nil
}

func (s *Store) UpdateTariffStatus(ctx context.Context, id uuid.UUID, status domain.TariffStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tariff, ok := s.tariffs[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "tariff", ID: id.String()}
	}
	tariff.Status = status
	return nil
}

func (s *Store) GetCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credit, ok := s.creditRows[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "credit", ID: id.String()}
	}
	cp := *credit
	return &cp, nil
}

func (s *Store) ListCredits(ctx context.Context, filter port.CreditFilter, page domain.PageRequest) ([]domain.Credit, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Credit, 0, len(s.creditOrder))
	for _, id := range s.creditOrder {
		credit := s.creditRows[id]
		if filter.UserID != nil && credit.UserID != *filter.UserID {
			continue
		}
		matched = append(matched, *credit)
	}
	// Newest first by start date; later insertions win ties.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartDate.After(matched[j].StartDate)
	})
	out, total := paginate(matched, page)
	return out, total, nil
}

// ============================================================
// UnitOfWork
// ============================================================

// Exec holds the write lock for the whole unit. Mutations are staged in
// the memTx and applied only when fn returns nil and the context is
// still live, so a failed unit leaves no trace.
func (s *Store) Exec(ctx context.Context, fn func(tx port.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:    s,
		accounts: make(map[uuid.UUID]*domain.Account),
		credits:  make(map[uuid.UUID]*domain.Credit),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.apply()
	return nil
}

// memTx stages writes against the parent store.
type memTx struct {
	store *Store

	accounts    map[uuid.UUID]*domain.Account
	newAccounts []uuid.UUID
	txns        []domain.Transaction

	credits    map[uuid.UUID]*domain.Credit
	newCredits []uuid.UUID
}

func (t *memTx) LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if staged, ok := t.accounts[id]; ok {
		return staged, nil
	}
	account, ok := t.store.accounts[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: id.String()}
	}
	cp := *account
	t.accounts[id] = &cp
	return &cp, nil
}

func (t *memTx) InsertAccount(ctx context.Context, account *domain.Account) error {
	if _, ok := t.store.accounts[account.ID]; ok {
		return &domain.ErrConflict{Message: "account already exists"}
	}
	if _, ok := t.accounts[account.ID]; ok {
		return &domain.ErrConflict{Message: "account already exists"}
	}
	cp := *account
	t.accounts[account.ID] = &cp
	t.newAccounts = append(t.newAccounts, account.ID)
	return nil
}

func (t *memTx) UpdateAccount(ctx context.Context, account *domain.Account) error {
	if _, ok := t.accounts[account.ID]; !ok {
		if _, exists := t.store.accounts[account.ID]; !exists {
			return &domain.ErrNotFound{Resource: "account", ID: account.ID.String()}
		}
	}
	cp := *account
	t.accounts[account.ID] = &cp
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	t.txns = append(t.txns, *tx)
	return nil
}

func (t *memTx) LockCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error) {
	if staged, ok := t.credits[id]; ok {
		return staged, nil
	}
	credit, ok := t.store.creditRows[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "credit", ID: id.String()}
	}
	cp := *credit
	t.credits[id] = &cp
	return &cp, nil
}

func (t *memTx) InsertCredit(ctx context.Context, credit *domain.Credit) error {
	if _, ok := t.store.creditRows[credit.ID]; ok {
		return &domain.ErrConflict{Message: "credit already exists"}
	}
	cp := *credit
	t.credits[credit.ID] = &cp
	t.newCredits = append(t.newCredits, credit.ID)
	return nil
}

func (t *memTx) UpdateCredit(ctx context.Context, credit *domain.Credit) error {
	if _, ok := t.credits[credit.ID]; !ok {
		if _, exists := t.store.creditRows[credit.ID]; !exists {
			return &domain.ErrNotFound{Resource: "credit", ID: credit.ID.String()}
		}
	}
	cp := *credit
	t.credits[credit.ID] = &cp
	return nil
}

func (t *memTx) apply() {
	for id, account := range t.accounts {
		t.store.accounts[id] = account
	}
	t.store.accountOrder = append(t.store.accountOrder, t.newAccounts...)

	for id, credit := range t.credits {
		t.store.creditRows[id] = credit
	}
	t.store.creditOrder = append(t.store.creditOrder, t.newCredits...)

	for _, txn := range t.txns {
		t.store.seq++
		t.store.transactions = append(t.store.transactions, txRecord{tx: txn, seq: t.store.seq})
	}
}

func paginate[T any](items []T, page domain.PageRequest) ([]T, int) {
	total := len(items)
	offset := page.Offset()
	if offset >= total {
		return []T{}, total
	}
	end := offset + page.Size
	if end > total {
		end = total
	}
	return items[offset:end], total
}
