// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/akazancev/bankcore/internal/domain"
)

// IdentityGate resolves a credential token into a caller identity.
// It is always an external collaborator: the core consumes it and
// never implements it.
type IdentityGate interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	UserID *uuid.UUID
	Status *domain.AccountStatus
}

// TransactionFilter narrows a transaction listing. Bounds are inclusive.
type TransactionFilter struct {
	From *time.Time
	To   *time.Time
}

// CreditFilter narrows credit listings.
type CreditFilter struct {
	UserID *uuid.UUID
}

// LedgerStore is read access to accounts and their transaction history.
// Reads never observe a half-applied mutation.
type LedgerStore interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter, page domain.PageRequest) ([]domain.Account, int, error)
	// ListTransactions returns one page ordered by timestamp descending.
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter, page domain.PageRequest) ([]domain.Transaction, int, error)
}

// CreditBook is storage for credit tariffs and issued credits.
// Tariff writes are single-row and need no unit of work.
type CreditBook interface {
	GetTariff(ctx context.Context, id uuid.UUID) (*domain.CreditTariff, error)
	// ListTariffs returns tariffs in creation order; activeOnly filters
	// to status ACTIVE.
	ListTariffs(ctx context.Context, activeOnly bool, page domain.PageRequest) ([]domain.CreditTariff, int, error)
	CreateTariff(ctx context.Context, tariff *domain.CreditTariff) error
	UpdateTariffStatus(ctx context.Context, id uuid.UUID, status domain.TariffStatus) error

	GetCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error)
	// ListCredits returns one page ordered by start date descending.
	ListCredits(ctx context.Context, filter CreditFilter, page domain.PageRequest) ([]domain.Credit, int, error)
}

// UnitOfWork runs multi-write mutations atomically. Everything done
// through the Tx commits together or not at all; a fn error (or a
// canceled context) rolls the whole unit back.
type UnitOfWork interface {
	Exec(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the mutation surface available inside a unit of work.
// LockAccount/LockCredit take an exclusive per-row lock for the
// remainder of the unit: concurrent mutations of the same row
// serialize behind it.
type Tx interface {
	LockAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	InsertAccount(ctx context.Context, account *domain.Account) error
	UpdateAccount(ctx context.Context, account *domain.Account) error
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error

	LockCredit(ctx context.Context, id uuid.UUID) (*domain.Credit, error)
	InsertCredit(ctx context.Context, credit *domain.Credit) error
	UpdateCredit(ctx context.Context, credit *domain.Credit) error
}

// LedgerBackend is what the account ledger service needs from storage.
type LedgerBackend interface {
	LedgerStore
	UnitOfWork
}

// CreditBackend is what the credit lifecycle service needs from storage.
type CreditBackend interface {
	LedgerStore
	CreditBook
	UnitOfWork
}

// Store is a full storage backend (both subsystems over one database).
type Store interface {
	LedgerStore
	CreditBook
	UnitOfWork
}
