// Package service provides the business logic layer (use cases).
// AccountLedger keeps an account's balance consistent with its
// transaction history; CreditLifecycle drives a credit from application
// through repayment to closure.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/port"
)

var ledgerTracer = otel.Tracer("service/ledger")

// AccountLedger enforces the balance/transaction invariants: every
// balance mutation appends exactly one transaction in the same unit of
// work, under an exclusive per-account lock.
type AccountLedger struct {
	store   port.LedgerBackend
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAccountLedger creates the account ledger service.
func NewAccountLedger(store port.LedgerBackend, metrics *observability.Metrics, logger *zap.Logger) *AccountLedger {
	return &AccountLedger{store: store, metrics: metrics, logger: logger}
}

// OpenAccount creates an ACTIVE account with a freshly generated number.
// A positive initial deposit is recorded as a DEPOSIT transaction in the
// same unit of work; a negative one is rejected before anything is written.
func (s *AccountLedger) OpenAccount(ctx context.Context, ident domain.Identity, currency domain.Currency, initialDeposit decimal.Decimal) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.OpenAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ident.UserID.String()))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("open_account", time.Since(start)) }()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !currency.Valid() {
		return nil, &domain.ErrValidation{Field: "currency", Message: fmt.Sprintf("unsupported currency '%s'", currency)}
	}
	if initialDeposit.IsNegative() {
		return nil, &domain.ErrValidation{Field: "initialDeposit", Message: "must not be negative"}
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    generateAccountNumber(),
		UserID:    ident.UserID,
		Balance:   initialDeposit,
		Currency:  currency,
		Status:    domain.AccountActive,
		CreatedAt: now,
	}

	err := s.store.Exec(ctx, func(tx port.Tx) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if initialDeposit.IsPositive() {
			return tx.InsertTransaction(ctx, &domain.Transaction{
				ID:           uuid.New(),
				AccountID:    account.ID,
				Type:         domain.TxDeposit,
				Amount:       initialDeposit,
				Description:  "Initial deposit",
				Timestamp:    now,
				BalanceAfter: initialDeposit,
			})
		}
		return nil
	})
	if err != nil {
		s.metrics.IncrOperation("open_account", "error")
		return nil, err
	}

	s.metrics.IncrOperation("open_account", "success")
	s.logger.Info("account opened",
		zap.String("account_id", account.ID.String()),
		zap.String("user_id", ident.UserID.String()),
		zap.String("currency", string(currency)),
	)
	return account, nil
}

// GetAccount returns the account if the caller owns it or is privileged.
// A foreign account looks exactly like a missing one.
func (s *AccountLedger) GetAccount(ctx context.Context, ident domain.Identity, accountID uuid.UUID) (*domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.GetAccount")
	defer span.End()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	return s.visibleAccount(ctx, ident, accountID)
}

// ListAccounts returns one page of the caller's own accounts.
func (s *AccountLedger) ListAccounts(ctx context.Context, ident domain.Identity, page domain.PageRequest) (domain.Page[domain.Account], error) {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.ListAccounts")
	defer span.End()

	if !ident.Active() {
		return domain.Page[domain.Account]{}, &domain.ErrUnauthorized{Message: "user is not active"}
	}

	page = page.Normalize()
	userID := ident.UserID
	accounts, total, err := s.store.ListAccounts(ctx, port.AccountFilter{UserID: &userID}, page)
	if err != nil {
		return domain.Page[domain.Account]{}, err
	}
	return domain.NewPage(accounts, page, total), nil
}

// ListAllAccounts is the privileged listing across all users, with
// optional owner and status filters.
func (s *AccountLedger) ListAllAccounts(ctx context.Context, ident domain.Identity, filter port.AccountFilter, page domain.PageRequest) (domain.Page[domain.Account], error) {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.ListAllAccounts")
	defer span.End()

	if !ident.Active() {
		return domain.Page[domain.Account]{}, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !ident.Privileged() {
		return domain.Page[domain.Account]{}, &domain.ErrForbidden{Action: "list all accounts"}
	}

	page = page.Normalize()
	accounts, total, err := s.store.ListAccounts(ctx, filter, page)
	if err != nil {
		return domain.Page[domain.Account]{}, err
	}
	return domain.NewPage(accounts, page, total), nil
}

// CloseAccount sets status=CLOSED and the closing timestamp. Only a
// zero-balance ACTIVE account can be closed; closing twice is an error,
// not an idempotent success.
func (s *AccountLedger) CloseAccount(ctx context.Context, ident domain.Identity, accountID uuid.UUID) error {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.CloseAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID.String()))

	if !ident.Active() {
		return &domain.ErrUnauthorized{Message: "user is not active"}
	}

	err := s.store.Exec(ctx, func(tx port.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.UserID != ident.UserID && !ident.Privileged() {
			return &domain.ErrNotFound{Resource: "account", ID: accountID.String()}
		}
		if account.Status != domain.AccountActive {
			return &domain.ErrInvalidState{Resource: "account", Message: "account is not active"}
		}
		if !account.Balance.IsZero() {
			return &domain.ErrInvalidState{Resource: "account", Message: "cannot close account with non-zero balance"}
		}

		now := time.Now().UTC()
		account.Status = domain.AccountClosed
		account.ClosedAt = &now
		return tx.UpdateAccount(ctx, account)
	})
	if err != nil {
		return err
	}

	s.logger.Info("account closed",
		zap.String("account_id", accountID.String()),
		zap.String("closed_by", ident.UserID.String()),
	)
	return nil
}

// ListTransactions returns one page of the account's ledger, newest
// first. Date bounds are inclusive.
func (s *AccountLedger) ListTransactions(ctx context.Context, ident domain.Identity, accountID uuid.UUID, filter port.TransactionFilter, page domain.PageRequest) (domain.Page[domain.Transaction], error) {
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger.ListTransactions")
	defer span.End()

	if !ident.Active() {
		return domain.Page[domain.Transaction]{}, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if _, err := s.visibleAccount(ctx, ident, accountID); err != nil {
		return domain.Page[domain.Transaction]{}, err
	}

	page = page.Normalize()
	txs, total, err := s.store.ListTransactions(ctx, accountID, filter, page)
	if err != nil {
		return domain.Page[domain.Transaction]{}, err
	}
	return domain.NewPage(txs, page, total), nil
}

// Deposit credits the account and appends a DEPOSIT transaction as one
// atomic unit. Deposits require exact ownership: there is no privileged
// bypass for money movement.
func (s *AccountLedger) Deposit(ctx context.Context, ident domain.Identity, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.Account, error) {
	return s.move(ctx, ident, accountID, amount, description, domain.TxDeposit)
}

// Withdraw debits the account and appends a WITHDRAWAL transaction as
// one atomic unit. Withdrawing the exact balance is permitted; anything
// above it fails with ErrInsufficientFunds before any write.
func (s *AccountLedger) Withdraw(ctx context.Context, ident domain.Identity, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.Account, error) {
	return s.move(ctx, ident, accountID, amount, description, domain.TxWithdrawal)
}

func (s *AccountLedger) move(ctx context.Context, ident domain.Identity, accountID uuid.UUID, amount decimal.Decimal, description string, txType domain.TransactionType) (*domain.Account, error) {
	op := "deposit"
	if txType == domain.TxWithdrawal {
		op = "withdraw"
	}
	ctx, span := ledgerTracer.Start(ctx, "AccountLedger."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("amount", amount.String()),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration(op, time.Since(start)) }()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	var updated *domain.Account
	err := s.store.Exec(ctx, func(tx port.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		// Strict owner match: privileged roles do not move other
		// people's money.
		if account.UserID != ident.UserID {
			return &domain.ErrNotFound{Resource: "account", ID: accountID.String()}
		}
		if account.Status != domain.AccountActive {
			return &domain.ErrInvalidState{Resource: "account", Message: "account is not active"}
		}
		if txType == domain.TxWithdrawal && account.Balance.LessThan(amount) {
			return &domain.ErrInsufficientFunds{Available: account.Balance, Required: amount}
		}

		account.Balance = account.Balance.Add(txType.Signed(amount))
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         txType,
			Amount:       amount,
			Description:  description,
			Timestamp:    time.Now().UTC(),
			BalanceAfter: account.Balance,
		}); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		s.metrics.IncrOperation(op, "error")
		return nil, err
	}

	s.metrics.IncrOperation(op, "success")
	s.logger.Info("balance moved",
		zap.String("operation", op),
		zap.String("account_id", accountID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("balance_after", updated.Balance.StringFixed(2)),
	)
	return updated, nil
}

// visibleAccount fetches an account and applies the read ownership
// policy: owner always, privileged callers for any account, everyone
// else sees not-found.
func (s *AccountLedger) visibleAccount(ctx context.Context, ident domain.Identity, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.UserID != ident.UserID && !ident.Privileged() {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID.String()}
	}
	return account, nil
}

// generateAccountNumber returns a 20-digit crypto-random account number.
func generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic("account number entropy unavailable: " + err.Error())
	}
	for i := range b {
		b[i] = digits[int(b[i])%len(digits)]
	}
	return string(b)
}
