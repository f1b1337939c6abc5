package service

import (
	"context"
	"strings"
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

var creditTracer = otel.Tracer("service/credit")

// CreditLifecycle enforces tariff bounds, amortization and repayment.
// Issuance opens a funding account and disburses the principal onto it;
// repayment debits a source account and burns down the remaining amount
// until the credit flips to PAID.
type CreditLifecycle struct {
	store   port.CreditBackend
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCreditLifecycle creates the credit lifecycle service.
func NewCreditLifecycle(store port.CreditBackend, metrics *observability.Metrics, logger *zap.Logger) *CreditLifecycle {
	return &CreditLifecycle{store: store, metrics: metrics, logger: logger}
}

// ============================================================
// Tariffs
// ============================================================

// ListTariffs returns one page of ACTIVE tariffs in creation order.
// Anonymous access is permitted: no identity parameter.
func (s *CreditLifecycle) ListTariffs(ctx context.Context, page domain.PageRequest) (domain.Page[domain.CreditTariff], error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.ListTariffs")
	defer span.End()

	page = page.Normalize()
	tariffs, total, err := s.store.ListTariffs(ctx, true, page)
	if err != nil {
		return domain.Page[domain.CreditTariff]{}, err
	}
	return domain.NewPage(tariffs, page, total), nil
}

// CreateTariffRequest carries the tariff parameters.
type CreateTariffRequest struct {
	Name         string
	InterestRate decimal.Decimal
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	MinTerm      int
	MaxTerm      int
}

// CreateTariff creates a new ACTIVE tariff. Privileged callers only.
func (s *CreditLifecycle) CreateTariff(ctx context.Context, ident domain.Identity, req CreateTariffRequest) (*domain.CreditTariff, error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.CreateTariff")
	defer span.End()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !ident.Privileged() {
		return nil, &domain.ErrForbidden{Action: "create tariff"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "must not be blank"}
	}
	if !req.InterestRate.IsPositive() {
		return nil, &domain.ErrValidation{Field: "interestRate", Message: "must be positive"}
	}
	if req.MinAmount.GreaterThan(req.MaxAmount) {
		return nil, &domain.ErrValidation{Field: "minAmount", Message: "must not exceed maxAmount"}
	}
	if req.MinTerm > req.MaxTerm {
		return nil, &domain.ErrValidation{Field: "minTerm", Message: "must not exceed maxTerm"}
	}

	tariff := &domain.CreditTariff{
		ID:           uuid.New(),
		Name:         req.Name,
		InterestRate: req.InterestRate,
		MinAmount:    req.MinAmount,
		MaxAmount:    req.MaxAmount,
		MinTerm:      req.MinTerm,
		MaxTerm:      req.MaxTerm,
		Status:       domain.TariffActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateTariff(ctx, tariff); err != nil {
		return nil, err
	}

	s.logger.Info("tariff created",
		zap.String("tariff_id", tariff.ID.String()),
		zap.String("name", tariff.Name),
		zap.String("rate", tariff.InterestRate.String()),
	)
	return tariff, nil
}

// SetTariffStatus toggles a tariff between ACTIVE and INACTIVE.
// Privileged callers only. Existing credits keep their snapshots.
func (s *CreditLifecycle) SetTariffStatus(ctx context.Context, ident domain.Identity, tariffID uuid.UUID, status domain.TariffStatus) error {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.SetTariffStatus")
	defer span.End()

	if !ident.Active() {
		return &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !ident.Privileged() {
		return &domain.ErrForbidden{Action: "update tariff status"}
	}
	if status != domain.TariffActive && status != domain.TariffInactive {
		return &domain.ErrValidation{Field: "status", Message: "must be ACTIVE or INACTIVE"}
	}
	return s.store.UpdateTariffStatus(ctx, tariffID, status)
}

// ============================================================
// Credits
// ============================================================

// ApplyForCredit issues a credit against an ACTIVE tariff. As one
// atomic unit it opens a funding account holding the principal, records
// the disbursement as a CREDIT_RECEIPT transaction, and persists the
// credit with remaining = principal + simple interest.
func (s *CreditLifecycle) ApplyForCredit(ctx context.Context, ident domain.Identity, tariffID uuid.UUID, amount decimal.Decimal, termMonths int) (*domain.Credit, error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.ApplyForCredit")
	defer span.End()
	span.SetAttributes(
		attribute.String("tariff.id", tariffID.String()),
		attribute.String("amount", amount.String()),
		attribute.Int("term_months", termMonths),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("apply_for_credit", time.Since(start)) }()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}

	tariff, err := s.store.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	if tariff.Status != domain.TariffActive {
		return nil, &domain.ErrInvalidState{Resource: "tariff", Message: "tariff is not active"}
	}
	if amount.LessThan(tariff.MinAmount) || amount.GreaterThan(tariff.MaxAmount) {
		return nil, &domain.ErrValidation{Field: "amount", Message: "outside tariff bounds"}
	}
	if termMonths < tariff.MinTerm || termMonths > tariff.MaxTerm {
		return nil, &domain.ErrValidation{Field: "term", Message: "outside tariff bounds"}
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    generateAccountNumber(),
		UserID:    ident.UserID,
		Balance:   amount,
		Currency:  domain.CurrencyRUB,
		Status:    domain.AccountActive,
		CreatedAt: now,
	}
	credit := &domain.Credit{
		ID:              uuid.New(),
		UserID:          ident.UserID,
		AccountID:       account.ID,
		TariffID:        tariff.ID,
		Principal:       amount,
		RemainingAmount: domain.TotalPayable(amount, tariff.InterestRate),
		InterestRate:    tariff.InterestRate,
		StartDate:       now,
		EndDate:         now.AddDate(0, termMonths, 0),
		Status:          domain.CreditActive,
	}

	err = s.store.Exec(ctx, func(tx port.Tx) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         domain.TxCreditReceipt,
			Amount:       amount,
			Description:  "Credit disbursement",
			Timestamp:    now,
			BalanceAfter: account.Balance,
		}); err != nil {
			return err
		}
		return tx.InsertCredit(ctx, credit)
	})
	if err != nil {
		s.metrics.IncrOperation("apply_for_credit", "error")
		return nil, err
	}

	s.metrics.IncrOperation("apply_for_credit", "success")
	s.logger.Info("credit issued",
		zap.String("credit_id", credit.ID.String()),
		zap.String("user_id", ident.UserID.String()),
		zap.String("principal", credit.Principal.StringFixed(2)),
		zap.String("remaining", credit.RemainingAmount.StringFixed(2)),
	)
	return credit, nil
}

// GetCredit returns the credit if the caller owns it or is privileged.
func (s *CreditLifecycle) GetCredit(ctx context.Context, ident domain.Identity, creditID uuid.UUID) (*domain.Credit, error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.GetCredit")
	defer span.End()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}

	credit, err := s.store.GetCredit(ctx, creditID)
	if err != nil {
		return nil, err
	}
	if credit.UserID != ident.UserID && !ident.Privileged() {
		return nil, &domain.ErrNotFound{Resource: "credit", ID: creditID.String()}
	}
	return credit, nil
}

// ListMyCredits returns one page of the caller's credits, newest first.
func (s *CreditLifecycle) ListMyCredits(ctx context.Context, ident domain.Identity, page domain.PageRequest) (domain.Page[domain.Credit], error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.ListMyCredits")
	defer span.End()

	if !ident.Active() {
		return domain.Page[domain.Credit]{}, &domain.ErrUnauthorized{Message: "user is not active"}
	}

	page = page.Normalize()
	userID := ident.UserID
	credits, total, err := s.store.ListCredits(ctx, port.CreditFilter{UserID: &userID}, page)
	if err != nil {
		return domain.Page[domain.Credit]{}, err
	}
	return domain.NewPage(credits, page, total), nil
}

// ListAllCredits is the privileged listing across all users.
func (s *CreditLifecycle) ListAllCredits(ctx context.Context, ident domain.Identity, page domain.PageRequest) (domain.Page[domain.Credit], error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.ListAllCredits")
	defer span.End()

	if !ident.Active() {
		return domain.Page[domain.Credit]{}, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !ident.Privileged() {
		return domain.Page[domain.Credit]{}, &domain.ErrForbidden{Action: "list all credits"}
	}

	page = page.Normalize()
	credits, total, err := s.store.ListCredits(ctx, port.CreditFilter{}, page)
	if err != nil {
		return domain.Page[domain.Credit]{}, err
	}
	return domain.NewPage(credits, page, total), nil
}

// PayCredit repays part (or all) of a credit from one of the caller's
// accounts. As one atomic unit it debits the source account, appends a
// CREDIT_PAYMENT transaction on it, and decrements the remaining
// amount; hitting exactly zero flips the credit to PAID, which is
// terminal. Overpayment is rejected, never clamped.
func (s *CreditLifecycle) PayCredit(ctx context.Context, ident domain.Identity, creditID, sourceAccountID uuid.UUID, amount decimal.Decimal) (*domain.Credit, error) {
	ctx, span := creditTracer.Start(ctx, "CreditLifecycle.PayCredit")
	defer span.End()
	span.SetAttributes(
		attribute.String("credit.id", creditID.String()),
		attribute.String("amount", amount.String()),
	)

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("pay_credit", time.Since(start)) }()

	if !ident.Active() {
		return nil, &domain.ErrUnauthorized{Message: "user is not active"}
	}
	if !amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	var paid *domain.Credit
	err := s.store.Exec(ctx, func(tx port.Tx) error {
		credit, err := tx.LockCredit(ctx, creditID)
		if err != nil {
			return err
		}
		if credit.UserID != ident.UserID {
			return &domain.ErrNotFound{Resource: "credit", ID: creditID.String()}
		}
		if credit.Status == domain.CreditPaid {
			return &domain.ErrInvalidState{Resource: "credit", Message: "credit is already paid"}
		}
		if amount.GreaterThan(credit.RemainingAmount) {
			return &domain.ErrValidation{Field: "amount", Message: "exceeds remaining amount"}
		}

		account, err := tx.LockAccount(ctx, sourceAccountID)
		if err != nil {
			return err
		}
		if account.UserID != ident.UserID {
			return &domain.ErrNotFound{Resource: "account", ID: sourceAccountID.String()}
		}
		if account.Status != domain.AccountActive {
			return &domain.ErrInvalidState{Resource: "account", Message: "account is not active"}
		}
		if account.Balance.LessThan(amount) {
			return &domain.ErrInsufficientFunds{Available: account.Balance, Required: amount}
		}

		account.Balance = account.Balance.Sub(amount)
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &domain.Transaction{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         domain.TxCreditPayment,
			Amount:       amount,
			Description:  "Credit payment",
			Timestamp:    time.Now().UTC(),
			BalanceAfter: account.Balance,
		}); err != nil {
			return err
		}

		credit.RemainingAmount = credit.RemainingAmount.Sub(amount)
		if credit.RemainingAmount.IsZero() {
			credit.Status = domain.CreditPaid
		}
		if err := tx.UpdateCredit(ctx, credit); err != nil {
			return err
		}
		paid = credit
		return nil
	})
	if err != nil {
		s.metrics.IncrOperation("pay_credit", "error")
		return nil, err
	}

	s.metrics.IncrOperation("pay_credit", "success")
	s.logger.Info("credit payment applied",
		zap.String("credit_id", creditID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("remaining", paid.RemainingAmount.StringFixed(2)),
		zap.String("status", string(paid.Status)),
	)
	return paid, nil
}
