package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/infra/memstore"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/port"
)

func newCreditService(t *testing.T) (*CreditLifecycle, *AccountLedger) {
	t.Helper()
	store := memstore.New()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	return NewCreditLifecycle(store, metrics, logger), NewAccountLedger(store, metrics, logger)
}

func admin() domain.Identity {
	return domain.Identity{UserID: uuid.New(), Role: domain.RoleAdmin, Status: domain.UserActive}
}

func standardTariff(t *testing.T, svc *CreditLifecycle) *domain.CreditTariff {
	t.Helper()
	tariff, err := svc.CreateTariff(context.Background(), admin(), CreateTariffRequest{
		Name:         "Standard",
		InterestRate: money(10),
		MinAmount:    money(1000),
		MaxAmount:    money(100000),
		MinTerm:      3,
		MaxTerm:      36,
	})
	if err != nil {
		t.Fatalf("create tariff: %v", err)
	}
	return tariff
}

func TestTotalPayable(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		want      string
	}{
		{"1000", "10", "1100"},
		{"1000", "12.5", "1125"},
		{"333.33", "7.77", "359.23"},
		{"50000", "0.1", "50050"},
	}
	for _, tc := range cases {
		principal, _ := decimal.NewFromString(tc.principal)
		rate, _ := decimal.NewFromString(tc.rate)
		want, _ := decimal.NewFromString(tc.want)
		if got := domain.TotalPayable(principal, rate); !got.Equal(want) {
			t.Errorf("TotalPayable(%s, %s) = %s, want %s", tc.principal, tc.rate, got, want)
		}
	}
}

func TestCreateTariffValidation(t *testing.T) {
	svc, _ := newCreditService(t)

	var forbidden *domain.ErrForbidden
	if _, err := svc.CreateTariff(context.Background(), client(), CreateTariffRequest{Name: "X", InterestRate: money(1), MaxAmount: money(1), MaxTerm: 1}); !errors.As(err, &forbidden) {
		t.Errorf("client: expected ErrForbidden, got %v", err)
	}

	var validation *domain.ErrValidation
	bad := []CreateTariffRequest{
		{Name: "  ", InterestRate: money(10), MinAmount: money(1), MaxAmount: money(2), MinTerm: 1, MaxTerm: 2},
		{Name: "Zero rate", InterestRate: decimal.Zero, MinAmount: money(1), MaxAmount: money(2), MinTerm: 1, MaxTerm: 2},
		{Name: "Inverted amounts", InterestRate: money(10), MinAmount: money(5), MaxAmount: money(2), MinTerm: 1, MaxTerm: 2},
		{Name: "Inverted terms", InterestRate: money(10), MinAmount: money(1), MaxAmount: money(2), MinTerm: 6, MaxTerm: 3},
	}
	for _, req := range bad {
		if _, err := svc.CreateTariff(context.Background(), admin(), req); !errors.As(err, &validation) {
			t.Errorf("%s: expected ErrValidation, got %v", req.Name, err)
		}
	}
}

func TestListTariffsShowsOnlyActive(t *testing.T) {
	svc, _ := newCreditService(t)
	active := standardTariff(t, svc)
	retired := standardTariff(t, svc)

	boss := admin()
	if err := svc.SetTariffStatus(context.Background(), boss, retired.ID, domain.TariffInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	page, err := svc.ListTariffs(context.Background(), domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list tariffs: %v", err)
	}
	if page.Page.TotalElements != 1 || page.Content[0].ID != active.ID {
		t.Errorf("expected only the active tariff, got %d", page.Page.TotalElements)
	}

	var forbidden *domain.ErrForbidden
	if err := svc.SetTariffStatus(context.Background(), client(), active.ID, domain.TariffInactive); !errors.As(err, &forbidden) {
		t.Errorf("client status change: expected ErrForbidden, got %v", err)
	}
}

func TestApplyForCredit(t *testing.T) {
	svc, ledger := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	credit, err := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !credit.Principal.Equal(money(1000)) {
		t.Errorf("principal = %s, want 1000", credit.Principal)
	}
	if !credit.RemainingAmount.Equal(money(1100)) {
		t.Errorf("remaining = %s, want 1100", credit.RemainingAmount)
	}
	if credit.Status != domain.CreditActive {
		t.Errorf("status = %s, want ACTIVE", credit.Status)
	}
	if want := credit.StartDate.AddDate(0, 12, 0); !credit.EndDate.Equal(want) {
		t.Errorf("end date = %s, want %s", credit.EndDate, want)
	}

	// The funding account holds the principal in RUB with a
	// disbursement transaction.
	account, err := ledger.GetAccount(context.Background(), ident, credit.AccountID)
	if err != nil {
		t.Fatalf("get funding account: %v", err)
	}
	if !account.Balance.Equal(money(1000)) || account.Currency != domain.CurrencyRUB {
		t.Errorf("funding account wrong: balance=%s currency=%s", account.Balance, account.Currency)
	}
	page, err := ledger.ListTransactions(context.Background(), ident, credit.AccountID, port.TransactionFilter{}, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(page.Content) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(page.Content))
	}
	if txn := page.Content[0]; txn.Type != domain.TxCreditReceipt || txn.Description != "Credit disbursement" {
		t.Errorf("unexpected disbursement transaction: %+v", txn)
	}
}

func TestApplyForCreditRejections(t *testing.T) {
	svc, _ := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	var notFound *domain.ErrNotFound
	if _, err := svc.ApplyForCredit(context.Background(), ident, uuid.New(), money(1000), 12); !errors.As(err, &notFound) {
		t.Errorf("missing tariff: expected ErrNotFound, got %v", err)
	}

	var validation *domain.ErrValidation
	cases := []struct {
		name   string
		amount decimal.Decimal
		term   int
	}{
		{"below min amount", money(999), 12},
		{"above max amount", money(100001), 12},
		{"below min term", money(1000), 2},
		{"above max term", money(1000), 37},
	}
	for _, tc := range cases {
		if _, err := svc.ApplyForCredit(context.Background(), ident, tariff.ID, tc.amount, tc.term); !errors.As(err, &validation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}

	if err := svc.SetTariffStatus(context.Background(), admin(), tariff.ID, domain.TariffInactive); err != nil {
		t.Fatalf("retire tariff: %v", err)
	}
	var invalidState *domain.ErrInvalidState
	if _, err := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12); !errors.As(err, &invalidState) {
		t.Errorf("inactive tariff: expected ErrInvalidState, got %v", err)
	}
}

func TestTariffRetirementKeepsExistingCredits(t *testing.T) {
	svc, _ := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	credit, err := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := svc.SetTariffStatus(context.Background(), admin(), tariff.ID, domain.TariffInactive); err != nil {
		t.Fatalf("retire: %v", err)
	}

	// The credit carries its own rate snapshot.
	got, err := svc.GetCredit(context.Background(), ident, credit.ID)
	if err != nil {
		t.Fatalf("get credit: %v", err)
	}
	if !got.InterestRate.Equal(money(10)) || got.Status != domain.CreditActive {
		t.Errorf("credit changed after tariff retirement: %+v", got)
	}
}

func TestPayCreditToCompletion(t *testing.T) {
	svc, ledger := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	credit, err := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Top up the funding account so it covers the interest too.
	if _, err := ledger.Deposit(context.Background(), ident, credit.AccountID, money(100), ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	partial, err := svc.PayCredit(context.Background(), ident, credit.ID, credit.AccountID, money(600))
	if err != nil {
		t.Fatalf("partial payment: %v", err)
	}
	if !partial.RemainingAmount.Equal(money(500)) || partial.Status != domain.CreditActive {
		t.Errorf("after partial: remaining=%s status=%s", partial.RemainingAmount, partial.Status)
	}

	final, err := svc.PayCredit(context.Background(), ident, credit.ID, credit.AccountID, money(500))
	if err != nil {
		t.Fatalf("final payment: %v", err)
	}
	if !final.RemainingAmount.IsZero() || final.Status != domain.CreditPaid {
		t.Errorf("after final: remaining=%s status=%s", final.RemainingAmount, final.Status)
	}

	// PAID is terminal.
	var invalidState *domain.ErrInvalidState
	if _, err := svc.PayCredit(context.Background(), ident, credit.ID, credit.AccountID, money(1)); !errors.As(err, &invalidState) {
		t.Errorf("pay after PAID: expected ErrInvalidState, got %v", err)
	}

	// Source account was debited and the payments are on its ledger.
	account, err := ledger.GetAccount(context.Background(), ident, credit.AccountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Errorf("funding account balance = %s, want 0", account.Balance)
	}
	page, _ := ledger.ListTransactions(context.Background(), ident, credit.AccountID, port.TransactionFilter{}, domain.PageRequest{Size: 10})
	payments := 0
	for _, txn := range page.Content {
		if txn.Type == domain.TxCreditPayment {
			payments++
			if txn.Description != "Credit payment" {
				t.Errorf("wrong payment description: %q", txn.Description)
			}
		}
	}
	if payments != 2 {
		t.Errorf("expected 2 payment transactions, got %d", payments)
	}
}

func TestPayCreditRejectsOverpayment(t *testing.T) {
	svc, ledger := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	credit, _ := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12)
	ledger.Deposit(context.Background(), ident, credit.AccountID, money(10000), "")

	// Overpayment is rejected outright, never clamped to the remainder.
	var validation *domain.ErrValidation
	if _, err := svc.PayCredit(context.Background(), ident, credit.ID, credit.AccountID, money(1101)); !errors.As(err, &validation) {
		t.Fatalf("overpay: expected ErrValidation, got %v", err)
	}

	got, _ := svc.GetCredit(context.Background(), ident, credit.ID)
	if !got.RemainingAmount.Equal(money(1100)) {
		t.Errorf("remaining changed after rejected overpay: %s", got.RemainingAmount)
	}
	account, _ := ledger.GetAccount(context.Background(), ident, credit.AccountID)
	if !account.Balance.Equal(money(11000)) {
		t.Errorf("balance changed after rejected overpay: %s", account.Balance)
	}
}

func TestPayCreditSourceAccountChecks(t *testing.T) {
	svc, ledger := newCreditService(t)
	tariff := standardTariff(t, svc)
	ident := client()

	credit, _ := svc.ApplyForCredit(context.Background(), ident, tariff.ID, money(1000), 12)

	// Insufficient funds on the source account.
	poor, _ := ledger.OpenAccount(context.Background(), ident, domain.CurrencyRUB, money(5))
	var insufficient *domain.ErrInsufficientFunds
	if _, err := svc.PayCredit(context.Background(), ident, credit.ID, poor.ID, money(10)); !errors.As(err, &insufficient) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	// Someone else's account cannot fund the payment.
	stranger := client()
	foreign, _ := ledger.OpenAccount(context.Background(), stranger, domain.CurrencyRUB, money(10000))
	var notFound *domain.ErrNotFound
	if _, err := svc.PayCredit(context.Background(), ident, credit.ID, foreign.ID, money(10)); !errors.As(err, &notFound) {
		t.Errorf("foreign source: expected ErrNotFound, got %v", err)
	}

	// A foreign credit looks missing even to its would-be payer.
	if _, err := svc.PayCredit(context.Background(), stranger, credit.ID, foreign.ID, money(10)); !errors.As(err, &notFound) {
		t.Errorf("foreign credit: expected ErrNotFound, got %v", err)
	}
}

func TestCreditVisibilityAndListing(t *testing.T) {
	svc, _ := newCreditService(t)
	tariff := standardTariff(t, svc)
	alice := client()
	bob := client()

	first, err := svc.ApplyForCredit(context.Background(), alice, tariff.ID, money(1000), 12)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := svc.ApplyForCredit(context.Background(), alice, tariff.ID, money(2000), 12)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	svc.ApplyForCredit(context.Background(), bob, tariff.ID, money(1000), 12)

	// Owner and privileged read; strangers see not-found.
	if _, err := svc.GetCredit(context.Background(), employee(), first.ID); err != nil {
		t.Errorf("employee read: %v", err)
	}
	var notFound *domain.ErrNotFound
	if _, err := svc.GetCredit(context.Background(), bob, first.ID); !errors.As(err, &notFound) {
		t.Errorf("stranger read: expected ErrNotFound, got %v", err)
	}

	page, err := svc.ListMyCredits(context.Background(), alice, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list my: %v", err)
	}
	if page.Page.TotalElements != 2 {
		t.Fatalf("expected 2 credits, got %d", page.Page.TotalElements)
	}
	if page.Content[0].ID != second.ID {
		t.Errorf("credits not newest first")
	}

	var forbidden *domain.ErrForbidden
	if _, err := svc.ListAllCredits(context.Background(), alice, domain.PageRequest{Size: 10}); !errors.As(err, &forbidden) {
		t.Errorf("client list all: expected ErrForbidden, got %v", err)
	}
	all, err := svc.ListAllCredits(context.Background(), admin(), domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("admin list all: %v", err)
	}
	if all.Page.TotalElements != 3 {
		t.Errorf("expected 3 credits, got %d", all.Page.TotalElements)
	}
}
