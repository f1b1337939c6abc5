package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/port"
)

func newAccount(userID uuid.UUID, balance int64) *domain.Account {
	return &domain.Account{
		ID:        uuid.New(),
		Number:    "40817810000000000001",
		UserID:    userID,
		Balance:   decimal.NewFromInt(balance),
		Currency:  domain.CurrencyRUB,
		Status:    domain.AccountActive,
		CreatedAt: time.Now().UTC(),
	}
}

func seedAccount(t *testing.T, s *Store, account *domain.Account) {
	t.Helper()
	err := s.Exec(context.Background(), func(tx port.Tx) error {
		return tx.InsertAccount(context.Background(), account)
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestExecRollsBackOnError(t *testing.T) {
	s := New()
	account := newAccount(uuid.New(), 100)
	seedAccount(t, s, account)

	boom := errors.New("boom")
	err := s.Exec(context.Background(), func(tx port.Tx) error {
		locked, err := tx.LockAccount(context.Background(), account.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.NewFromInt(0)
		if err := tx.UpdateAccount(context.Background(), locked); err != nil {
			return err
		}
		if err := tx.InsertTransaction(context.Background(), &domain.Transaction{
			ID:        uuid.New(),
			AccountID: account.ID,
			Type:      domain.TxWithdrawal,
			Amount:    decimal.NewFromInt(100),
			Timestamp: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance changed after rollback: %s", got.Balance)
	}
	_, total, err := s.ListTransactions(context.Background(), account.ID, port.TransactionFilter{}, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no transactions after rollback, got %d", total)
	}
}

func TestExecCanceledContextDoesNotCommit(t *testing.T) {
	s := New()
	account := newAccount(uuid.New(), 100)
	seedAccount(t, s, account)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.Exec(ctx, func(tx port.Tx) error {
		locked, err := tx.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.NewFromInt(0)
		if err := tx.UpdateAccount(ctx, locked); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}

	got, _ := s.GetAccount(context.Background(), account.ID)
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance changed after canceled unit: %s", got.Balance)
	}
}

func TestConcurrentWithdrawalsSerialize(t *testing.T) {
	s := New()
	const workers = 50
	account := newAccount(uuid.New(), workers)
	seedAccount(t, s, account)

	chunk := decimal.NewFromInt(1)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Exec(context.Background(), func(tx port.Tx) error {
				locked, err := tx.LockAccount(context.Background(), account.ID)
				if err != nil {
					return err
				}
				if locked.Balance.LessThan(chunk) {
					return &domain.ErrInsufficientFunds{Available: locked.Balance, Required: chunk}
				}
				locked.Balance = locked.Balance.Sub(chunk)
				if err := tx.UpdateAccount(context.Background(), locked); err != nil {
					return err
				}
				return tx.InsertTransaction(context.Background(), &domain.Transaction{
					ID:           uuid.New(),
					AccountID:    account.ID,
					Type:         domain.TxWithdrawal,
					Amount:       chunk,
					Timestamp:    time.Now().UTC(),
					BalanceAfter: locked.Balance,
				})
			})
			if err != nil {
				t.Errorf("withdrawal failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", got.Balance)
	}
	_, total, err := s.ListTransactions(context.Background(), account.ID, port.TransactionFilter{}, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if total != workers {
		t.Errorf("expected %d transactions, got %d", workers, total)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	s := New()
	account := newAccount(uuid.New(), 0)
	seedAccount(t, s, account)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	descriptions := []string{"first", "second", "third"}
	for i, d := range descriptions {
		err := s.Exec(context.Background(), func(tx port.Tx) error {
			return tx.InsertTransaction(context.Background(), &domain.Transaction{
				ID:          uuid.New(),
				AccountID:   account.ID,
				Type:        domain.TxDeposit,
				Amount:      decimal.NewFromInt(1),
				Description: d,
				Timestamp:   base.Add(time.Duration(i) * time.Minute),
			})
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	txns, total, err := s.ListTransactions(context.Background(), account.ID, port.TransactionFilter{}, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3, got %d", total)
	}
	if txns[0].Description != "third" || txns[2].Description != "first" {
		t.Errorf("wrong order: %s, %s, %s", txns[0].Description, txns[1].Description, txns[2].Description)
	}

	from := base.Add(30 * time.Second)
	txns, total, err = s.ListTransactions(context.Background(), account.ID, port.TransactionFilter{From: &from}, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 2 || txns[0].Description != "third" {
		t.Errorf("time filter wrong: total=%d", total)
	}
}

func TestListAccountsFilterAndPaging(t *testing.T) {
	s := New()
	alice := uuid.New()
	bob := uuid.New()
	for i := 0; i < 5; i++ {
		seedAccount(t, s, newAccount(alice, int64(i)))
	}
	seedAccount(t, s, newAccount(bob, 0))

	accounts, total, err := s.ListAccounts(context.Background(), port.AccountFilter{UserID: &alice}, domain.PageRequest{Page: 1, Size: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(accounts) != 2 {
		t.Errorf("expected page of 2, got %d", len(accounts))
	}
	for _, a := range accounts {
		if a.UserID != alice {
			t.Errorf("foreign account in filtered listing")
		}
	}

	accounts, _, err = s.ListAccounts(context.Background(), port.AccountFilter{UserID: &alice}, domain.PageRequest{Page: 9, Size: 2})
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected empty page past end, got %d", len(accounts))
	}
}

func TestTariffLifecycle(t *testing.T) {
	s := New()
	tariff := &domain.CreditTariff{
		ID:           uuid.New(),
		Name:         "Standard",
		InterestRate: decimal.NewFromInt(10),
		MinAmount:    decimal.NewFromInt(1000),
		MaxAmount:    decimal.NewFromInt(100000),
		MinTerm:      3,
		MaxTerm:      36,
		Status:       domain.TariffActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateTariff(context.Background(), tariff); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateTariff(context.Background(), tariff); err == nil {
		t.Error("expected conflict on duplicate tariff")
	}

	if err := s.UpdateTariffStatus(context.Background(), tariff.ID, domain.TariffInactive); err != nil {
		t.Fatalf("update status: %v", err)
	}
	tariffs, total, err := s.ListTariffs(context.Background(), true, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(tariffs) != 0 {
		t.Errorf("inactive tariff leaked into active listing")
	}
	_, total, err = s.ListTariffs(context.Background(), false, domain.PageRequest{Size: 10})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 tariff, got %d", total)
	}
}
