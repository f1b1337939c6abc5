package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountClosed AccountStatus = "CLOSED"
)

// Currency is the closed set of supported currencies.
type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyRUB, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// Account is a balance-bearing account backed by an append-only
// transaction history. The balance always equals the signed sum of the
// account's transactions; a CLOSED account has a zero balance forever.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"accountNumber"`
	UserID    uuid.UUID       `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  Currency        `json:"currency"`
	Status    AccountStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	ClosedAt  *time.Time      `json:"closedAt,omitempty"`
}

// ============================================================
// Transactions (the ledger)
// ============================================================

// TransactionType classifies a ledger entry. The amount is always
// positive; the sign is implied by the type.
type TransactionType string

const (
	TxDeposit       TransactionType = "DEPOSIT"
	TxWithdrawal    TransactionType = "WITHDRAWAL"
	TxCreditReceipt TransactionType = "CREDIT_RECEIPT"
	TxCreditPayment TransactionType = "CREDIT_PAYMENT"
)

// Signed returns amount with the sign implied by the transaction type.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TxWithdrawal, TxCreditPayment:
		return amount.Neg()
	}
	return amount
}

// Transaction is an immutable ledger entry. Within an account,
// transactions are totally ordered by timestamp; BalanceAfter is the
// account balance immediately after the entry was applied.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"accountId"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Timestamp    time.Time       `json:"timestamp"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
}
