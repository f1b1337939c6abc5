package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================
// Credit tariffs
// ============================================================

// TariffStatus gates whether new credits may be issued against a tariff.
type TariffStatus string

const (
	TariffActive   TariffStatus = "ACTIVE"
	TariffInactive TariffStatus = "INACTIVE"
)

// CreditTariff is an offer template: interest rate plus principal and
// term bounds. Immutable after creation except for the status toggle.
type CreditTariff struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	InterestRate decimal.Decimal `json:"interestRate"` // percent
	MinAmount    decimal.Decimal `json:"minAmount"`
	MaxAmount    decimal.Decimal `json:"maxAmount"`
	MinTerm      int             `json:"minTerm"` // months
	MaxTerm      int             `json:"maxTerm"`
	Status       TariffStatus    `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ============================================================
// Credits
// ============================================================

// CreditStatus is the credit lifecycle state. PAID is terminal.
type CreditStatus string

const (
	CreditActive CreditStatus = "ACTIVE"
	CreditPaid   CreditStatus = "PAID"
)

// Credit is an issued consumer credit. Principal and InterestRate are
// snapshots taken at issuance and do not follow later tariff edits.
// RemainingAmount starts at principal plus interest, only decreases via
// recorded payments, and the credit becomes PAID exactly when it
// reaches zero.
type Credit struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"userId"`
	AccountID       uuid.UUID       `json:"accountId"` // funding account
	TariffID        uuid.UUID       `json:"tariffId"`
	Principal       decimal.Decimal `json:"principal"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	InterestRate    decimal.Decimal `json:"interestRate"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	Status          CreditStatus    `json:"status"`
}

// TotalPayable computes principal plus simple interest at the given
// percentage rate, rounded to 2 decimal places.
func TotalPayable(principal, ratePercent decimal.Decimal) decimal.Decimal {
	interest := principal.Mul(ratePercent).Div(decimal.NewFromInt(100))
	return principal.Add(interest).Round(2)
}
