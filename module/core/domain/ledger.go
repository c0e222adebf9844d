package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEventKind string

const (
	LedgerDeposit LedgerEventKind = "deposit"
	LedgerDebit   LedgerEventKind = "debit"
)

// LedgerEvent is an immutable entry in a vehicle's ledger.
type LedgerEvent struct {
	Seq            int64           `json:"seq"`
	VehicleID      string          `json:"vehicle_id"`
	Kind           LedgerEventKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// MoneyScale is the number of decimal places money is stored with.
const MoneyScale = 2

// ValidAmount reports whether a is non-negative and needs no more than MoneyScale decimal places.
func ValidAmount(a decimal.Decimal) bool {
	return !a.IsNegative() && a.Equal(a.Truncate(MoneyScale))
}

type VehicleBalance struct {
	VehicleID string          `json:"vehicle_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
}

// Apply folds one event into b. The balance never goes below zero.
func (b VehicleBalance) Apply(e LedgerEvent) (VehicleBalance, error) {
	if !ValidAmount(e.Amount) {
		return b, fmt.Errorf("%s amount %s: %w", e.Kind, e.Amount, ErrInvalidAmount)
	}
	switch e.Kind {
	case LedgerDeposit:
		b.Balance = b.Balance.Add(e.Amount)
	case LedgerDebit:
		if b.Balance.LessThan(e.Amount) {
			return b, fmt.Errorf("balance %s, debit %s: %w", b.Balance, e.Amount, ErrInsufficientFunds)
		}
		b.Balance = b.Balance.Sub(e.Amount)
	default:
		return b, fmt.Errorf("unknown ledger event kind %q", e.Kind)
	}
	b.Version++
	return b, nil
}

// Fold replays events into a balance.
func Fold(vehicleID string, events []LedgerEvent) (VehicleBalance, error) {
	b := VehicleBalance{VehicleID: vehicleID, Balance: decimal.Zero}
	for _, e := range events {
		var err error
		if b, err = b.Apply(e); err != nil {
			return b, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
	}
	return b, nil
}
