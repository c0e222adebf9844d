package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TollStatus string

const (
	TollCreated           TollStatus = "CREATED"
	TollSettling          TollStatus = "SETTLING"
	TollSettled           TollStatus = "SETTLED"
	TollInsufficientFunds TollStatus = "INSUFFICIENT_FUNDS"
	TollLedgerFailed      TollStatus = "LEDGER_FAILED"
)

var tollTransitions = map[TollStatus][]TollStatus{
	TollCreated:           {TollSettling},
	TollSettling:          {TollSettled, TollInsufficientFunds, TollLedgerFailed},
	TollInsufficientFunds: {TollSettling},
	TollLedgerFailed:      {TollSettling},
}

func (s TollStatus) Valid() bool {
	switch s {
	case TollCreated, TollSettling, TollSettled, TollInsufficientFunds, TollLedgerFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the toll lifecycle.
func CanTransition(from, to TollStatus) bool {
	for _, s := range tollTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TollRecord struct {
	ID        int64           `json:"toll_id"`
	DeviceID  string          `json:"vehicle_id"`
	GantryID  string          `json:"gantry_id"`
	CrossedAt time.Time       `json:"crossed_at"`
	Price     decimal.Decimal `json:"price"`
	Status    TollStatus      `json:"status"`
	Attempts  int             `json:"attempts"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StatusChange carries the side fields written together with a status CAS.
type StatusChange struct {
	Reference    string
	CountAttempt bool
	At           time.Time
}

// ValidateTransition checks the edge and the reference rule for SETTLED.
func ValidateTransition(from, to TollStatus, change StatusChange) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	if to == TollSettled && change.Reference == "" {
		return fmt.Errorf("%s without ledger reference: %w", to, ErrInvalidTransition)
	}
	return nil
}

// Apply returns a copy of r moved to status to.
func (r TollRecord) Apply(to TollStatus, change StatusChange) TollRecord {
	r.Status = to
	if change.Reference != "" {
		r.Reference = change.Reference
	}
	if change.CountAttempt {
		r.Attempts++
	}
	if !change.At.IsZero() {
		r.UpdatedAt = change.At
	}
	return r
}

// Notification is published on every toll status change.
type Notification struct {
	TollID    int64           `json:"toll_id"`
	DeviceID  string          `json:"vehicle_id"`
	GantryID  string          `json:"gantry_id"`
	Price     decimal.Decimal `json:"price"`
	Status    TollStatus      `json:"status"`
	Reference string          `json:"reference,omitempty"`
	Attempts  int             `json:"attempts"`
	Timestamp int64           `json:"timestamp"`
}

func NewNotification(r *TollRecord) *Notification {
	return &Notification{
		TollID:    r.ID,
		DeviceID:  r.DeviceID,
		GantryID:  r.GantryID,
		Price:     r.Price,
		Status:    r.Status,
		Reference: r.Reference,
		Attempts:  r.Attempts,
		Timestamp: r.UpdatedAt.Unix(),
	}
}
