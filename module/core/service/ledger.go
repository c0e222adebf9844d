package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
)

// LedgerService owns vehicle balances. Every mutation is an appended event.
type LedgerService struct {
	repo   database.LedgerRepository
	logger *slog.Logger
	now    func() time.Time
	newRef func() string
}

func NewLedgerService(repo database.LedgerRepository, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newRef: uuid.NewString,
	}
}

// Debit takes amount from the vehicle. A repeated key returns the first reference without debiting again.
func (s *LedgerService) Debit(ctx context.Context, vehicleID string, amount decimal.Decimal, key string) (string, error) {
	if !domain.ValidAmount(amount) {
		return "", fmt.Errorf("debit %s: %w", amount, domain.ErrInvalidAmount)
	}
	if key == "" {
		return "", errors.New("debit: idempotency key required")
	}

	var ref string
	err := s.repo.WithVehicle(ctx, vehicleID, func(tx database.LedgerTx) error {
		prior, err := tx.FindByKey(key)
		if err != nil {
			return err
		}
		if prior != nil {
			ref = prior.Reference
			return nil
		}

		e := domain.LedgerEvent{
			VehicleID:      vehicleID,
			Kind:           domain.LedgerDebit,
			Amount:         amount,
			Reference:      s.newRef(),
			IdempotencyKey: key,
			Timestamp:      s.now(),
		}
		next, err := tx.Balance().Apply(e)
		if err != nil {
			return err
		}
		if _, err := tx.Append(e, next); err != nil {
			return err
		}
		ref = e.Reference
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("debit %s: %w", vehicleID, err)
	}
	return ref, nil
}

// Deposit credits amount. Non-negative amounts always succeed.
func (s *LedgerService) Deposit(ctx context.Context, vehicleID string, amount decimal.Decimal) (domain.LedgerEvent, error) {
	if vehicleID == "" {
		return domain.LedgerEvent{}, errors.New("deposit: vehicle id required")
	}
	if !domain.ValidAmount(amount) {
		return domain.LedgerEvent{}, fmt.Errorf("deposit %s: %w", amount, domain.ErrInvalidAmount)
	}

	var stored domain.LedgerEvent
	err := s.repo.WithVehicle(ctx, vehicleID, func(tx database.LedgerTx) error {
		e := domain.LedgerEvent{
			VehicleID: vehicleID,
			Kind:      domain.LedgerDeposit,
			Amount:    amount,
			Reference: s.newRef(),
			Timestamp: s.now(),
		}
		next, err := tx.Balance().Apply(e)
		if err != nil {
			return err
		}
		stored, err = tx.Append(e, next)
		return err
	})
	if err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("deposit %s: %w", vehicleID, err)
	}
	s.logger.Info("deposit recorded", "vehicle", vehicleID, "amount", amount.String(), "reference", stored.Reference)
	return stored, nil
}

// Lookup returns the reference of a prior debit made under key, if any.
func (s *LedgerService) Lookup(ctx context.Context, vehicleID, key string) (string, bool, error) {
	e, err := s.repo.FindByKey(ctx, vehicleID, key)
	if err != nil {
		return "", false, err
	}
	if e == nil {
		return "", false, nil
	}
	return e.Reference, true, nil
}

func (s *LedgerService) Balance(ctx context.Context, vehicleID string) (domain.VehicleBalance, error) {
	return s.repo.Balance(ctx, vehicleID)
}

func (s *LedgerService) Events(ctx context.Context, vehicleID string) ([]domain.LedgerEvent, error) {
	return s.repo.Events(ctx, vehicleID)
}

// Replay folds the event log and checks it against the stored balance.
func (s *LedgerService) Replay(ctx context.Context, vehicleID string) (domain.VehicleBalance, error) {
	events, err := s.repo.Events(ctx, vehicleID)
	if err != nil {
		return domain.VehicleBalance{}, err
	}
	folded, err := domain.Fold(vehicleID, events)
	if err != nil {
		return folded, err
	}
	stored, err := s.repo.Balance(ctx, vehicleID)
	if err != nil {
		return folded, err
	}
	if !stored.Balance.Equal(folded.Balance) {
		return folded, fmt.Errorf("vehicle %s: stored balance %s, replayed %s", vehicleID, stored.Balance, folded.Balance)
	}
	return folded, nil
}
