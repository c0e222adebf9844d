package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
)

var _ database.LedgerRepository = (*LedgerRepo)(nil)

const eventColumns = `seq, vehicle_id, kind, amount, reference, COALESCE(idempotency_key, ''), created_at`

// LedgerRepo serializes each vehicle with a row lock on vehicle_balances.
type LedgerRepo struct {
	db *sql.DB
}

func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *LedgerRepo) WithVehicle(ctx context.Context, vehicleID string, fn func(tx database.LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vehicle_balances (vehicle_id, balance, version) VALUES ($1, 0, 0) ON CONFLICT (vehicle_id) DO NOTHING`,
		vehicleID,
	); err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}

	bal := domain.VehicleBalance{VehicleID: vehicleID}
	if err := tx.QueryRowContext(ctx,
		`SELECT balance, version FROM vehicle_balances WHERE vehicle_id = $1 FOR UPDATE`,
		vehicleID,
	).Scan(&bal.Balance, &bal.Version); err != nil {
		return fmt.Errorf("lock balance row: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: tx, balance: bal}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (r *LedgerRepo) FindByKey(ctx context.Context, vehicleID, key string) (*domain.LedgerEvent, error) {
	return findByKey(ctx, r.db, vehicleID, key)
}

func (r *LedgerRepo) Balance(ctx context.Context, vehicleID string) (domain.VehicleBalance, error) {
	bal := domain.VehicleBalance{VehicleID: vehicleID, Balance: decimal.Zero}
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, version FROM vehicle_balances WHERE vehicle_id = $1`, vehicleID,
	).Scan(&bal.Balance, &bal.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return bal, nil
	}
	return bal, err
}

func (r *LedgerRepo) Events(ctx context.Context, vehicleID string) ([]domain.LedgerEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE vehicle_id = $1 ORDER BY seq ASC`, vehicleID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.LedgerEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *e)
	}
	return results, rows.Err()
}

func scanEvent(row rowScanner) (*domain.LedgerEvent, error) {
	var e domain.LedgerEvent
	if err := row.Scan(&e.Seq, &e.VehicleID, &e.Kind, &e.Amount, &e.Reference, &e.IdempotencyKey, &e.Timestamp); err != nil {
		return nil, err
	}
	return &e, nil
}

func findByKey(ctx context.Context, q queryer, vehicleID, key string) (*domain.LedgerEvent, error) {
	if key == "" {
		return nil, nil
	}
	e, err := scanEvent(q.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ledger_events WHERE vehicle_id = $1 AND idempotency_key = $2`,
		vehicleID, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger event: %w", err)
	}
	return e, nil
}

type pgTx struct {
	ctx     context.Context
	tx      *sql.Tx
	balance domain.VehicleBalance
}

func (t *pgTx) Balance() domain.VehicleBalance { return t.balance }

func (t *pgTx) FindByKey(key string) (*domain.LedgerEvent, error) {
	return findByKey(t.ctx, t.tx, t.balance.VehicleID, key)
}

func (t *pgTx) Append(e domain.LedgerEvent, next domain.VehicleBalance) (domain.LedgerEvent, error) {
	if err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO ledger_events (vehicle_id, kind, amount, reference, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		 RETURNING seq`,
		e.VehicleID, e.Kind, e.Amount, e.Reference, e.IdempotencyKey, e.Timestamp,
	).Scan(&e.Seq); err != nil {
		return e, fmt.Errorf("append ledger event: %w", err)
	}

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE vehicle_balances SET balance = $1, version = $2 WHERE vehicle_id = $3`,
		next.Balance, next.Version, next.VehicleID,
	); err != nil {
		return e, fmt.Errorf("update balance: %w", err)
	}
	t.balance = next
	return e, nil
}
