package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
)

var _ database.TollRepository = (*TollRepo)(nil)

const tollColumns = `id, device_id, gantry_id, crossed_at, price, status, attempts, reference, created_at, updated_at`

type TollRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewTollRepo(db *sql.DB) *TollRepo {
	return &TollRepo{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToll(row rowScanner) (*domain.TollRecord, error) {
	var (
		rec domain.TollRecord
		ref sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.DeviceID, &rec.GantryID, &rec.CrossedAt, &rec.Price,
		&rec.Status, &rec.Attempts, &ref, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Reference = ref.String
	return &rec, nil
}

func (r *TollRepo) Create(ctx context.Context, rec *domain.TollRecord) (*domain.TollRecord, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO toll_records (device_id, gantry_id, crossed_at, price, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		 ON CONFLICT (device_id, gantry_id, crossed_at) DO NOTHING
		 RETURNING `+tollColumns,
		rec.DeviceID, rec.GantryID, rec.CrossedAt, rec.Price, domain.TollCreated, createdAt,
	)
	created, err := scanToll(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("insert toll: %w", err)
	}

	existing, err := scanToll(r.db.QueryRowContext(ctx,
		`SELECT `+tollColumns+` FROM toll_records WHERE device_id = $1 AND gantry_id = $2 AND crossed_at = $3`,
		rec.DeviceID, rec.GantryID, rec.CrossedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("load duplicate toll: %w", err)
	}
	return existing, domain.ErrAlreadyExists
}

func (r *TollRepo) Get(ctx context.Context, id int64) (*domain.TollRecord, error) {
	rec, err := scanToll(r.db.QueryRowContext(ctx,
		`SELECT `+tollColumns+` FROM toll_records WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("toll %d: %w", id, domain.ErrNotFound)
	}
	return rec, err
}

func (r *TollRepo) UpdateStatus(ctx context.Context, id int64, from, to domain.TollStatus, change domain.StatusChange) (*domain.TollRecord, error) {
	if err := domain.ValidateTransition(from, to, change); err != nil {
		return nil, err
	}
	at := change.At
	if at.IsZero() {
		at = r.now()
	}
	attempt := 0
	if change.CountAttempt {
		attempt = 1
	}

	rec, err := scanToll(r.db.QueryRowContext(ctx,
		`UPDATE toll_records
		 SET status = $1, reference = COALESCE(NULLIF($2, ''), reference), attempts = attempts + $3, updated_at = $4
		 WHERE id = $5 AND status = $6
		 RETURNING `+tollColumns,
		to, change.Reference, attempt, at, id, from,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update toll %d: %w", id, err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("toll %d is %s, expected %s: %w", id, current.Status, from, domain.ErrConflict)
}

func (r *TollRepo) ListByStatus(ctx context.Context, status domain.TollStatus, limit int) ([]domain.TollRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tollColumns+` FROM toll_records WHERE status = $1 ORDER BY id ASC LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.TollRecord
	for rows.Next() {
		rec, err := scanToll(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}
