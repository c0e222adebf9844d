// Package memory holds in-process repositories used by tests and STORAGE=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
)

var _ database.TollRepository = (*TollRepo)(nil)

type tollKey struct {
	deviceID string
	gantryID string
	at       int64
}

type TollRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*domain.TollRecord
	byKey  map[tollKey]int64
	now    func() time.Time
}

func NewTollRepo() *TollRepo {
	return &TollRepo{
		byID:  make(map[int64]*domain.TollRecord),
		byKey: make(map[tollKey]int64),
		now:   time.Now,
	}
}

func (r *TollRepo) Create(_ context.Context, rec *domain.TollRecord) (*domain.TollRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tollKey{rec.DeviceID, rec.GantryID, rec.CrossedAt.UnixNano()}
	if id, ok := r.byKey[key]; ok {
		existing := *r.byID[id]
		return &existing, domain.ErrAlreadyExists
	}

	r.nextID++
	stored := *rec
	stored.ID = r.nextID
	stored.Status = domain.TollCreated
	stored.Attempts = 0
	stored.Reference = ""
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	stored.UpdatedAt = stored.CreatedAt

	r.byID[stored.ID] = &stored
	r.byKey[key] = stored.ID
	out := stored
	return &out, nil
}

func (r *TollRepo) Get(_ context.Context, id int64) (*domain.TollRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("toll %d: %w", id, domain.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (r *TollRepo) UpdateStatus(_ context.Context, id int64, from, to domain.TollStatus, change domain.StatusChange) (*domain.TollRecord, error) {
	if err := domain.ValidateTransition(from, to, change); err != nil {
		return nil, err
	}
	if change.At.IsZero() {
		change.At = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("toll %d: %w", id, domain.ErrNotFound)
	}
	if rec.Status != from {
		return nil, fmt.Errorf("toll %d is %s, expected %s: %w", id, rec.Status, from, domain.ErrConflict)
	}
	next := rec.Apply(to, change)
	*rec = next
	return &next, nil
}

func (r *TollRepo) ListByStatus(_ context.Context, status domain.TollStatus, limit int) ([]domain.TollRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.TollRecord
	for _, rec := range r.byID {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
