package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database"
)

var _ database.LedgerRepository = (*LedgerRepo)(nil)

type account struct {
	mu      sync.Mutex
	balance domain.VehicleBalance
	events  []domain.LedgerEvent
	byKey   map[string]int
}

// LedgerRepo keeps one lock per vehicle; the global lock only guards account creation.
type LedgerRepo struct {
	mu       sync.Mutex
	accounts map[string]*account

	seqMu sync.Mutex
	seq   int64
}

func NewLedgerRepo() *LedgerRepo {
	return &LedgerRepo{accounts: make(map[string]*account)}
}

func (r *LedgerRepo) account(vehicleID string) *account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[vehicleID]
	if !ok {
		a = &account{
			balance: domain.VehicleBalance{VehicleID: vehicleID, Balance: decimal.Zero},
			byKey:   make(map[string]int),
		}
		r.accounts[vehicleID] = a
	}
	return a
}

func (r *LedgerRepo) nextSeq() int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.seq++
	return r.seq
}

func (r *LedgerRepo) WithVehicle(ctx context.Context, vehicleID string, fn func(tx database.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a := r.account(vehicleID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(&memTx{repo: r, acct: a})
}

func (r *LedgerRepo) FindByKey(_ context.Context, vehicleID, key string) (*domain.LedgerEvent, error) {
	a := r.account(vehicleID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.find(key), nil
}

func (r *LedgerRepo) Balance(_ context.Context, vehicleID string) (domain.VehicleBalance, error) {
	a := r.account(vehicleID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (r *LedgerRepo) Events(_ context.Context, vehicleID string) ([]domain.LedgerEvent, error) {
	a := r.account(vehicleID)
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.LedgerEvent, len(a.events))
	copy(out, a.events)
	return out, nil
}

func (a *account) find(key string) *domain.LedgerEvent {
	if key == "" {
		return nil
	}
	i, ok := a.byKey[key]
	if !ok {
		return nil
	}
	e := a.events[i]
	return &e
}

type memTx struct {
	repo *LedgerRepo
	acct *account
}

func (t *memTx) Balance() domain.VehicleBalance { return t.acct.balance }

func (t *memTx) FindByKey(key string) (*domain.LedgerEvent, error) { return t.acct.find(key), nil }

func (t *memTx) Append(e domain.LedgerEvent, next domain.VehicleBalance) (domain.LedgerEvent, error) {
	e.Seq = t.repo.nextSeq()
	t.acct.events = append(t.acct.events, e)
	if e.IdempotencyKey != "" {
		t.acct.byKey[e.IdempotencyKey] = len(t.acct.events) - 1
	}
	t.acct.balance = next
	return e, nil
}
