package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/tollgate/module/core/domain"
)

func newRecord(device string, at time.Time) *domain.TollRecord {
	return &domain.TollRecord{DeviceID: device, GantryID: "GANTRY_001", CrossedAt: at, Price: decimal.NewFromInt(5)}
}

func TestTollRepo_CreateAssignsIDAndStatus(t *testing.T) {
	repo := NewTollRepo()
	in := newRecord("B1234XYZ", time.Unix(1715003456, 0))
	in.Status = domain.TollSettled

	rec, err := repo.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, domain.TollCreated, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestTollRepo_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewTollRepo()
	at := time.Unix(1715003456, 0)

	first, err := repo.Create(ctx, newRecord("B1234XYZ", at))
	require.NoError(t, err)

	dup, err := repo.Create(ctx, newRecord("B1234XYZ", at))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Equal(t, first.ID, dup.ID)

	other, err := repo.Create(ctx, newRecord("B1234XYZ", at.Add(time.Second)))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestTollRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewTollRepo()
	rec, err := repo.Create(ctx, newRecord("B1234XYZ", time.Unix(1715003456, 0)))
	require.NoError(t, err)

	next, err := repo.UpdateStatus(ctx, rec.ID, domain.TollCreated, domain.TollSettling, domain.StatusChange{CountAttempt: true})
	require.NoError(t, err)
	assert.Equal(t, domain.TollSettling, next.Status)
	assert.Equal(t, 1, next.Attempts)

	_, err = repo.UpdateStatus(ctx, rec.ID, domain.TollCreated, domain.TollSettling, domain.StatusChange{})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = repo.UpdateStatus(ctx, rec.ID, domain.TollSettling, domain.TollSettled, domain.StatusChange{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.UpdateStatus(ctx, 99, domain.TollCreated, domain.TollSettling, domain.StatusChange{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	done, err := repo.UpdateStatus(ctx, rec.ID, domain.TollSettling, domain.TollSettled, domain.StatusChange{Reference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", done.Reference)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TollSettled, got.Status)
}

func TestTollRepo_ListByStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewTollRepo()
	at := time.Unix(1715003456, 0)
	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, newRecord("B1234XYZ", at.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, err := repo.UpdateStatus(ctx, 3, domain.TollCreated, domain.TollSettling, domain.StatusChange{})
	require.NoError(t, err)

	created, err := repo.ListByStatus(ctx, domain.TollCreated, 0)
	require.NoError(t, err)
	require.Len(t, created, 4)
	assert.Equal(t, []int64{1, 2, 4, 5}, []int64{created[0].ID, created[1].ID, created[2].ID, created[3].ID})

	limited, err := repo.ListByStatus(ctx, domain.TollCreated, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
