package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/database/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T, deposits map[string]string) *LedgerService {
	t.Helper()
	svc := NewLedgerService(memory.NewLedgerRepo(), nil)
	for vehicle, amount := range deposits {
		_, err := svc.Deposit(context.Background(), vehicle, dec(amount))
		require.NoError(t, err)
	}
	return svc
}

func TestLedger_DebitReducesBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "100.00"})

	ref, err := svc.Debit(ctx, "B1234XYZ", dec("25.00"), "toll-1")
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("75.00")), "balance %s", bal.Balance)
	assert.Equal(t, int64(2), bal.Version)
}

func TestLedger_DebitIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "100.00"})

	first, err := svc.Debit(ctx, "B1234XYZ", dec("25.00"), "toll-1")
	require.NoError(t, err)
	second, err := svc.Debit(ctx, "B1234XYZ", dec("25.00"), "toll-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("75.00")), "balance %s", bal.Balance)

	events, err := svc.Events(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLedger_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "10.00"})

	_, err := svc.Debit(ctx, "B1234XYZ", dec("15.00"), "toll-1")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("10.00")), "balance %s", bal.Balance)

	// a rejected debit does not consume the key
	found, ok, err := svc.Lookup(ctx, "B1234XYZ", "toll-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, found)
}

func TestLedger_UnknownVehicleHasZeroBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, nil)

	_, err := svc.Debit(ctx, "NOBODY", dec("1.00"), "toll-1")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// a zero debit always fits
	_, err = svc.Debit(ctx, "NOBODY", decimal.Zero, "toll-2")
	require.NoError(t, err)
}

func TestLedger_RejectsNegativeAmounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, nil)

	_, err := svc.Debit(ctx, "B1234XYZ", dec("-1"), "toll-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Deposit(ctx, "B1234XYZ", dec("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, "B1234XYZ", dec("1"), "")
	assert.Error(t, err)
}

func TestLedger_RejectsSubCentAmounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, nil)

	_, err := svc.Deposit(ctx, "B1234XYZ", dec("0.004"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, "B1234XYZ", dec("1.001"), "toll-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	// trailing zeros are not extra precision
	_, err = svc.Deposit(ctx, "B1234XYZ", dec("5.000"))
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("5.00")), "balance %s", bal.Balance)
}

func TestLedger_Lookup(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "50.00"})

	ref, err := svc.Debit(ctx, "B1234XYZ", dec("5.00"), "toll-7")
	require.NoError(t, err)

	found, ok, err := svc.Lookup(ctx, "B1234XYZ", "toll-7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ref, found)

	_, ok, err = svc.Lookup(ctx, "B1234XYZ", "toll-8")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "100.00"})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, "B1234XYZ", dec("7.00"), fmt.Sprintf("toll-%d", i))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// 14 * 7.00 = 98.00
	assert.Equal(t, 14, success)

	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("2.00")), "balance %s", bal.Balance)
	assert.False(t, bal.Balance.IsNegative())
}

func TestLedger_ConcurrentSameKeyDebitsOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "100.00"})

	refs := make([]string, 20)
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := svc.Debit(ctx, "B1234XYZ", dec("25.00"), "toll-1")
			assert.NoError(t, err)
			refs[i] = ref
		}(i)
	}
	wg.Wait()

	for _, ref := range refs {
		assert.Equal(t, refs[0], ref)
	}
	bal, err := svc.Balance(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("75.00")), "balance %s", bal.Balance)
}

func TestLedger_ReplayMatchesBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestLedger(t, map[string]string{"B1234XYZ": "40.00"})

	_, err := svc.Debit(ctx, "B1234XYZ", dec("12.50"), "toll-1")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "B1234XYZ", dec("2.50"))
	require.NoError(t, err)

	folded, err := svc.Replay(ctx, "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, folded.Balance.Equal(dec("30.00")), "balance %s", folded.Balance)
	assert.Equal(t, int64(3), folded.Version)
}
