package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/service"
)

var pipelineGantries = []domain.Gantry{
	{ID: "GANTRY_001", Lat: -6.2088, Lon: 106.8456, RadiusMeters: 50, Price: decimal.RequireFromString("5.00"), Lanes: 4},
}

func TestModule_FixesToSettledToll(t *testing.T) {
	m, err := Build(context.Background(), Deps{
		Gantries:     pipelineGantries,
		LoadGantries: func() ([]domain.Gantry, error) { return pipelineGantries, nil },
		Shards:       4,
		Settlement:   service.DefaultSettlementConfig(),
	})
	require.NoError(t, err)

	_, err = m.Ledger.Deposit(context.Background(), "B1234XYZ", decimal.RequireFromString("20.00"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t0 := time.Unix(1715003456, 0)
	fixes := []struct {
		lat float64
		dt  time.Duration
	}{
		{-6.2188, 0},
		{-6.2088, 10 * time.Second},
		{-6.1988, 20 * time.Second},
	}
	for _, f := range fixes {
		require.NoError(t, m.Router.Route(ctx, domain.PositionFix{
			DeviceID:  "B1234XYZ",
			Timestamp: t0.Add(f.dt),
			Lat:       f.lat,
			Lon:       106.8456,
		}))
	}

	assert.Eventually(t, func() bool {
		settled, err := m.Tolls.ListByStatus(context.Background(), domain.TollSettled, 0)
		return err == nil && len(settled) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	bal, err := m.Ledger.Balance(context.Background(), "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.RequireFromString("15.00")), "balance %s", bal.Balance)
}

func TestModule_ResumesUnfinishedTollsAlongsideLiveFixes(t *testing.T) {
	m, err := Build(context.Background(), Deps{
		Gantries:   pipelineGantries,
		Shards:     2,
		Settlement: service.DefaultSettlementConfig(),
	})
	require.NoError(t, err)

	_, err = m.Ledger.Deposit(context.Background(), "B1234XYZ", decimal.RequireFromString("20.00"))
	require.NoError(t, err)
	left, err := m.Tolls.Create(context.Background(), &domain.TollRecord{
		DeviceID:  "B1234XYZ",
		GantryID:  "GANTRY_001",
		CrossedAt: time.Unix(1715000000, 0),
		Price:     decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t0 := time.Unix(1715003456, 0)
	for i, lat := range []float64{-6.2188, -6.2088, -6.1988} {
		require.NoError(t, m.Router.Route(ctx, domain.PositionFix{
			DeviceID:  "B1234XYZ",
			Timestamp: t0.Add(time.Duration(i) * 10 * time.Second),
			Lat:       lat,
			Lon:       106.8456,
		}))
	}

	assert.Eventually(t, func() bool {
		settled, err := m.Tolls.ListByStatus(context.Background(), domain.TollSettled, 0)
		return err == nil && len(settled) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	rec, err := m.Tolls.Get(context.Background(), left.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TollSettled, rec.Status)
	bal, err := m.Ledger.Balance(context.Background(), "B1234XYZ")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.RequireFromString("10.00")), "balance %s", bal.Balance)
}

func TestModule_RegisterRoutes(t *testing.T) {
	m, err := Build(context.Background(), Deps{
		Gantries:     pipelineGantries,
		LoadGantries: func() ([]domain.Gantry, error) { return pipelineGantries, nil },
	})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	m.RegisterRoutes(r.Group(""))

	for _, path := range []string{"/gantries", "/tolls", "/vehicles/B1234XYZ/balance", "/vehicles/B1234XYZ/ledger"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestBuild_InvalidGantries(t *testing.T) {
	_, err := Build(context.Background(), Deps{
		Gantries: []domain.Gantry{{ID: "", RadiusMeters: 10}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidGantry)
}
