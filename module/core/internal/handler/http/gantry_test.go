package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
)

type mockGantryRegistry struct {
	swapFn   func(gantries []domain.Gantry) error
	gantries []domain.Gantry
}

func (m *mockGantryRegistry) Swap(gantries []domain.Gantry) error {
	if m.swapFn != nil {
		if err := m.swapFn(gantries); err != nil {
			return err
		}
	}
	m.gantries = gantries
	return nil
}

func (m *mockGantryRegistry) Gantries() []domain.Gantry { return m.gantries }

func setupGantryRouter(registry gantryRegistry, load GantryLoader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewGantryHandler(registry, load).Register(r.Group(""))
	return r
}

var testGantries = []domain.Gantry{
	{ID: "GANTRY_001", Lat: -6.2088, Lon: 106.8456, RadiusMeters: 50, Price: decimal.NewFromInt(5), Lanes: 4},
}

func TestListGantries(t *testing.T) {
	r := setupGantryRouter(&mockGantryRegistry{gantries: testGantries}, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/gantries", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp []gantryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp) != 1 || resp[0].GantryID != "GANTRY_001" || resp[0].Price != "5.00" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReloadGantries(t *testing.T) {
	tests := []struct {
		name     string
		loadErr  error
		swapErr  error
		expected int
	}{
		{"swapped", nil, nil, http.StatusOK},
		{"load failure", errors.New("file not found"), nil, http.StatusInternalServerError},
		{"invalid set", nil, domain.ErrInvalidGantry, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &mockGantryRegistry{
				swapFn: func([]domain.Gantry) error { return tt.swapErr },
			}
			load := func() ([]domain.Gantry, error) {
				if tt.loadErr != nil {
					return nil, tt.loadErr
				}
				return testGantries, nil
			}

			r := setupGantryRouter(registry, load)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/gantries/reload", nil)
			r.ServeHTTP(w, req)

			if w.Code != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, w.Code)
			}
			if tt.expected == http.StatusOK && len(registry.gantries) != 1 {
				t.Errorf("expected registry to hold the loaded set")
			}
			if tt.expected != http.StatusOK && registry.gantries != nil {
				t.Errorf("expected registry unchanged")
			}
		})
	}
}
