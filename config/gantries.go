package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/nandanugg/tollgate/module/core/domain"
)

// DefaultGantries is used when GANTRY_FILE is not set.
var DefaultGantries = []domain.Gantry{
	{ID: "GANTRY_001", Lat: -6.2088, Lon: 106.8456, RadiusMeters: 50, Price: decimal.RequireFromString("5.00"), Lanes: 4},
}

type gantryFileEntry struct {
	GantryID     string          `json:"gantry_id"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	RadiusMeters float64         `json:"radius_meters"`
	Price        decimal.Decimal `json:"price"`
	Lanes        int             `json:"lanes"`
}

// LoadGantries reads the gantry list. Validation happens when the index is built.
func LoadGantries(path string) ([]domain.Gantry, error) {
	if path == "" {
		return DefaultGantries, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gantry file: %w", err)
	}

	var entries []gantryFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse gantry file %s: %w", path, err)
	}

	gantries := make([]domain.Gantry, len(entries))
	for i, e := range entries {
		gantries[i] = domain.Gantry{
			ID:           e.GantryID,
			Lat:          e.Latitude,
			Lon:          e.Longitude,
			RadiusMeters: e.RadiusMeters,
			Price:        e.Price,
			Lanes:        e.Lanes,
		}
	}
	return gantries, nil
}
