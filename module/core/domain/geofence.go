package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gantry is a toll collection point with a circular detection zone.
type Gantry struct {
	ID           string          `json:"gantry_id"`
	Lat          float64         `json:"latitude"`
	Lon          float64         `json:"longitude"`
	RadiusMeters float64         `json:"radius_meters"`
	Price        decimal.Decimal `json:"price"`
	Lanes        int             `json:"lanes"`
}

// GeofenceState tracks one device against one gantry.
type GeofenceState struct {
	Inside       bool
	ChangedAt    time.Time
	LastCrossing time.Time
	// Crossings counts emissions inside the current cooldown window.
	Crossings int
}

// Crossing is emitted on an outside to inside transition.
type Crossing struct {
	DeviceID  string          `json:"vehicle_id"`
	GantryID  string          `json:"gantry_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Lat       float64         `json:"latitude"`
	Lon       float64         `json:"longitude"`
}
