package domain

import "time"

type PositionFix struct {
	DeviceID  string    `json:"vehicle_id"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
}
