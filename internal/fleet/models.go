package fleet

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("vehicle not found")

// Profile is the display data attached to live positions of a vehicle.
type Profile struct {
	VehicleID   string `json:"vehicle_id"`
	PlateNumber string `json:"plate_number"`
	VehicleType string `json:"vehicle_type,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Model       string `json:"model,omitempty"`
	DriverID    string `json:"driver_id,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
	DriverPhone string `json:"driver_phone,omitempty"`
	MissionID   string `json:"mission_id,omitempty"`
}

// Lookup resolves the profile of a vehicle.
type Lookup interface {
	Profile(ctx context.Context, vehicleID string) (Profile, error)
}
