package tracking

import "time"

type State string

const (
	StateActive   State = "active"
	StateStopped  State = "stopped"
	StateInactive State = "inactive"
)

// Session is one continuous tracking period of a vehicle. EndedAt is only set
// by an explicit stop; a timed out session is inactive with EndedAt nil.
type Session struct {
	ID          string     `json:"id"`
	VehicleID   string     `json:"vehicle_id"`
	DriverID    string     `json:"driver_id,omitempty"`
	DriverName  string     `json:"driver_name,omitempty"`
	DriverPhone string     `json:"driver_phone,omitempty"`
	MissionID   string     `json:"mission_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Active      bool       `json:"active"`
	State       State      `json:"state"`

	LastLatitude   *float64   `json:"last_latitude,omitempty"`
	LastLongitude  *float64   `json:"last_longitude,omitempty"`
	LastSpeed      *float64   `json:"last_speed,omitempty"`
	LastHeading    *float64   `json:"last_heading,omitempty"`
	LastPositionAt *time.Time `json:"last_position_at,omitempty"`
	PositionsCount int        `json:"positions_count"`
	TotalDistanceM float64    `json:"total_distance_m"`
}

// LastActivity is the time the sweep measures silence from.
func (s Session) LastActivity() time.Time {
	if s.LastPositionAt != nil {
		return *s.LastPositionAt
	}
	return s.StartedAt
}

type PositionSample struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	VehicleID  string    `json:"vehicle_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type StartRequest struct {
	VehicleID   string `json:"vehicle_id" validate:"required,max=64"`
	DriverID    string `json:"driver_id" validate:"max=64"`
	DriverName  string `json:"driver_name" validate:"max=120"`
	DriverPhone string `json:"driver_phone" validate:"max=32"`
	MissionID   string `json:"mission_id" validate:"max=64"`
}

type PositionInput struct {
	Latitude   float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude   *float64  `json:"altitude"`
	Speed      *float64  `json:"speed" validate:"omitempty,gte=0"`
	Heading    *float64  `json:"heading" validate:"omitempty,gte=0,lt=360"`
	Accuracy   *float64  `json:"accuracy" validate:"omitempty,gte=0"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Summary struct {
	SessionID     string  `json:"session_id"`
	VehicleID     string  `json:"vehicle_id"`
	State         State   `json:"state"`
	PointCount    int     `json:"point_count"`
	DistanceM     float64 `json:"distance_m"`
	DurationSec   int64   `json:"duration_sec"`
	AverageSpeedM float64 `json:"average_speed_mps"`
}

type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventSessionStopped  EventType = "session_stopped"
	EventSessionTimedOut EventType = "session_timed_out"
)

type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Session Session   `json:"session"`
}
