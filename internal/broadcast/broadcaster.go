package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"backend-fleettrack/internal/fleet"
	"backend-fleettrack/internal/stream"
	"backend-fleettrack/internal/tracking"

	"go.uber.org/zap"
)

// PositionUpdate is the live position pushed to viewers of a vehicle.
type PositionUpdate struct {
	VehicleID      string    `json:"vehicle_id"`
	SessionID      string    `json:"session_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Speed          *float64  `json:"speed,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	Altitude       *float64  `json:"altitude,omitempty"`
	Accuracy       *float64  `json:"accuracy,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	PositionsCount int       `json:"positions_count"`
	TotalDistanceM float64   `json:"total_distance_m"`

	PlateNumber string `json:"plate_number,omitempty"`
	VehicleType string `json:"vehicle_type,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Model       string `json:"model,omitempty"`
	DriverID    string `json:"driver_id,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
	DriverPhone string `json:"driver_phone,omitempty"`
	MissionID   string `json:"mission_id,omitempty"`
}

// Sender fans a payload out to everyone watching a vehicle.
type Sender interface {
	Broadcast(vehicleID string, payload []byte)
}

// Broadcaster turns accepted positions and session events into viewer
// messages. It never fails the ingest path.
type Broadcaster struct {
	hub    Sender
	lookup fleet.Lookup
	logger *zap.Logger
}

func New(hub Sender, lookup fleet.Lookup, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{hub: hub, lookup: lookup, logger: logger}
}

func (b *Broadcaster) PublishPosition(ctx context.Context, session tracking.Session, sample tracking.PositionSample) {
	update := PositionUpdate{
		VehicleID:      sample.VehicleID,
		SessionID:      session.ID,
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		Speed:          sample.Speed,
		Heading:        sample.Heading,
		Altitude:       sample.Altitude,
		Accuracy:       sample.Accuracy,
		Timestamp:      sample.RecordedAt,
		PositionsCount: session.PositionsCount,
		TotalDistanceM: session.TotalDistanceM,
	}
	b.enrich(ctx, &update)

	applySession(&update, session)

	b.send(sample.VehicleID, stream.Message{
		Type:      stream.TypePositionUpdate,
		VehicleID: sample.VehicleID,
		Data:      update,
	})
}

// applySession lets the session's own driver and mission override the
// vehicle defaults field by field. A different driver than the assigned one
// drops the assigned driver's contact details.
func applySession(update *PositionUpdate, session tracking.Session) {
	if session.DriverID != "" && session.DriverID != update.DriverID {
		update.DriverID = session.DriverID
		update.DriverName = ""
		update.DriverPhone = ""
	}
	if session.DriverName != "" {
		update.DriverName = session.DriverName
	}
	if session.DriverPhone != "" {
		update.DriverPhone = session.DriverPhone
	}
	if session.MissionID != "" {
		update.MissionID = session.MissionID
	}
}

func (b *Broadcaster) PublishEvent(_ context.Context, event tracking.Event) {
	b.send(event.Session.VehicleID, stream.Message{
		Type:      stream.TypeTrackingEvent,
		Action:    string(event.Type),
		VehicleID: event.Session.VehicleID,
		Data:      event,
	})
}

func (b *Broadcaster) enrich(ctx context.Context, update *PositionUpdate) {
	if b.lookup == nil {
		return
	}
	profile, err := b.lookup.Profile(ctx, update.VehicleID)
	if err != nil {
		b.logger.Warn("position sent without vehicle profile",
			zap.String("vehicle_id", update.VehicleID), zap.Error(err))
		return
	}
	update.PlateNumber = profile.PlateNumber
	update.VehicleType = profile.VehicleType
	update.Brand = profile.Brand
	update.Model = profile.Model
	update.DriverID = profile.DriverID
	update.DriverName = profile.DriverName
	update.DriverPhone = profile.DriverPhone
	update.MissionID = profile.MissionID
}

func (b *Broadcaster) send(vehicleID string, msg stream.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to encode viewer message",
			zap.String("vehicle_id", vehicleID), zap.String("type", msg.Type), zap.Error(err))
		return
	}
	b.hub.Broadcast(vehicleID, payload)
}
