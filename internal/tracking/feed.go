package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// FeedResult counts what happened to each vehicle entity of a GTFS-RT feed.
type FeedResult struct {
	Ingested int `json:"ingested"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// IngestFeed decodes a GTFS-Realtime FeedMessage and routes every
// VehiclePosition to the active session of its vehicle. Vehicles without an
// active session are skipped; nothing is started implicitly.
func (m *Manager) IngestFeed(ctx context.Context, raw []byte) (FeedResult, error) {
	var feed gtfsrt.FeedMessage
	if err := proto.Unmarshal(raw, &feed); err != nil {
		return FeedResult{}, fmt.Errorf("%w: decode feed: %v", ErrInvalidInput, err)
	}

	headerTS := feed.GetHeader().GetTimestamp()
	var result FeedResult
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		vehicleID := vp.GetVehicle().GetId()
		if vehicleID == "" {
			result.Skipped++
			continue
		}
		session, ok := m.GetActiveForVehicle(vehicleID)
		if !ok {
			result.Skipped++
			continue
		}

		_, _, err := m.IngestPosition(ctx, session.ID, positionFromFeed(vp, headerTS))
		switch {
		case err == nil:
			result.Ingested++
		case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrNotFound):
			result.Skipped++
		default:
			result.Rejected++
			m.logger.Warn("feed position rejected",
				zap.String("vehicle_id", vehicleID),
				zap.String("entity_id", entity.GetId()),
				zap.Error(err))
		}
	}
	return result, nil
}

func positionFromFeed(vp *gtfsrt.VehiclePosition, headerTS uint64) PositionInput {
	pos := vp.GetPosition()
	input := PositionInput{
		Latitude:  float64(pos.GetLatitude()),
		Longitude: float64(pos.GetLongitude()),
	}
	if pos.Speed != nil {
		speed := float64(pos.GetSpeed())
		input.Speed = &speed
	}
	if pos.Bearing != nil {
		heading := float64(pos.GetBearing())
		input.Heading = &heading
	}

	ts := vp.GetTimestamp()
	if ts == 0 {
		ts = headerTS
	}
	if ts > 0 {
		input.RecordedAt = time.Unix(int64(ts), 0).UTC()
	}
	return input
}
