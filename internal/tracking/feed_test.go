package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

func vehicleEntity(id, vehicleID string, lat, lng float32, ts uint64) *gtfsrt.FeedEntity {
	vp := &gtfsrt.VehiclePosition{
		Position: &gtfsrt.Position{Latitude: proto.Float32(lat), Longitude: proto.Float32(lng)},
	}
	if vehicleID != "" {
		vp.Vehicle = &gtfsrt.VehicleDescriptor{Id: proto.String(vehicleID)}
	}
	if ts > 0 {
		vp.Timestamp = proto.Uint64(ts)
	}
	return &gtfsrt.FeedEntity{Id: proto.String(id), Vehicle: vp}
}

func encodeFeed(t *testing.T, headerTS uint64, entities ...*gtfsrt.FeedEntity) []byte {
	t.Helper()
	raw, err := proto.Marshal(&gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(headerTS),
		},
		Entity: entities,
	})
	if err != nil {
		t.Fatalf("marshal feed: %v", err)
	}
	return raw
}

func TestIngestFeedRoutesToActiveSessions(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()
	session, _ := m.Start(ctx, StartRequest{VehicleID: "bus-1"})

	headerTS := uint64(base.Add(time.Minute).Unix())
	raw := encodeFeed(t, headerTS,
		vehicleEntity("e1", "bus-1", 48.8566, 2.3522, uint64(base.Add(30*time.Second).Unix())),
		vehicleEntity("e2", "bus-1", 48.8570, 2.3530, 0),
		vehicleEntity("e3", "bus-9", 1, 1, 0),
		vehicleEntity("e4", "", 1, 1, 0),
		&gtfsrt.FeedEntity{Id: proto.String("alert"), Alert: &gtfsrt.Alert{}},
	)

	result, err := m.IngestFeed(ctx, raw)
	if err != nil {
		t.Fatalf("ingest feed: %v", err)
	}
	if result.Ingested != 2 || result.Skipped != 2 || result.Rejected != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, _ := m.GetByID(ctx, session.ID)
	if got.PositionsCount != 2 || got.TotalDistanceM < 70 || got.TotalDistanceM > 90 {
		t.Fatalf("unexpected session after feed: %+v", got)
	}
	if !got.LastPositionAt.Equal(time.Unix(int64(headerTS), 0)) {
		t.Fatalf("expected header timestamp fallback, got %v", got.LastPositionAt)
	}
}

func TestIngestFeedRejectsOutOfRange(t *testing.T) {
	m, _, _, _ := newTestManager()
	ctx := context.Background()
	m.Start(ctx, StartRequest{VehicleID: "bus-1"})

	result, err := m.IngestFeed(ctx, encodeFeed(t, 0, vehicleEntity("e1", "bus-1", 95, 0, 0)))
	if err != nil {
		t.Fatalf("ingest feed: %v", err)
	}
	if result.Rejected != 1 || result.Ingested != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestIngestFeedInvalidPayload(t *testing.T) {
	m, _, _, _ := newTestManager()
	if _, err := m.IngestFeed(context.Background(), []byte{0xff, 0xff, 0xff}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPositionFromFeedOptionalFields(t *testing.T) {
	vp := &gtfsrt.VehiclePosition{
		Position: &gtfsrt.Position{
			Latitude:  proto.Float32(10),
			Longitude: proto.Float32(20),
			Speed:     proto.Float32(5),
			Bearing:   proto.Float32(180),
		},
	}
	input := positionFromFeed(vp, 0)
	if input.Speed == nil || *input.Speed != 5 || input.Heading == nil || *input.Heading != 180 {
		t.Fatalf("unexpected kinematics: %+v", input)
	}
	if !input.RecordedAt.IsZero() {
		t.Fatalf("expected zero time without timestamps")
	}
}
